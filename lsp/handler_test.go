package lsp

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/backend"
	"github.com/Paranoid-AF/ghostline/budget"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/provider"
	"github.com/Paranoid-AF/ghostline/store"
)

type stubBackend struct {
	code string
}

func (b stubBackend) Complete(context.Context, backend.CompleteRequest, bool) ([]backend.Candidate, error) {
	return []backend.Candidate{{Code: b.code, Priority: 1}}, nil
}

func (b stubBackend) Merge(_ context.Context, prefix, candidate string) (string, error) {
	return prefix + candidate, nil
}

func (b stubBackend) Rerank(_ context.Context, req backend.RerankRequest) ([]backend.Ranked, error) {
	return req.Suggestions, nil
}

func newTestHandler(code string) *Handler {
	s := store.New(nil, "")
	engine := generate.NewEngine(stubBackend{code: code}, s)
	gatherer := generate.NewGatherer(nil, 0)
	cursors := provider.NewCursorTracker()
	opts := provider.Options{Enabled: true, Debounce: time.Millisecond, TypingDebounce: time.Millisecond}
	host := &provider.Host{
		Store:      s,
		Budget:     budget.New(2),
		Provider:   provider.New(s, engine, gatherer, cursors, opts),
		Prefetcher: provider.NewPrefetcher(engine, gatherer, opts),
		Documents:  provider.NewDocuments(),
		Cursors:    cursors,
	}
	return NewHandler(host, "test")
}

func open(t *testing.T, h *Handler, uri, text string) {
	t.Helper()
	require.NoError(t, h.TextDocumentDidOpen(nil, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: protocol.DocumentUri(uri), LanguageID: "go", Text: text},
	}))
}

func TestInitializeAdvertisesCommands(t *testing.T) {
	h := newTestHandler("")
	res, err := h.Initialize(nil, &protocol.InitializeParams{})
	require.NoError(t, err)

	result := res.(protocol.InitializeResult)
	require.NotNil(t, result.Capabilities.ExecuteCommandProvider)
	assert.Contains(t, result.Capabilities.ExecuteCommandProvider.Commands, ghostline.ClearCacheCommand)
	assert.NotNil(t, result.Capabilities.CompletionProvider)
	assert.Equal(t, "ghostline", result.ServerInfo.Name)
}

func TestCompletionReturnsTextEdit(t *testing.T) {
	h := newTestHandler("return nil")
	open(t, h, "file:///tmp/a.go", "func f() error {\n\tret\n}")

	res, err := h.TextDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///tmp/a.go"},
			Position:     protocol.Position{Line: 1, Character: 4},
		},
	})
	require.NoError(t, err)

	list := res.(protocol.CompletionList)
	require.Len(t, list.Items, 1)
	item := list.Items[0]
	assert.Equal(t, "return nil", item.Label)
	require.NotNil(t, item.Command)
	assert.Equal(t, ghostline.ClearCacheCommand, item.Command.Command)

	edit := item.TextEdit.(protocol.TextEdit)
	assert.Equal(t, "return nil", edit.NewText)
	assert.Equal(t, protocol.Position{Line: 1, Character: 1}, edit.Range.Start)
	assert.Equal(t, protocol.Position{Line: 1, Character: 4}, edit.Range.End)
}

func TestCompletionUnknownDocument(t *testing.T) {
	h := newTestHandler("x")
	res, err := h.TextDocumentCompletion(nil, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///nope.go"},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDidChangePrefetches(t *testing.T) {
	h := newTestHandler("return err")
	open(t, h, "file:///tmp/a.go", "re")

	require.NoError(t, h.TextDocumentDidChange(nil, &protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///tmp/a.go"}},
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: "ret"}},
	}))
	h.host.Wait()

	pos, ok := h.host.Cursors.Cursor("file:///tmp/a.go")
	require.True(t, ok)
	assert.Equal(t, ghostline.Position{Column: 3}, pos)
	assert.Len(t, h.host.Store.Lookup("file:///tmp/a.go", "ret"), 1)
}

func TestExecuteCommand(t *testing.T) {
	h := newTestHandler("")
	h.host.Store.Upsert("a.go", "x := 1", false)

	res, err := h.WorkspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: ghostline.StatusCommand})
	require.NoError(t, err)
	assert.Equal(t, 1, res.(*ghostline.Status).Suggestions)

	_, err = h.WorkspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: ghostline.ClearCacheCommand})
	require.NoError(t, err)
	assert.Zero(t, h.host.Store.Len())

	_, err = h.WorkspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: "bogus"})
	assert.ErrorIs(t, err, provider.ErrUnknownCommand)
}

func TestDidCloseForgetsDocument(t *testing.T) {
	h := newTestHandler("")
	open(t, h, "file:///tmp/a.go", "x")
	require.NoError(t, h.TextDocumentDidClose(nil, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///tmp/a.go"},
	}))
	_, ok := h.host.Documents.Get("file:///tmp/a.go")
	assert.False(t, ok)
}

func TestWebSocketInitialize(t *testing.T) {
	h := newTestHandler("")
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{},
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, "ghostline", resp.Result.ServerInfo.Name)
}

func TestColumns(t *testing.T) {
	line := "héllo 😀 x"
	assert.Equal(t, 0, byteColumn(line, 0))
	assert.Equal(t, 3, byteColumn(line, 2))
	// The emoji is two UTF-16 units and four bytes.
	assert.Equal(t, 11, byteColumn(line, 8))
	assert.Equal(t, len(line), byteColumn(line, 100))

	assert.Equal(t, 2, utf16Column(line, 3))
	assert.Equal(t, 8, utf16Column(line, 11))
}

func TestPositionAt(t *testing.T) {
	text := "ab\ncd\n"
	assert.Equal(t, ghostline.Position{}, positionAt(text, 0))
	assert.Equal(t, ghostline.Position{Line: 1, Column: 1}, positionAt(text, 4))
	assert.Equal(t, ghostline.Position{Line: 2}, positionAt(text, len(text)))
	assert.Equal(t, ghostline.Position{Line: 2}, positionAt(text, 99))
}

func TestURIPath(t *testing.T) {
	assert.Equal(t, "/tmp/my file.go", uriPath("file:///tmp/my%20file.go"))
	assert.Equal(t, "", uriPath("untitled:Untitled-1"))
}

func TestEditRangeStaysOnOneLine(t *testing.T) {
	pos := ghostline.Position{Line: 1, Column: 4}
	start := ghostline.Position{Line: 1, Column: 1}
	tests := []struct {
		name string
		end  ghostline.Position
		want ghostline.Position
	}{
		{"cursor unchanged", pos, pos},
		{"cursor moved right", ghostline.Position{Line: 1, Column: 6}, ghostline.Position{Line: 1, Column: 6}},
		{"cursor moved to next line", ghostline.Position{Line: 2, Column: 0}, pos},
		{"cursor moved to previous line", ghostline.Position{Line: 0, Column: 9}, pos},
		{"cursor moved before prefix", ghostline.Position{Line: 1, Column: 0}, ghostline.Position{Line: 1, Column: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := editRange(ghostline.Range{Start: start, End: tt.end}, pos)
			assert.Equal(t, start, got.Start)
			assert.Equal(t, tt.want, got.End)
		})
	}
}

func TestCompletionEditIgnoresCursorOnOtherLine(t *testing.T) {
	h := newTestHandler("return nil")
	open(t, h, "file:///tmp/a.go", "func f() error {\n\tret\n}")
	doc, _ := h.host.Documents.Get("file:///tmp/a.go")

	items := []ghostline.Item{{
		Text:  "return nil",
		Range: ghostline.Range{Start: ghostline.Position{Line: 1, Column: 1}, End: ghostline.Position{Line: 2, Column: 1}},
	}}
	list := completionList(doc, ghostline.Position{Line: 1, Column: 4}, items)

	edit := list.Items[0].TextEdit.(protocol.TextEdit)
	assert.Equal(t, protocol.Position{Line: 1, Character: 1}, edit.Range.Start)
	assert.Equal(t, protocol.Position{Line: 1, Character: 4}, edit.Range.End)
}

type recordingInvalidator struct {
	paths []string
}

func (r *recordingInvalidator) Invalidate(path string) {
	r.paths = append(r.paths, path)
}

func TestDidSaveInvalidatesDiff(t *testing.T) {
	h := newTestHandler("")
	diffs := &recordingInvalidator{}
	h.host.Diffs = diffs
	open(t, h, "file:///tmp/a.go", "package a")

	require.NoError(t, h.TextDocumentDidSave(nil, &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///tmp/a.go"},
	}))
	assert.Equal(t, []string{"/tmp/a.go"}, diffs.paths)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "if err != nil {…", label("if err != nil {\n\treturn err\n}"))
	assert.Equal(t, "x", label("x"))
}
