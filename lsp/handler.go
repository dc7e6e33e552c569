// Package lsp serves ghostline suggestions to editors over the Language Server
// Protocol.
package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/provider"
)

const serverName = "ghostline"

// Handler implements the LSP methods ghostline supports on top of a
// provider.Host.
type Handler struct {
	host    *provider.Host
	version string
}

// NewHandler creates a Handler for host. version is reported to clients.
func NewHandler(host *provider.Host, version string) *Handler {
	return &Handler{host: host, version: version}
}

// Protocol returns the glsp dispatch table for h.
func (h *Handler) Protocol() *protocol.Handler {
	return &protocol.Handler{
		Initialize:              h.Initialize,
		Initialized:             h.Initialized,
		Shutdown:                h.Shutdown,
		SetTrace:                h.SetTrace,
		TextDocumentDidOpen:     h.TextDocumentDidOpen,
		TextDocumentDidChange:   h.TextDocumentDidChange,
		TextDocumentDidSave:     h.TextDocumentDidSave,
		TextDocumentDidClose:    h.TextDocumentDidClose,
		TextDocumentCompletion:  h.TextDocumentCompletion,
		WorkspaceExecuteCommand: h.WorkspaceExecuteCommand,
	}
}

// Initialize handles the LSP initialize request.
func (h *Handler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	client := "unknown"
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
	}
	slog.Info("lsp client initializing", "client", client)

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: ptr(true),
			Change:    &syncKind,
			Save:      true,
		},
		CompletionProvider: &protocol.CompletionOptions{},
		ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
			Commands: []string{ghostline.ClearCacheCommand, ghostline.StatusCommand},
		},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    serverName,
			Version: ptr(h.version),
		},
	}, nil
}

func (h *Handler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (h *Handler) Shutdown(ctx *glsp.Context) error {
	slog.Info("lsp client shutting down")
	h.host.Wait()
	return nil
}

func (h *Handler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// TextDocumentDidOpen starts tracking a document.
func (h *Handler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	item := params.TextDocument
	h.host.Documents.Open(generate.Document{
		SourceID:   string(item.URI),
		LanguageID: item.LanguageID,
		Path:       uriPath(string(item.URI)),
		Text:       item.Text,
	})
	return nil
}

// TextDocumentDidChange applies a full-text change. The cursor is assumed to
// sit right after the inserted text, which is where typing leaves it.
func (h *Handler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	for _, change := range params.ContentChanges {
		whole, ok := change.(protocol.TextDocumentContentChangeEventWhole)
		if !ok {
			slog.Debug("ignoring incremental change", "uri", uri)
			continue
		}
		doc, edit, ok := h.host.Documents.Update(uri, whole.Text)
		if !ok {
			slog.Debug("change for unopened document", "uri", uri)
			continue
		}
		pos := positionAt(doc.Text, edit.Offset+len(edit.Inserted))
		h.host.Edited(doc, pos, edit)
	}
	return nil
}

// TextDocumentDidSave refreshes the diff context of the saved file.
func (h *Handler) TextDocumentDidSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	h.host.Saved(string(params.TextDocument.URI))
	return nil
}

// TextDocumentDidClose stops tracking a document.
func (h *Handler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	h.host.Closed(string(params.TextDocument.URI))
	return nil
}

// TextDocumentCompletion answers a completion request with ghostline's
// suggestions, best first.
func (h *Handler) TextDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := h.host.Documents.Get(string(params.TextDocument.URI))
	if !ok {
		return nil, nil
	}
	pos := fromProtocol(doc, params.Position)
	items := h.host.Complete(context.Background(), doc, pos)
	return completionList(doc, pos, items), nil
}

// WorkspaceExecuteCommand runs the clear-cache and status commands.
func (h *Handler) WorkspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	st, err := h.host.Execute(params.Command)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	return st, nil
}

func completionList(doc generate.Document, pos ghostline.Position, items []ghostline.Item) protocol.CompletionList {
	kind := protocol.CompletionItemKindText
	format := protocol.InsertTextFormatPlainText
	list := protocol.CompletionList{
		// Suggestions depend on the whole prefix, so clients must ask again.
		IsIncomplete: true,
		Items:        make([]protocol.CompletionItem, 0, len(items)),
	}
	for i, item := range items {
		r := editRange(item.Range, pos)
		ci := protocol.CompletionItem{
			Label:            label(item.Text),
			Kind:             &kind,
			Detail:           ptr(serverName),
			SortText:         ptr(fmt.Sprintf("%04d", i)),
			FilterText:       ptr(item.Text),
			InsertTextFormat: &format,
			TextEdit: protocol.TextEdit{
				Range: protocol.Range{
					Start: toProtocol(doc, r.Start),
					End:   toProtocol(doc, r.End),
				},
				NewText: item.Text,
			},
		}
		if item.Command != "" {
			ci.Command = &protocol.Command{Title: "Accept suggestion", Command: item.Command}
		}
		list.Items = append(list.Items, ci)
	}
	return list
}

// editRange keeps a completion edit on one line and covering pos. The live
// cursor may have left the line the suggestion was made for, in which case
// the edit ends at the requested position.
func editRange(r ghostline.Range, pos ghostline.Position) ghostline.Range {
	if r.End.Line != r.Start.Line {
		r.End = pos
	}
	if r.End.Line != r.Start.Line || r.End.Column < r.Start.Column {
		r.End = ghostline.Position{Line: r.Start.Line, Column: max(r.Start.Column, pos.Column)}
	}
	return r
}

// label is the first line of text.
func label(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i] + "…"
	}
	return text
}

// uriPath returns the filesystem path of a file URI, or "" for other schemes.
func uriPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return u.Path
}

func ptr[T any](v T) *T {
	return &v
}
