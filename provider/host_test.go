package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/backend"
	"github.com/Paranoid-AF/ghostline/budget"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/store"
)

func newTestHost(b generate.Backend) *Host {
	s := store.New(nil, "")
	engine := generate.NewEngine(b, s)
	gatherer := generate.NewGatherer(nil, 0)
	cursors := NewCursorTracker()
	return &Host{
		Store:      s,
		Budget:     budget.New(3),
		Provider:   New(s, engine, gatherer, cursors, fastOpts),
		Prefetcher: NewPrefetcher(engine, gatherer, fastOpts),
		Documents:  NewDocuments(),
		Cursors:    cursors,
	}
}

func TestHostCompleteTracksCursor(t *testing.T) {
	h := newTestHost(&fakeBackend{candidates: []backend.Candidate{{Code: "return nil", Priority: 1}}})
	doc := generate.Document{SourceID: "a.go", Text: "ret"}

	items := h.Complete(context.Background(), doc, ghostline.Position{Column: 3})
	require.Len(t, items, 1)
	assert.Equal(t, "return nil", items[0].Text)

	pos, ok := h.Cursors.Cursor("a.go")
	require.True(t, ok)
	assert.Equal(t, ghostline.Position{Column: 3}, pos)
}

func TestHostEditedPrefetches(t *testing.T) {
	h := newTestHost(&fakeBackend{candidates: []backend.Candidate{{Code: "return err", Priority: 1}}})
	doc := generate.Document{SourceID: "a.go", Text: "ret"}

	h.Edited(doc, ghostline.Position{Column: 3}, Edit{Inserted: "t", Offset: 2})
	h.Wait()

	assert.Len(t, h.Store.Lookup("a.go", "ret"), 1)
}

func TestHostExecute(t *testing.T) {
	h := newTestHost(&fakeBackend{})
	h.Store.Upsert("a.go", "fmt.Println()", false)

	st, err := h.Execute(ghostline.StatusCommand)
	require.NoError(t, err)
	assert.Equal(t, ghostline.Status{BudgetAvailable: 3, BudgetMax: 3, Suggestions: 1}, *st)

	st, err = h.Execute(ghostline.ClearCacheCommand)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Zero(t, h.Store.Len())

	_, err = h.Execute("nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestHostClosed(t *testing.T) {
	h := newTestHost(&fakeBackend{})
	h.Documents.Open(generate.Document{SourceID: "a.go"})
	h.Cursors.Update("a.go", ghostline.Position{Line: 1})

	h.Closed("a.go")
	_, ok := h.Documents.Get("a.go")
	assert.False(t, ok)
	_, ok = h.Cursors.Cursor("a.go")
	assert.False(t, ok)
}

type recordingInvalidator struct {
	paths []string
}

func (r *recordingInvalidator) Invalidate(path string) {
	r.paths = append(r.paths, path)
}

func TestHostSavedInvalidatesDiff(t *testing.T) {
	h := newTestHost(&fakeBackend{})
	h.Saved("a.go") // no diff cache

	diffs := &recordingInvalidator{}
	h.Diffs = diffs
	h.Documents.Open(generate.Document{SourceID: "file:///src/a.go", Path: "/src/a.go", Text: "x"})
	h.Documents.Open(generate.Document{SourceID: "scratch", Text: "y"})

	h.Saved("file:///src/a.go")
	h.Saved("scratch")
	h.Saved("unknown")

	assert.Equal(t, []string{"/src/a.go"}, diffs.paths)
}
