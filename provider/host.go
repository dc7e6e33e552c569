package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/budget"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/store"
)

// ErrUnknownCommand is returned by Host.Execute for unrecognized command ids.
var ErrUnknownCommand = errors.New("unknown command")

// DiffInvalidator drops cached diff context for a file on disk.
type DiffInvalidator interface {
	Invalidate(path string)
}

// Host bundles the pieces an editor adapter drives: the open documents, the
// cursor tracker, the provider and the prefetcher. The socket server and the
// language server both sit on top of one.
type Host struct {
	Store      *store.Store
	Budget     *budget.Budget
	Provider   *Provider
	Prefetcher *Prefetcher
	Documents  *Documents
	Cursors    *CursorTracker
	// Diffs is optional.
	Diffs DiffInvalidator

	wg sync.WaitGroup
}

// Complete records pos as the cursor of doc and returns the suggestions for it.
func (h *Host) Complete(ctx context.Context, doc generate.Document, pos ghostline.Position) []ghostline.Item {
	h.Cursors.Update(doc.SourceID, pos)
	return h.Provider.Provide(ctx, doc, pos)
}

// Edited records that edit left the cursor at pos in doc and starts a
// prefetch in the background.
func (h *Host) Edited(doc generate.Document, pos ghostline.Position, edit Edit) {
	h.Cursors.Update(doc.SourceID, pos)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.Prefetcher.OnEdit(context.Background(), doc, pos, edit); err != nil {
			slog.Debug("prefetch failed", "source", doc.SourceID, "error", err)
		}
	}()
}

// Saved drops the cached diff of sourceID so the next generation sees the
// file as it is on disk now.
func (h *Host) Saved(sourceID string) {
	doc, ok := h.Documents.Get(sourceID)
	if !ok || doc.Path == "" || h.Diffs == nil {
		return
	}
	h.Diffs.Invalidate(doc.Path)
	slog.Debug("diff invalidated", "source", sourceID, "path", doc.Path)
}

// Closed forgets everything known about sourceID.
func (h *Host) Closed(sourceID string) {
	h.Documents.Close(sourceID)
	h.Cursors.Forget(sourceID)
}

// Execute runs a user command. The status command returns the counters;
// other commands return nil.
func (h *Host) Execute(command string) (*ghostline.Status, error) {
	switch command {
	case ghostline.ClearCacheCommand:
		h.Store.Clear()
		slog.Debug("suggestion store cleared")
		return nil, nil
	case ghostline.StatusCommand:
		st := h.Status()
		return &st, nil
	default:
		return nil, errors.Wrapf(ErrUnknownCommand, "%q", command)
	}
}

// Status reports the budget and store counters.
func (h *Host) Status() ghostline.Status {
	st := ghostline.Status{Suggestions: h.Store.Len()}
	if h.Budget != nil {
		st.BudgetAvailable = h.Budget.Available()
		st.BudgetMax = h.Budget.Max()
	}
	return st
}

// Wait blocks until all background prefetches have returned.
func (h *Host) Wait() {
	h.wg.Wait()
}
