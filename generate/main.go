// Package generate turns a trigger context into ranked suggestions in the
// store, using the backend to complete, merge and rerank candidates.
package generate

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/ghostline/backend"
	"github.com/Paranoid-AF/ghostline/budget"
	"github.com/Paranoid-AF/ghostline/store"
)

// Backend is the subset of the backend client the engine needs.
type Backend interface {
	Complete(ctx context.Context, req backend.CompleteRequest, wait bool) ([]backend.Candidate, error)
	Merge(ctx context.Context, prefix, candidate string) (string, error)
	Rerank(ctx context.Context, req backend.RerankRequest) ([]backend.Ranked, error)
}

// Engine runs generations against a shared store.
type Engine struct {
	backend Backend
	store   *store.Store
}

// NewEngine creates an engine writing into s.
func NewEngine(b Backend, s *store.Store) *Engine {
	return &Engine{backend: b, store: s}
}

// Store returns the store the engine writes into.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Generate asks the backend for candidates at tc, keeps those that continue
// tc.Prefix, and reranks the document's suggestions. With wait unset the
// completion call fails fast with budget.ErrExceeded when no backend slot is
// free. On any error the store is left as it was.
func (e *Engine) Generate(ctx context.Context, tc TriggerContext, wait bool) error {
	err := e.generate(ctx, tc, wait)
	switch {
	case err == nil:
	case errors.Is(err, budget.ErrExceeded):
		slog.Debug("generation skipped, budget exhausted", "source", tc.SourceID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Debug("generation cancelled", "source", tc.SourceID)
	default:
		slog.Warn("generation failed", "source", tc.SourceID, "error", err)
	}
	return err
}

func (e *Engine) generate(ctx context.Context, tc TriggerContext, wait bool) error {
	candidates, err := e.backend.Complete(ctx, backend.CompleteRequest{
		LanguageID:     tc.LanguageID,
		FileName:       tc.FileName,
		Prefix:         tc.Prefix,
		PrecedingLines: tc.PrecedingLines,
		Diff:           tc.Diff,
	}, wait)
	if err != nil {
		return errors.Wrap(err, "complete")
	}
	slog.Debug("candidates received", "source", tc.SourceID, "count", len(candidates))

	completions, err := e.canonicalize(ctx, tc, candidates)
	if err != nil {
		return err
	}

	pending := e.store.Preview(tc.SourceID, completions, tc.LineStart)
	if len(pending) == 0 {
		return nil
	}

	req := backend.RerankRequest{
		LanguageID:     tc.LanguageID,
		FileName:       tc.FileName,
		PrecedingLines: tc.PrecedingLines,
		Suggestions:    make([]backend.Ranked, 0, len(pending)),
	}
	for _, p := range pending {
		req.Suggestions = append(req.Suggestions, backend.Ranked{Code: p.Completion, Weight: p.Weight})
	}
	ranked, err := e.backend.Rerank(ctx, req)
	if err != nil {
		return errors.Wrap(err, "rerank")
	}

	next := make([]store.Suggestion, 0, len(ranked))
	for _, r := range ranked {
		next = append(next, store.Suggestion{Completion: r.Code, Weight: r.Weight})
	}
	e.store.Commit(tc.SourceID, completions, tc.LineStart, next)
	slog.Debug("suggestions updated", "source", tc.SourceID, "stored", len(completions), "ranked", len(next))
	return nil
}

// canonicalize cleans every candidate and merges those that do not continue
// the prefix. Merge calls run concurrently; the first failure aborts all.
// Survivors keep the backend's order.
func (e *Engine) canonicalize(ctx context.Context, tc TriggerContext, candidates []backend.Candidate) ([]string, error) {
	texts := make([]string, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		text := c.Code
		if tc.LineStart {
			text = strings.TrimSpace(StripCodeFences(text))
		}
		if text == "" || strings.HasPrefix(text, tc.Prefix) {
			texts[i] = text
			continue
		}
		g.Go(func() error {
			merged, err := e.backend.Merge(gctx, tc.Prefix, text)
			if err != nil {
				return errors.Wrap(err, "merge")
			}
			texts[i] = merged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, text := range texts {
		if text == "" || text == tc.Prefix || !strings.HasPrefix(text, tc.Prefix) {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}

var (
	reFenceOpen = regexp.MustCompile("```.*\n")
	reFence     = regexp.MustCompile("```")
)

// StripCodeFences removes markdown code fence lines such as "```go\n" and
// any stray "```" markers.
func StripCodeFences(s string) string {
	return reFence.ReplaceAllString(reFenceOpen.ReplaceAllString(s, ""), "")
}
