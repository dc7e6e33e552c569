package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/budget"
	"github.com/Paranoid-AF/ghostline/gate"
	"github.com/Paranoid-AF/ghostline/generate"
)

// Prefetcher warms the store while the user types, so that the next
// completion request is likely to hit the cache. It never waits for a backend
// slot: when the budget is spent the edit is skipped.
type Prefetcher struct {
	engine   Generator
	gatherer *generate.Gatherer
	gate     *gate.Gate[struct{}]

	mu      sync.RWMutex
	enabled bool
	pattern string
}

// NewPrefetcher creates a Prefetcher.
func NewPrefetcher(engine Generator, gatherer *generate.Gatherer, opts Options) *Prefetcher {
	p := &Prefetcher{
		engine:   engine,
		gatherer: gatherer,
		gate:     gate.New[struct{}](DefaultTypingDebounce),
	}
	p.Configure(opts)
	return p
}

// Configure applies new options.
func (p *Prefetcher) Configure(opts Options) {
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = DefaultTypingDebounce
	}
	p.gate.SetDelay(opts.TypingDebounce)

	p.mu.Lock()
	p.enabled = opts.Enabled
	p.pattern = checkPattern(opts.FilePattern)
	p.mu.Unlock()
}

// OnEdit reacts to edit, after which the cursor is at pos in doc. It blocks
// until the coalesced generation finishes or the edit is superseded, so hosts
// usually call it from a goroutine. Superseded edits, skipped edits and an
// exhausted budget all return nil.
func (p *Prefetcher) OnEdit(ctx context.Context, doc generate.Document, pos ghostline.Position, edit Edit) error {
	p.mu.RLock()
	enabled, pattern := p.enabled, p.pattern
	p.mu.RUnlock()
	if !enabled || !matchPattern(pattern, doc) {
		return nil
	}

	// A single deleted character gives no new information.
	if edit.Inserted == "" && edit.Deleted == 1 {
		return nil
	}

	prefix := strings.TrimLeft(doc.LinePrefix(pos.Line, pos.Column), " \t")
	if isNewline(edit.Inserted) {
		prefix = ""
	}

	_, err := p.gate.Schedule(ctx, func(ctx context.Context) (struct{}, error) {
		tc := p.gatherer.Gather(doc, pos, prefix)
		return struct{}{}, p.engine.Generate(ctx, tc, false)
	})
	switch {
	case err == nil, errors.Is(err, gate.ErrSuperseded), errors.Is(err, budget.ErrExceeded):
		return nil
	default:
		return err
	}
}

// isNewline reports whether s is a line break, possibly followed by the
// indentation an editor adds on Enter.
func isNewline(s string) bool {
	s = strings.TrimPrefix(s, "\r")
	return strings.HasPrefix(s, "\n") && strings.TrimLeft(s[1:], " \t") == ""
}
