// Package provider answers inline completion requests from editor hosts,
// serving cached suggestions when it can and generating fresh ones when it
// must.
package provider

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/gate"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/store"
)

const (
	DefaultDebounce       = 300 * time.Millisecond
	DefaultTypingDebounce = 500 * time.Millisecond
)

// Generator refreshes the store for a trigger context.
type Generator interface {
	Generate(ctx context.Context, tc generate.TriggerContext, wait bool) error
}

// Options configures a Provider and its Prefetcher.
type Options struct {
	Enabled        bool
	FilePattern    string
	Debounce       time.Duration
	TypingDebounce time.Duration
}

// OptionsFromConfig maps the completion section of cfg onto Options.
func OptionsFromConfig(cfg *ghostline.Config) Options {
	opts := Options{
		Enabled:        ghostline.CompletionEnabled(cfg),
		Debounce:       DefaultDebounce,
		TypingDebounce: DefaultTypingDebounce,
	}
	if cfg == nil {
		return opts
	}
	opts.FilePattern = cfg.Completion.FilePattern
	if cfg.Completion.DebounceMS > 0 {
		opts.Debounce = time.Duration(cfg.Completion.DebounceMS) * time.Millisecond
	}
	if cfg.Completion.TypingDebounceMS > 0 {
		opts.TypingDebounce = time.Duration(cfg.Completion.TypingDebounceMS) * time.Millisecond
	}
	return opts
}

// Provider turns completion requests into renderable items. A burst of
// requests is coalesced so that only the last one is answered.
type Provider struct {
	store    *store.Store
	engine   Generator
	gatherer *generate.Gatherer
	cursors  CursorSource
	gate     *gate.Gate[[]ghostline.Item]

	mu      sync.RWMutex
	enabled bool
	pattern string
}

// New creates a Provider. cursors supplies the live cursor at render time.
func New(s *store.Store, engine Generator, gatherer *generate.Gatherer, cursors CursorSource, opts Options) *Provider {
	p := &Provider{
		store:    s,
		engine:   engine,
		gatherer: gatherer,
		cursors:  cursors,
		gate:     gate.New[[]ghostline.Item](DefaultDebounce),
	}
	p.Configure(opts)
	return p
}

// Configure applies new options. Requests already waiting keep their delay.
func (p *Provider) Configure(opts Options) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	p.gate.SetDelay(opts.Debounce)

	p.mu.Lock()
	p.enabled = opts.Enabled
	p.pattern = checkPattern(opts.FilePattern)
	p.mu.Unlock()
}

// checkPattern returns pattern, or "" (match everything) if it is invalid.
func checkPattern(pattern string) string {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		slog.Warn("invalid completion.file_pattern, matching all files", "pattern", pattern)
		return ""
	}
	return pattern
}

// Enabled reports whether completion is switched on.
func (p *Provider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// Eligible reports whether doc matches the configured file pattern.
func (p *Provider) Eligible(doc generate.Document) bool {
	p.mu.RLock()
	pattern := p.pattern
	p.mu.RUnlock()
	return matchPattern(pattern, doc)
}

func matchPattern(pattern string, doc generate.Document) bool {
	if pattern == "" {
		return true
	}
	name := doc.Path
	if name == "" {
		name = strings.TrimPrefix(doc.SourceID, "file://")
	}
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// Provide returns the suggestions to show at pos in doc, best first. It
// returns nil when the request is superseded by a newer one, cancelled
// before the store is consulted, or nothing matches.
func (p *Provider) Provide(ctx context.Context, doc generate.Document, pos ghostline.Position) []ghostline.Item {
	if !p.Enabled() || !p.Eligible(doc) {
		return nil
	}
	items, err := p.gate.Schedule(ctx, func(ctx context.Context) ([]ghostline.Item, error) {
		return p.resolve(ctx, doc, pos), nil
	})
	if err != nil {
		slog.Debug("completion request dropped", "source", doc.SourceID, "error", err)
		return nil
	}
	return items
}

// resolve runs once the debounce delay has passed.
func (p *Provider) resolve(ctx context.Context, doc generate.Document, pos ghostline.Position) []ghostline.Item {
	if ctx.Err() != nil {
		return nil
	}

	prefix := strings.TrimLeft(doc.LinePrefix(pos.Line, pos.Column), " \t")
	boundary := IsBoundary(prefix)

	// Line-start suggestions only surface after a generation at a boundary.
	hits := p.store.LookupKind(doc.SourceID, prefix, false)
	if len(hits) > 0 && !boundary {
		slog.Debug("completion cache hit", "source", doc.SourceID, "prefix", prefix, "hits", len(hits))
		return p.render(doc, pos, prefix, hits)
	}

	slog.Debug("completion cache miss", "source", doc.SourceID, "prefix", prefix, "boundary", boundary)
	tc := p.gatherer.Gather(doc, pos, prefix)
	// Once started, generation outlives the request that asked for it.
	_ = p.engine.Generate(context.WithoutCancel(ctx), tc, true)

	hits = p.store.LookupKind(doc.SourceID, prefix, tc.LineStart)
	if len(hits) == 0 {
		return nil
	}
	return p.render(doc, pos, prefix, hits)
}

// IsBoundary reports whether prefix sits at a line start or right after a
// statement or block terminator.
func IsBoundary(prefix string) bool {
	return prefix == "" || strings.HasSuffix(prefix, "}") || strings.HasSuffix(prefix, ";")
}

// render orders hits by weight and shapes them for the host. The replaced
// range starts where the prefix began and ends at the cursor's position now,
// which may differ from pos if the user kept moving.
func (p *Provider) render(doc generate.Document, pos ghostline.Position, prefix string, hits []store.Suggestion) []ghostline.Item {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Weight > hits[j].Weight })

	end := pos
	if p.cursors != nil {
		if live, ok := p.cursors.Cursor(doc.SourceID); ok {
			end = live
		}
	}
	start := ghostline.Position{Line: pos.Line, Column: pos.Column - len(prefix)}
	if start.Column < 0 {
		start.Column = 0
	}

	suffix := doc.LineSuffix(pos.Line, pos.Column)
	items := make([]ghostline.Item, 0, len(hits))
	for _, h := range hits {
		text := h.Completion
		if suffix != "" {
			text = strings.Replace(text, suffix, "", 1)
		}
		items = append(items, ghostline.Item{
			Text:    text,
			Range:   ghostline.Range{Start: start, End: end},
			Command: ghostline.ClearCacheCommand,
			Weight:  h.Weight,
		})
	}
	return items
}
