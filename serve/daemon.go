package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/backend"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/provider"
	"github.com/Paranoid-AF/ghostline/store"
)

// daemon owns the long-lived engine state shared by every host adapter.
type daemon struct {
	client *backend.Client
	diffs  *generate.DiffCache
	host   *provider.Host

	mu  sync.RWMutex
	cfg *ghostline.Config
}

// newDaemon wires the engine for cfg. storage may be nil to keep suggestions
// in memory only.
func newDaemon(cfg *ghostline.Config, storage store.Storage) *daemon {
	client := backend.New(backendOptions(cfg))
	diffs := generate.NewDiffCache(time.Duration(cfg.Completion.DiffTTLSeconds) * time.Second)
	gatherer := generate.NewGatherer(diffs, cfg.Completion.PrecedingLines)

	s := store.New(storage, store.Key(cfg.Storage.Workspace))
	engine := generate.NewEngine(client, s)
	cursors := provider.NewCursorTracker()
	opts := provider.OptionsFromConfig(cfg)

	return &daemon{
		client: client,
		diffs:  diffs,
		cfg:    cfg,
		host: &provider.Host{
			Store:      s,
			Budget:     client.Budget(),
			Provider:   provider.New(s, engine, gatherer, cursors, opts),
			Prefetcher: provider.NewPrefetcher(engine, gatherer, opts),
			Documents:  provider.NewDocuments(),
			Cursors:    cursors,
			Diffs:      diffs,
		},
	}
}

func backendOptions(cfg *ghostline.Config) backend.Options {
	return backend.Options{
		URL:              ghostline.ResolveURL(cfg),
		Model:            ghostline.ResolveModel(cfg),
		KeepAliveMinutes: cfg.Backend.KeepAliveMinutes,
		Concurrency:      ghostline.ResolveConcurrency(cfg),
		RequestsPerSec:   cfg.Backend.RequestsPerSec,
		Prompts:          backend.LoadPrompts(ghostline.PromptDir()),
	}
}

// Config returns the configuration currently in effect.
func (d *daemon) Config() *ghostline.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// apply switches the running engine to cfg. Storage, preceding lines and
// the diff TTL only change on restart.
func (d *daemon) apply(cfg *ghostline.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.client.Reconfigure(backendOptions(cfg))
	opts := provider.OptionsFromConfig(cfg)
	d.host.Provider.Configure(opts)
	d.host.Prefetcher.Configure(opts)
	slog.Info("config applied",
		"model", ghostline.ResolveModel(cfg),
		"concurrency", ghostline.ResolveConcurrency(cfg),
		"enabled", opts.Enabled,
	)
}

// reload reads the config file again and applies it.
func (d *daemon) reload() (*ghostline.Config, error) {
	cfg, err := ghostline.LoadConfig()
	if err != nil {
		return nil, err
	}
	d.apply(cfg)
	return cfg, nil
}

// watch applies config file changes until ctx is done.
func (d *daemon) watch(ctx context.Context) {
	if err := ghostline.WatchConfig(ctx, ghostline.ConfigPath(), d.apply); err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	}
}

// warmUp checks that the backend answers and asks it to load the model, so
// the first completion does not pay for it.
func (d *daemon) warmUp(ctx context.Context) {
	if err := d.client.Ping(ctx); err != nil {
		slog.Warn("backend not reachable", "url", ghostline.ResolveURL(d.Config()), "error", err)
		return
	}
	if err := d.client.LoadModel(ctx); err != nil {
		slog.Warn("model preload failed", "model", d.client.Model(), "error", err)
		return
	}
	slog.Info("model loaded", "model", d.client.Model())
}

func (d *daemon) Close() {
	d.host.Wait()
	d.diffs.Close()
}
