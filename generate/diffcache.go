package generate

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDiffTTL = 10 * time.Second
	gatherTimeout  = 5 * time.Second
	diffMaxBytes   = 8 * 1024
)

// DiffCache is a TTL cache of `git diff` output keyed by absolute file path.
// Concurrent misses for the same file share one git invocation.
type DiffCache struct {
	cache  *ttlcache.Cache[string, string]
	loader ttlcache.Loader[string, string]
}

// NewDiffCache creates a DiffCache whose entries live for ttl.
func NewDiffCache(ttl time.Duration) *DiffCache {
	if ttl <= 0 {
		ttl = defaultDiffTTL
	}
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()

	load := ttlcache.LoaderFunc[string, string](func(c *ttlcache.Cache[string, string], path string) *ttlcache.Item[string, string] {
		ctx, cancel := context.WithTimeout(context.Background(), gatherTimeout)
		defer cancel()
		return c.Set(path, gitDiff(ctx, path), ttlcache.DefaultTTL)
	})
	return &DiffCache{
		cache:  c,
		loader: ttlcache.NewSuppressedLoader[string, string](load, new(singleflight.Group)),
	}
}

// Close stops the cache expiration loop.
func (dc *DiffCache) Close() {
	dc.cache.Stop()
}

// Get returns the uncommitted diff of the file at path, running git on a
// miss. Files outside a repository, or git failures, yield "".
func (dc *DiffCache) Get(path string) string {
	if path == "" {
		return ""
	}
	item := dc.cache.Get(path, ttlcache.WithLoader[string, string](dc.loader))
	if item == nil {
		return ""
	}
	return item.Value()
}

// Invalidate drops the cached diff of path, e.g. after the file is saved.
func (dc *DiffCache) Invalidate(path string) {
	dc.cache.Delete(path)
}

func gitDiff(ctx context.Context, path string) string {
	out := runCmd(ctx, filepath.Dir(path), "git", "diff", "--no-color", "--", filepath.Base(path))
	slog.Debug("gathered git diff", "path", path, "bytes", len(out))
	return truncate(out, diffMaxBytes)
}

// runCmd runs a command and returns its stdout, or empty string on error.
func runCmd(ctx context.Context, dir string, name string, args ...string) string {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// truncate cuts s to at most max bytes without splitting a line.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == '\n' {
			return cut[:i+1]
		}
	}
	return cut
}
