package provider

import (
	"sync"

	ghostline "github.com/Paranoid-AF/ghostline"
)

// CursorSource reports where the cursor is in a document right now.
type CursorSource interface {
	Cursor(sourceID string) (ghostline.Position, bool)
}

// CursorTracker remembers the last cursor position reported for each document.
type CursorTracker struct {
	mu  sync.RWMutex
	pos map[string]ghostline.Position
}

// NewCursorTracker returns an empty tracker.
func NewCursorTracker() *CursorTracker {
	return &CursorTracker{pos: make(map[string]ghostline.Position)}
}

// Update records the cursor of sourceID.
func (t *CursorTracker) Update(sourceID string, pos ghostline.Position) {
	t.mu.Lock()
	t.pos[sourceID] = pos
	t.mu.Unlock()
}

// Cursor implements CursorSource.
func (t *CursorTracker) Cursor(sourceID string) (ghostline.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pos[sourceID]
	return p, ok
}

// Forget drops sourceID, e.g. when its document is closed.
func (t *CursorTracker) Forget(sourceID string) {
	t.mu.Lock()
	delete(t.pos, sourceID)
	t.mu.Unlock()
}
