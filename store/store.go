// Package store holds the ranked inline suggestions for every open document
// and persists them to session storage.
package store

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// Suggestion is a candidate continuation for a document.
type Suggestion struct {
	SourceID   string  `json:"source_id"`
	Completion string  `json:"completion"`
	Weight     float64 `json:"weight"`
	// LineStart marks suggestions generated from an empty (boundary) prefix.
	LineStart bool `json:"line_start"`
}

// Storage persists the serialized store under a key.
type Storage interface {
	// Load returns the stored value, or nil if the key is absent.
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
}

// Key returns the storage key for a workspace.
func Key(workspace string) string {
	if workspace == "" {
		workspace = "default"
	}
	return "ghostline.recommendation-cache/" + workspace
}

// Store is an ordered set of suggestions. Mutations build a new slice and
// swap it in under the write lock, so readers never see a partial update.
type Store struct {
	mu      sync.RWMutex
	entries []Suggestion
	version uint64

	storage Storage
	key     string

	saveMu sync.Mutex
	saved  uint64
}

// New creates a Store backed by storage (nil for memory only) and restores
// whatever was last saved under key.
func New(storage Storage, key string) *Store {
	s := &Store{storage: storage, key: key}
	if storage == nil {
		return s
	}

	data, err := storage.Load(key)
	if err != nil {
		slog.Warn("failed to load suggestions", "key", key, "error", err)
		return s
	}
	if len(data) == 0 {
		return s
	}
	var entries []Suggestion
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("discarding unreadable suggestions", "key", key, "error", err)
		return s
	}
	s.entries = entries
	slog.Debug("suggestions restored", "key", key, "count", len(entries))
	return s
}

// Lookup returns the suggestions for sourceID whose completion starts with
// prefix, from both line-start and mid-line populations.
func (s *Store) Lookup(sourceID, prefix string) []Suggestion {
	return s.filter(func(e Suggestion) bool {
		return e.SourceID == sourceID && strings.HasPrefix(e.Completion, prefix)
	})
}

// LookupKind is Lookup restricted to one population.
func (s *Store) LookupKind(sourceID, prefix string, lineStart bool) []Suggestion {
	return s.filter(func(e Suggestion) bool {
		return e.SourceID == sourceID && e.LineStart == lineStart &&
			strings.HasPrefix(e.Completion, prefix)
	})
}

// Snapshot returns the entries of sourceID in store order.
func (s *Store) Snapshot(sourceID string) []Suggestion {
	return s.filter(func(e Suggestion) bool { return e.SourceID == sourceID })
}

// Len returns the total number of stored suggestions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) filter(keep func(Suggestion) bool) []Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Suggestion
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Upsert reinforces an existing suggestion with the same source and
// completion, or inserts a new one at the front with weight 1.
func (s *Store) Upsert(sourceID, completion string, lineStart bool) {
	s.mu.Lock()
	version, entries := s.swap(upsert(s.entries, sourceID, completion, lineStart))
	s.mu.Unlock()

	s.persist(version, entries)
}

// ReplaceAll discards every entry and installs entries in one swap.
func (s *Store) ReplaceAll(entries []Suggestion) {
	next := make([]Suggestion, len(entries))
	copy(next, entries)

	s.mu.Lock()
	version, saved := s.swap(next)
	s.mu.Unlock()

	s.persist(version, saved)
}

// Preview returns what Snapshot(sourceID) would hold after upserting each
// of completions, without changing the store.
func (s *Store) Preview(sourceID string, completions []string, lineStart bool) []Suggestion {
	s.mu.RLock()
	entries := s.entries
	s.mu.RUnlock()

	for _, c := range completions {
		entries = upsert(entries, sourceID, c, lineStart)
	}
	var out []Suggestion
	for _, e := range entries {
		if e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out
}

// Commit upserts completions and then applies ranked as one atomic update.
// The suggestions of sourceID become ranked, in order. Only Completion and
// Weight are read from ranked. Each entry inherits LineStart from the stored
// suggestion with the same completion, or false if there is none. Other
// sources are left untouched.
func (s *Store) Commit(sourceID string, completions []string, lineStart bool, ranked []Suggestion) {
	s.mu.Lock()
	next := s.entries
	for _, c := range completions {
		next = upsert(next, sourceID, c, lineStart)
	}
	version, entries := s.swap(rank(next, sourceID, ranked))
	s.mu.Unlock()

	s.persist(version, entries)
}

// upsert returns a copy of entries with completion reinforced or inserted.
func upsert(entries []Suggestion, sourceID, completion string, lineStart bool) []Suggestion {
	next := make([]Suggestion, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if !found && e.SourceID == sourceID && e.Completion == completion {
			e.Weight++
			found = true
		}
		next = append(next, e)
	}
	if found {
		return next
	}
	return append([]Suggestion{{
		SourceID:   sourceID,
		Completion: completion,
		Weight:     1,
		LineStart:  lineStart,
	}}, next...)
}

// rank returns entries with the suggestions of sourceID replaced by ranked.
func rank(entries []Suggestion, sourceID string, ranked []Suggestion) []Suggestion {
	// A completion may exist in both populations, so hand out the stored
	// flags in order rather than collapsing them.
	inherited := make(map[string][]bool)
	var others []Suggestion
	for _, e := range entries {
		if e.SourceID != sourceID {
			others = append(others, e)
			continue
		}
		inherited[e.Completion] = append(inherited[e.Completion], e.LineStart)
	}

	type partKey struct {
		completion string
		lineStart  bool
	}
	seen := make(map[partKey]bool, len(ranked))
	next := make([]Suggestion, 0, len(ranked)+len(others))
	for _, r := range ranked {
		lineStart := false
		if flags := inherited[r.Completion]; len(flags) > 0 {
			lineStart = flags[0]
			inherited[r.Completion] = flags[1:]
		}
		k := partKey{r.Completion, lineStart}
		if seen[k] {
			continue
		}
		seen[k] = true
		next = append(next, Suggestion{
			SourceID:   sourceID,
			Completion: r.Completion,
			Weight:     r.Weight,
			LineStart:  lineStart,
		})
	}
	return append(next, others...)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.ReplaceAll(nil)
}

// swap installs next and returns the new version. Caller holds mu.
func (s *Store) swap(next []Suggestion) (uint64, []Suggestion) {
	s.entries = next
	s.version++
	return s.version, next
}

// persist writes entries unless a newer version has already been saved.
// entries is never mutated after swap, so it is safe to read without mu.
func (s *Store) persist(version uint64, entries []Suggestion) {
	if s.storage == nil {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if version <= s.saved {
		return
	}

	if entries == nil {
		entries = []Suggestion{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		slog.Warn("failed to encode suggestions", "error", err)
		return
	}
	if err := s.storage.Save(s.key, data); err != nil {
		slog.Warn("failed to save suggestions", "key", s.key, "error", err)
		return
	}
	s.saved = version
}
