package provider

import (
	"sync"

	"github.com/Paranoid-AF/ghostline/generate"
)

// Edit describes a single change to a document.
type Edit struct {
	// Inserted is the text the change added.
	Inserted string
	// Deleted is the number of bytes the change removed.
	Deleted int
	// Offset is the byte offset in the old text where the change starts.
	Offset int
}

// DiffEdit derives the edit that turns before into after, assuming a single
// contiguous change, which is what one keystroke produces.
func DiffEdit(before, after string) Edit {
	start := 0
	for start < len(before) && start < len(after) && before[start] == after[start] {
		start++
	}
	endB, endA := len(before), len(after)
	for endB > start && endA > start && before[endB-1] == after[endA-1] {
		endB--
		endA--
	}
	return Edit{Inserted: after[start:endA], Deleted: endB - start, Offset: start}
}

// Documents holds the latest text of every open document.
type Documents struct {
	mu   sync.RWMutex
	docs map[string]generate.Document
}

// NewDocuments returns an empty set.
func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]generate.Document)}
}

// Open stores doc, replacing any previous version.
func (d *Documents) Open(doc generate.Document) {
	d.mu.Lock()
	d.docs[doc.SourceID] = doc
	d.mu.Unlock()
}

// Update replaces the text of sourceID and returns the edit that was applied
// together with the updated document. ok is false for unknown documents.
func (d *Documents) Update(sourceID, text string) (doc generate.Document, edit Edit, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok = d.docs[sourceID]
	if !ok {
		return doc, Edit{}, false
	}
	edit = DiffEdit(doc.Text, text)
	doc.Text = text
	d.docs[sourceID] = doc
	return doc, edit, true
}

// Get returns the document for sourceID.
func (d *Documents) Get(sourceID string) (generate.Document, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[sourceID]
	return doc, ok
}

// Close forgets sourceID.
func (d *Documents) Close(sourceID string) {
	d.mu.Lock()
	delete(d.docs, sourceID)
	d.mu.Unlock()
}
