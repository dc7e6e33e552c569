package generate

import (
	"path/filepath"
	"strings"

	ghostline "github.com/Paranoid-AF/ghostline"
)

// DefaultPrecedingLines is how many lines above the cursor are sent as context.
const DefaultPrecedingLines = 5

// Document is a snapshot of an open editor buffer.
type Document struct {
	// SourceID identifies the document in the store (a path or URI).
	SourceID   string
	LanguageID string
	// Path is the file on disk, empty for unsaved buffers.
	Path string
	Text string
}

// Line returns line n of the document without its terminator, or "" when
// n is out of range.
func (d Document) Line(n int) string {
	if n < 0 {
		return ""
	}
	text := d.Text
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return ""
		}
		text = text[idx+1:]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSuffix(text, "\r")
}

// LinePrefix returns the text of line up to column, clamped to the line.
func (d Document) LinePrefix(line, column int) string {
	l := d.Line(line)
	if column > len(l) {
		column = len(l)
	}
	if column < 0 {
		column = 0
	}
	return l[:column]
}

// LineSuffix returns the text of line from column to its end.
func (d Document) LineSuffix(line, column int) string {
	l := d.Line(line)
	if column > len(l) {
		return ""
	}
	if column < 0 {
		column = 0
	}
	return l[column:]
}

// TriggerContext is everything the generator needs for one generation.
type TriggerContext struct {
	SourceID       string
	LanguageID     string
	FileName       string
	Prefix         string
	CursorLine     int
	CursorColumn   int
	PrecedingLines string
	Diff           string
	// LineStart marks a trigger with an empty prefix.
	LineStart bool
}

// Gatherer builds trigger contexts from documents.
type Gatherer struct {
	diffs          *DiffCache
	precedingLines int
}

// NewGatherer creates a Gatherer. diffs may be nil to send no diff.
func NewGatherer(diffs *DiffCache, precedingLines int) *Gatherer {
	if precedingLines <= 0 {
		precedingLines = DefaultPrecedingLines
	}
	return &Gatherer{diffs: diffs, precedingLines: precedingLines}
}

// Gather builds the context for a trigger at pos with the given prefix.
// Shell sources are redacted before they are returned.
func (g *Gatherer) Gather(doc Document, pos ghostline.Position, prefix string) TriggerContext {
	tc := TriggerContext{
		SourceID:       doc.SourceID,
		LanguageID:     doc.LanguageID,
		FileName:       fileName(doc),
		Prefix:         prefix,
		CursorLine:     pos.Line,
		CursorColumn:   pos.Column,
		PrecedingLines: precedingLines(doc.Text, pos.Line, g.precedingLines),
		LineStart:      prefix == "",
	}
	if g.diffs != nil && doc.Path != "" {
		tc.Diff = g.diffs.Get(doc.Path)
	}

	if IsShellLanguage(doc.LanguageID) {
		tc.PrecedingLines = RedactShell(tc.PrecedingLines)
		tc.Diff = regexRedact(tc.Diff)
	}
	return tc
}

func fileName(doc Document) string {
	if doc.Path != "" {
		return filepath.Base(doc.Path)
	}
	id := doc.SourceID
	if i := strings.LastIndexAny(id, "/\\"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// precedingLines returns up to n whole lines above line, each with its
// terminating newline.
func precedingLines(text string, line, n int) string {
	if line <= 0 {
		return ""
	}
	lines := strings.SplitAfter(text, "\n")
	if line > len(lines) {
		line = len(lines)
	}
	start := line - n
	if start < 0 {
		start = 0
	}
	return strings.Join(lines[start:line], "")
}
