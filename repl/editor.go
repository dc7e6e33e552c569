package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/provider"
)

// Hooks connect the editor to the completion engine.
type Hooks struct {
	// Changed runs after every keystroke that modifies the line. seq
	// identifies the line state; pass it back to SetGhost.
	Changed func(line string, pos int, edit provider.Edit, seq int)
	// Accepted runs when Tab accepts the ghost suggestion.
	Accepted func(item ghostline.Item)
}

// Editor is a minimal line editor with cursor tracking and ghost text.
// It reads from /dev/tty so it works even when stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State
	ghostFmt lipgloss.Style

	mu     sync.Mutex
	prompt string
	buf    []byte
	pos    int // cursor byte offset into buf
	seq    int
	ghost  *ghostline.Item
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	style := lipgloss.NewRenderer(tty).NewStyle().Faint(true)
	return &Editor{tty: tty, oldState: old, ghostFmt: style}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the tty file for writing prompts/UI.
func (e *Editor) Tty() *os.File {
	return e.tty
}

// SetGhost shows the best of items as ghost text, unless the line has
// changed since seq.
func (e *Editor) SetGhost(seq int, items []ghostline.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.seq || len(items) == 0 {
		return
	}
	item := items[0]
	e.ghost = &item
	e.redraw()
}

// ReadLine displays the prompt and reads a line with full cursor tracking.
// Returns io.EOF when the user presses Ctrl-D on empty input.
func (e *Editor) ReadLine(prompt string, hooks Hooks) (string, error) {
	e.mu.Lock()
	e.prompt = prompt
	e.buf = e.buf[:0]
	e.pos = 0
	e.seq++
	e.ghost = nil
	e.redraw()
	e.mu.Unlock()

	var esc [8]byte // buffer for escape sequences

	for {
		var b [1]byte
		_, err := e.tty.Read(b[:])
		if err != nil {
			return "", err
		}

		e.mu.Lock()
		before := string(e.buf)
		beforePos := e.pos
		var accepted *ghostline.Item

		switch b[0] {
		case 3: // Ctrl-C
			e.mu.Unlock()
			fmt.Fprintf(e.tty, "\r\n")
			return "", ErrInterrupt

		case 4: // Ctrl-D
			if len(e.buf) == 0 {
				e.mu.Unlock()
				fmt.Fprintf(e.tty, "\r\n")
				return "", io.EOF
			}

		case 13, 10: // Enter
			line := string(e.buf)
			e.ghost = nil
			e.redraw()
			e.seq++
			e.mu.Unlock()
			fmt.Fprintf(e.tty, "\r\n")
			return line, nil

		case 9: // Tab accepts the ghost
			if e.ghostSuffix() != "" {
				accepted = e.ghost
				e.accept(*e.ghost)
			}

		case 127, 8: // Backspace / Ctrl-H
			if e.pos > 0 {
				_, size := prevRune(e.buf, e.pos)
				copy(e.buf[e.pos-size:], e.buf[e.pos:])
				e.buf = e.buf[:len(e.buf)-size]
				e.pos -= size
			}

		case 1: // Ctrl-A (Home)
			e.pos = 0

		case 5: // Ctrl-E (End)
			e.pos = len(e.buf)

		case 21: // Ctrl-U (clear line)
			e.buf = e.buf[:0]
			e.pos = 0

		case 27: // Escape sequence
			e.readEscape(esc[:])

		default: // Printable character
			if b[0] >= 32 {
				// Determine full UTF-8 sequence length
				ch := []byte{b[0]}
				if b[0] >= 0xC0 {
					extra := utf8RuneLen(b[0]) - 1
					tmp := make([]byte, extra)
					e.tty.Read(tmp)
					ch = append(ch, tmp...)
				}
				e.insert(ch)
			}
		}

		after := string(e.buf)
		changed := after != before
		if changed || e.pos != beforePos {
			e.seq++
			e.ghost = nil
		}
		seq, pos := e.seq, e.pos
		e.redraw()
		e.mu.Unlock()

		if accepted != nil && hooks.Accepted != nil {
			hooks.Accepted(*accepted)
		}
		if changed && hooks.Changed != nil {
			hooks.Changed(after, pos, provider.DiffEdit(before, after), seq)
		}
	}
}

// readEscape consumes an escape sequence and applies cursor movement.
func (e *Editor) readEscape(esc []byte) {
	n, _ := e.tty.Read(esc[:1])
	if n == 0 || esc[0] != '[' {
		return
	}
	n, _ = e.tty.Read(esc[1:2])
	if n == 0 {
		return
	}
	switch esc[1] {
	case 'D': // Left
		if e.pos > 0 {
			_, size := prevRune(e.buf, e.pos)
			e.pos -= size
		}
	case 'C': // Right
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			e.pos += size
		}
	case 'H': // Home
		e.pos = 0
	case 'F': // End
		e.pos = len(e.buf)
	case '3': // Delete key: \x1b[3~
		e.tty.Read(esc[2:3]) // consume '~'
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			copy(e.buf[e.pos:], e.buf[e.pos+size:])
			e.buf = e.buf[:len(e.buf)-size]
		}
	case '1': // Home: \x1b[1~
		e.tty.Read(esc[2:3])
		e.pos = 0
	case '4': // End: \x1b[4~
		e.tty.Read(esc[2:3])
		e.pos = len(e.buf)
	}
}

// insert puts ch at the cursor.
func (e *Editor) insert(ch []byte) {
	e.buf = append(e.buf, make([]byte, len(ch))...)
	copy(e.buf[e.pos+len(ch):], e.buf[e.pos:len(e.buf)-len(ch)])
	copy(e.buf[e.pos:], ch)
	e.pos += len(ch)
}

// accept replaces the suggestion's range with its text and moves the
// cursor to the end of the inserted text.
func (e *Editor) accept(item ghostline.Item) {
	line, pos := applyItem(string(e.buf), e.pos, item)
	e.buf = append(e.buf[:0], line...)
	e.pos = pos
}

// ghostSuffix is the part of the ghost not typed yet. Ghost text is only
// shown with the cursor at the end of the line.
func (e *Editor) ghostSuffix() string {
	if e.ghost == nil || e.pos != len(e.buf) {
		return ""
	}
	return ghostSuffix(string(e.buf), e.pos, *e.ghost)
}

// redraw clears the current line and redraws prompt, buffer and ghost with
// the cursor in place. e.mu must be held.
func (e *Editor) redraw() {
	ghost := e.ghostSuffix()
	if i := strings.IndexByte(ghost, '\n'); i >= 0 {
		ghost = ghost[:i]
	}

	// \r = carriage return, \x1b[K = clear to end of line
	fmt.Fprintf(e.tty, "\r\x1b[K%s%s", e.prompt, string(e.buf))
	tailLen := runeCount(e.buf[e.pos:])
	if ghost != "" {
		fmt.Fprint(e.tty, e.ghostFmt.Render(ghost))
		tailLen += utf8.RuneCountInString(ghost)
	}

	// Move cursor back to the correct position
	if tailLen > 0 {
		fmt.Fprintf(e.tty, "\x1b[%dD", tailLen)
	}
}

// ghostSuffix returns what item would add to line with the cursor at pos,
// or "" if the typed text no longer agrees with it.
func ghostSuffix(line string, pos int, item ghostline.Item) string {
	start := item.Range.Start.Column
	if start < 0 || start > pos || pos > len(line) {
		return ""
	}
	typed := line[start:pos]
	if !strings.HasPrefix(item.Text, typed) {
		return ""
	}
	return item.Text[len(typed):]
}

// applyItem returns line with item accepted at pos and the new cursor.
func applyItem(line string, pos int, item ghostline.Item) (string, int) {
	start := item.Range.Start.Column
	end := item.Range.End.Column
	if start < 0 || start > len(line) {
		return line, pos
	}
	if end < start || end > len(line) {
		end = len(line)
	}
	if pos > end {
		end = pos
	}
	if end > len(line) {
		end = len(line)
	}
	return line[:start] + item.Text + line[end:], start + len(item.Text)
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	// Walk back to find the start of the rune
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	r, size := utf8.DecodeRune(buf[i:pos])
	return r, size
}

// runeCount returns the number of runes in b.
func runeCount(b []byte) int {
	return utf8.RuneCount(b)
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	if lead < 0xC0 {
		return 1
	}
	if lead < 0xE0 {
		return 2
	}
	if lead < 0xF0 {
		return 3
	}
	return 4
}

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = fmt.Errorf("interrupted")
