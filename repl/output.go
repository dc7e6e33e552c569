package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	ghostline "github.com/Paranoid-AF/ghostline"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// writeAccepted logs an accepted suggestion as a TOML table.
func writeAccepted(w io.Writer, languageID string, item ghostline.Item) {
	fmt.Fprintln(w, "[[accepted]]")
	fmt.Fprintf(w, "timestamp = %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "language = %s\n", tomlQuote(languageID))
	fmt.Fprintf(w, "text = %s\n", tomlQuote(item.Text))
	fmt.Fprintf(w, "weight = %g\n", item.Weight)
	fmt.Fprintf(w, "range = [%d, %d]\n", item.Range.Start.Column, item.Range.End.Column)
	fmt.Fprintln(w)
}

// writeCommitted logs a committed line as a TOML table.
func writeCommitted(w io.Writer, languageID, line string) {
	fmt.Fprintln(w, "[[line]]")
	fmt.Fprintf(w, "timestamp = %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "language = %s\n", tomlQuote(languageID))
	fmt.Fprintf(w, "text = %s\n", tomlQuote(line))
	fmt.Fprintln(w)
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
