package lsp

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"

	ghostline "github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/generate"
)

// LSP positions count UTF-16 code units; the engine counts bytes.

// byteColumn converts a UTF-16 offset within line to a byte offset.
func byteColumn(line string, units int) int {
	n := 0
	for i, r := range line {
		if n >= units {
			return i
		}
		n += utf16.RuneLen(r)
	}
	return len(line)
}

// utf16Column converts a byte offset within line to UTF-16 code units.
func utf16Column(line string, col int) int {
	if col > len(line) {
		col = len(line)
	}
	n := 0
	for _, r := range line[:col] {
		n += utf16.RuneLen(r)
	}
	return n
}

func fromProtocol(doc generate.Document, pos protocol.Position) ghostline.Position {
	line := int(pos.Line)
	return ghostline.Position{Line: line, Column: byteColumn(doc.Line(line), int(pos.Character))}
}

func toProtocol(doc generate.Document, pos ghostline.Position) protocol.Position {
	return protocol.Position{
		Line:      protocol.UInteger(pos.Line),
		Character: protocol.UInteger(utf16Column(doc.Line(pos.Line), pos.Column)),
	}
}

// positionAt returns the line and byte column of offset in text.
func positionAt(text string, offset int) ghostline.Position {
	if offset > len(text) {
		offset = len(text)
	}
	for offset > 0 && offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset--
	}
	head := text[:offset]
	return ghostline.Position{
		Line:   strings.Count(head, "\n"),
		Column: offset - (strings.LastIndexByte(head, '\n') + 1),
	}
}
