// Package linebuf reassembles newline-delimited text from a stream that
// arrives in arbitrary chunks.
//
// Lines are split on the raw '\n' byte before any decoding.  That byte
// never appears inside a multi-byte UTF-8 sequence, so a character cut
// in half by a read boundary is joined back together before it is
// decoded, and the resulting lines do not depend on how the stream was
// chunked.
package linebuf

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Buffer holds the bytes received after the last newline.  It is owned
// by a single connection and is not safe for concurrent use.
type Buffer struct {
	// Max, when positive, caps a line at Max bytes.  A longer line is
	// returned in Max-byte pieces, each cut short by up to three bytes
	// so that no UTF-8 character is split.  The cut points depend only
	// on the stream content.
	Max int

	pending []byte
}

// Write appends p to the buffer.  It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.pending = append(b.pending, p...)
	return len(p), nil
}

// Next removes the first complete line from the buffer and returns it
// decoded and trimmed.  The delimiter is discarded.  ok is false when no
// newline is buffered and the fragment is still under Max; the returned
// text may be empty for blank lines.
func (b *Buffer) Next() (text string, ok bool) {
	i := bytes.IndexByte(b.pending, '\n')
	end := i
	if end < 0 {
		end = len(b.pending)
	}
	if b.Max > 0 && end >= b.Max {
		return b.take(cutPoint(b.pending[:b.Max]), 0), true
	}
	if i < 0 {
		return "", false
	}
	return b.take(i, 1), true
}

// Pending reports how many bytes are waiting for a newline.
func (b *Buffer) Pending() int { return len(b.pending) }

// take returns the first n bytes cleaned and drops them plus skip more.
func (b *Buffer) take(n, skip int) string {
	text := Clean(b.pending[:n])
	b.pending = b.pending[n+skip:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return text
}

// cutPoint returns len(p), or the offset of a trailing UTF-8 sequence
// that p ends in the middle of.  It never returns 0.
func cutPoint(p []byte) int {
	for s := len(p) - 1; s > 0 && len(p)-s < utf8.UTFMax; s-- {
		if utf8.RuneStart(p[s]) {
			if !utf8.FullRune(p[s:]) {
				return s
			}
			break
		}
	}
	return len(p)
}

// Clean decodes raw as UTF-8, dropping invalid sequences, and trims
// leading and trailing white space.  That includes the '\r' of CRLF
// line endings and the ASCII separators U+001C to U+001F.
func Clean(raw []byte) string {
	return strings.TrimFunc(strings.ToValidUTF8(string(raw), ""), isSpace)
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
