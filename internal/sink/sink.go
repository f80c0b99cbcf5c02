// Package sink renders log records and writes them to the output
// stream, one whole line per Write call.
package sink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// TimeLayout is the record timestamp format: 24-hour, zero padded.
const TimeLayout = "15:04:05"

// ColorMode selects whether record prefixes are coloured.
type ColorMode string

const (
	ColorNever  ColorMode = "never"
	ColorAlways ColorMode = "always"
	ColorAuto   ColorMode = "auto"
)

// ParseColorMode accepts never, always or auto (case-insensitive).
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ColorNever, ColorAlways, ColorAuto:
		return m, nil
	case "":
		return ColorNever, nil
	default:
		return "", fmt.Errorf("unknown color mode %q (want never, always or auto)", s)
	}
}

// Options tune record rendering.
type Options struct {
	Color ColorMode
	// PeerOnLines adds the peer address to line records.  Off by
	// default so line records keep the short "[HH:MM:SS] text" shape.
	PeerOnLines bool
}

// Sink serialises records from every connection onto one writer.
type Sink struct {
	// Now returns the record time.  Defaults to time.Now.
	Now func() time.Time

	mu          sync.Mutex
	out         io.Writer
	peerOnLines bool

	stamp *color.Color
	peer  *color.Color
	fail  *color.Color
}

// New returns a Sink writing to out.
func New(out io.Writer, opts Options) *Sink {
	s := &Sink{
		Now:         time.Now,
		out:         out,
		peerOnLines: opts.PeerOnLines,
		stamp:       color.New(color.Faint),
		peer:        color.New(color.FgCyan),
		fail:        color.New(color.FgRed, color.Bold),
	}
	on := useColor(opts.Color, out)
	for _, c := range []*color.Color{s.stamp, s.peer, s.fail} {
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

func useColor(mode ColorMode, out io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorAuto:
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	default:
		return false
	}
}

// ── Records ──────────────────────────────────────────────────────────

// Connected writes "[HH:MM:SS] [peer] ESP32 Connected!".
func (s *Sink) Connected(peer string) error {
	return s.emit(s.timestamp() + " " + s.peerTag(peer) + " ESP32 Connected!")
}

// Disconnected writes "[peer] Disconnected".
func (s *Sink) Disconnected(peer string) error {
	return s.emit(s.peerTag(peer) + " Disconnected")
}

// Error writes "[peer] Error: description".
func (s *Sink) Error(peer string, err error) error {
	return s.emit(s.peerTag(peer) + " " + s.fail.Sprint("Error:") + " " + oneLine(err.Error()))
}

// Line writes "[HH:MM:SS] text", or "[HH:MM:SS] [peer] text" when the
// sink attributes lines.
func (s *Sink) Line(peer, text string) error {
	if s.peerOnLines {
		return s.emit(s.timestamp() + " " + s.peerTag(peer) + " " + text)
	}
	return s.emit(s.timestamp() + " " + text)
}

// Banner writes each message as its own undecorated line.
func (s *Sink) Banner(msgs ...string) error {
	for _, m := range msgs {
		if err := s.emit(m); err != nil {
			return err
		}
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func (s *Sink) timestamp() string {
	return s.stamp.Sprint("[" + s.Now().Format(TimeLayout) + "]")
}

func (s *Sink) peerTag(peer string) string {
	return s.peer.Sprint("[" + peer + "]")
}

// emit writes line plus '\n' in a single call under the lock so records
// from different connections never interleave.
func (s *Sink) emit(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.out.Write(buf)
	return err
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// oneLine keeps multi-line error texts on a single record line.
func oneLine(s string) string { return newlines.Replace(s) }
