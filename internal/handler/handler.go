// Package handler consumes the byte stream of one device connection and
// turns it into log records.
//
// Each accepted connection gets its own Serve call, normally on its own
// goroutine.  All per-connection state (the line buffer, the peer
// address) lives on that call's stack, so handlers share nothing but the
// sink and the metrics collector.
package handler

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	ncerr "esplog/internal/errors"
	"esplog/internal/linebuf"
	"esplog/internal/metrics"
	"esplog/internal/sink"
	"esplog/util"
)

// DefaultChunkSize is the read size used when ChunkSize is unset.  Any
// positive size yields the same records.
const DefaultChunkSize = 1024

// Handler holds the settings shared by every connection.
type Handler struct {
	Sink    *sink.Sink
	Metrics *metrics.Collector // optional
	Logger  *util.Logger       // optional

	// ChunkSize is the maximum number of bytes per read.
	ChunkSize int
	// IdleTimeout ends a connection that sends nothing for this long.
	// Zero waits forever.
	IdleTimeout time.Duration
	// MaxLine, when positive, splits lines longer than this many bytes
	// into several records.
	MaxLine int
}

// Serve runs the connection until the peer closes it, a read fails, or
// ctx is cancelled, then closes conn.  Errors are reported as records
// and never returned: one device's failure must not reach the listener.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	peer := util.PeerHost(conn.RemoteAddr())
	defer conn.Close()

	// Cancellation unblocks the pending Read by closing the socket.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	h.Metrics.ConnectionOpened()
	var readErr error
	defer func() {
		if r := recover(); r != nil {
			readErr = fmt.Errorf("handler panic: %v", r)
			h.Logger.Error("connection %s: %v", peer, readErr)
			h.report(h.Sink.Error(peer, readErr))
		}
		h.Metrics.ConnectionClosed(readErr)
	}()

	readErr = h.serve(ctx, conn, peer)
}

// serve is the CONNECTED → READING ⇄ FLUSH_LINES → terminal loop.  It
// returns the read error that ended an errored connection, or nil for a
// clean disconnect.
func (h *Handler) serve(ctx context.Context, conn net.Conn, peer string) error {
	h.Logger.Verbose("connection from %s", conn.RemoteAddr())
	h.report(h.Sink.Connected(peer))

	lines := linebuf.Buffer{Max: h.MaxLine}
	chunk := make([]byte, h.chunkSize())

	for {
		if h.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(h.IdleTimeout)); err != nil {
				h.Logger.Debug("connection %s: set deadline: %v", peer, err)
			}
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			h.Metrics.BytesReceived(n)
			lines.Write(chunk[:n]) //nolint:errcheck // never fails
			h.flushLines(&lines, peer)
		}
		if err == nil {
			continue
		}

		// A close caused by our own shutdown is an orderly disconnect.
		if ncerr.Is(err, io.EOF) || (ctx.Err() != nil && ncerr.IsClosed(err)) {
			if lines.Pending() > 0 {
				h.Logger.Debug("connection %s: dropping %d unterminated bytes", peer, lines.Pending())
			}
			h.report(h.Sink.Disconnected(peer))
			h.Logger.Verbose("connection %s closed", peer)
			return nil
		}

		h.report(h.Sink.Error(peer, err))
		h.Logger.Verbose("connection %s failed: %v", peer, err)
		return err
	}
}

// flushLines emits every complete line in the buffer.
func (h *Handler) flushLines(lines *linebuf.Buffer, peer string) {
	for {
		text, ok := lines.Next()
		if !ok {
			return
		}
		h.emitLine(peer, text)
	}
}

func (h *Handler) emitLine(peer, text string) {
	if text == "" {
		h.Metrics.LineBlank()
		return
	}
	h.Metrics.LineEmitted()
	h.report(h.Sink.Line(peer, text))
}

// report logs a failed write to the record stream.
func (h *Handler) report(err error) {
	if err != nil {
		h.Logger.Error("writing record: %v", err)
	}
}

func (h *Handler) chunkSize() int {
	if h.ChunkSize > 0 {
		return h.ChunkSize
	}
	return DefaultChunkSize
}
