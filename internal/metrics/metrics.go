// Package metrics provides lock-free counters for the log sink.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so handlers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks process-wide statistics.  Nothing in it feeds back
// into record output.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	linesEmitted      atomic.Int64
	linesBlank        atomic.Int64
	disconnects       atomic.Int64
	readErrors        atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connections ──────────────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active counter and records how the
// connection ended.
func (c *Collector) ConnectionClosed(readErr error) {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
	if readErr == nil {
		c.disconnects.Add(1)
		return
	}
	c.readErrors.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = readErr.Error()
	c.mu.Unlock()
}

// ActiveConnections returns the number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Stream ───────────────────────────────────────────────────────────

// BytesReceived records n bytes read from a device.
func (c *Collector) BytesReceived(n int) {
	if c == nil {
		return
	}
	c.bytesIn.Add(int64(n))
}

// LineEmitted counts a line record.
func (c *Collector) LineEmitted() {
	if c == nil {
		return
	}
	c.linesEmitted.Add(1)
}

// LineBlank counts a line discarded because it trimmed to nothing.
func (c *Collector) LineBlank() {
	if c == nil {
		return
	}
	c.linesBlank.Add(1)
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	BytesIn           int64  `json:"bytes_in"`
	LinesEmitted      int64  `json:"lines_emitted"`
	LinesBlank        int64  `json:"lines_blank"`
	Disconnects       int64  `json:"disconnects"`
	ReadErrors        int64  `json:"read_errors"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		BytesIn:           c.bytesIn.Load(),
		LinesEmitted:      c.linesEmitted.Load(),
		LinesBlank:        c.linesBlank.Load(),
		Disconnects:       c.disconnects.Load(),
		ReadErrors:        c.readErrors.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	data, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return string(data)
}
