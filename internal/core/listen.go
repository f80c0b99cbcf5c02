// Package core is the orchestration layer.  It composes a transport, the
// connection handler and the record sink into the running log server.
//
// Layers (bottom → top):
//
//	transport  →  handler  →  core  →  cmd (CLI)
package core

import (
	"context"
	"fmt"
	"net"
	"sync"

	ncerr "esplog/internal/errors"
	"esplog/internal/handler"
	"esplog/internal/metrics"
	"esplog/internal/retry"
	"esplog/internal/sink"
	"esplog/internal/transport"
	"esplog/util"
)

// ListenMode accepts device connections and serves each one on its own
// goroutine until the context is cancelled.
type ListenMode struct {
	Transport transport.Listener
	Handler   *handler.Handler
	Sink      *sink.Sink
	Metrics   *metrics.Collector
	Logger    *util.Logger

	// Backoff paces retries after temporary accept errors.  Defaults to
	// retry.AcceptBackoff.
	Backoff *retry.Backoff

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// Run binds the transport, prints the banner and serves connections.
// It returns nil after ctx is cancelled and every handler has finished,
// or an error if binding or accepting fails permanently.  Either way
// open connections are closed first.
func (m *ListenMode) Run(ctx context.Context) error {
	ln, err := m.Transport.Listen(ctx)
	if err != nil {
		return err
	}
	defer m.Transport.Close()
	defer ln.Close()

	m.setAddr(ln.Addr())
	m.Logger.Verbose("listening on %s (%s)", ln.Addr(), m.Transport)
	if err := m.Sink.Banner(
		fmt.Sprintf("Log server running on port %d...", util.PortOf(ln.Addr())),
		"Waiting for ESP32 to connect...",
	); err != nil {
		m.Logger.Error("writing banner: %v", err)
	}

	// Shut the listener down when the context expires.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	// Cancelled on every return path, so handlers exit before wg.Wait.
	connCtx, closeConns := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer closeConns()

	backoff := m.Backoff
	if backoff == nil {
		backoff = retry.AcceptBackoff()
	}

	for {
		var conn net.Conn
		err := backoff.Do(ctx, func(attempt int) error {
			c, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil && ncerr.IsRetryable(err) {
					m.Logger.Warn("accept: %v; retrying in %v", err, backoff.Delay(attempt))
					return err
				}
				return retry.Permanent(err)
			}
			conn = c
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				m.Logger.Verbose("shutting down, waiting for %d connection(s)", m.Metrics.ActiveConnections())
				return nil
			}
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Handler.Serve(connCtx, conn)
		}()
	}
}

// Addr blocks until the listener is bound (or ctx ends) and returns its
// address.
func (m *ListenMode) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-m.readyCh():
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ListenMode) setAddr(a net.Addr) {
	ready := m.readyCh()
	m.mu.Lock()
	m.addr = a
	m.mu.Unlock()
	close(ready)
}

func (m *ListenMode) readyCh() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready == nil {
		m.ready = make(chan struct{})
	}
	return m.ready
}
