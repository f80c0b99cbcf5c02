// Package transport opens the listening socket device connections
// arrive on.  Transports handle where connections come from - a local
// TCP port or a port forwarded from an SSH gateway - independent of
// what happens over them, which is the handler's job.
package transport

import (
	"context"
	"net"
)

// Listener produces the net.Listener the accept loop serves.
type Listener interface {
	// Listen binds and returns a listener ready for Accept.
	Listen(ctx context.Context) (net.Listener, error)

	// Close releases long-lived resources behind the listener (e.g. an
	// SSH connection).  Stateless transports return nil.
	Close() error

	// String names the endpoint for the startup banner.
	String() string
}
