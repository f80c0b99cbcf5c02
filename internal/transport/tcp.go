package transport

import (
	"context"
	"net"

	ncerr "esplog/internal/errors"
)

// TCPListener binds a local TCP address.  The Go runtime sets
// SO_REUSEADDR on listening sockets, so a restarted sink can rebind
// while old connections linger in TIME_WAIT.
type TCPListener struct {
	Address string // "host:port"; empty host means all interfaces
}

// Listen binds the address.
func (l *TCPListener) Listen(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.Address)
	if err != nil {
		return nil, ncerr.Wrap("listen", l.Address, err)
	}
	return ln, nil
}

// Close is a no-op for local TCP.
func (l *TCPListener) Close() error { return nil }

func (l *TCPListener) String() string { return "tcp " + l.Address }
