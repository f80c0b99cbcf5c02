package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"esplog/tunnel"
	"esplog/util"
)

// SSHListener exposes the sink on a remote SSH gateway.  Devices
// connect to RemoteBind:RemotePort on the gateway and their streams are
// relayed back over the SSH connection.
type SSHListener struct {
	SSH        *tunnel.SSHConfig
	RemoteBind string
	RemotePort int
	Logger     *util.Logger

	mu  sync.Mutex
	tun *tunnel.SSHTunnel
}

// Listen connects to the gateway and requests the remote forward.
func (l *SSHListener) Listen(ctx context.Context) (net.Listener, error) {
	tun := tunnel.NewSSHTunnel(l.SSH, l.Logger)
	if err := tun.Connect(ctx); err != nil {
		return nil, err
	}

	ln, err := tun.Listen(l.RemoteBind, l.RemotePort)
	if err != nil {
		tun.Close()
		return nil, err
	}

	l.mu.Lock()
	l.tun = tun
	l.mu.Unlock()
	return ln, nil
}

// Close disconnects from the gateway.
func (l *SSHListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tun == nil {
		return nil
	}
	err := l.tun.Close()
	l.tun = nil
	return err
}

func (l *SSHListener) String() string {
	return fmt.Sprintf("ssh %s@%s:%d -> %s",
		l.SSH.User, l.SSH.Host, l.SSH.Port, util.FormatAddr(l.RemoteBind, l.RemotePort))
}
