// Package tunnel exposes the log sink on a remote SSH gateway, the Go
// equivalent of `ssh -R`, so devices outside the local network can
// reach it.  Built on golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "esplog/internal/errors"
	"esplog/util"
)

// SSHConfig holds everything needed to reach an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive sends keepalive@openssh.com at this interval; zero
	// disables it.
	KeepAlive time.Duration
}

// SSHTunnel is one SSH client connection to a gateway.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
	done   chan struct{}
}

// NewSSHTunnel returns a tunnel that is ready to [SSHTunnel.Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the gateway and completes the SSH handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	authMethods, err := BuildAuthMethods(t.config)
	if err != nil {
		return ncerr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}
	hkCallback, err := hostKeyCallback(t.config)
	if err != nil {
		return ncerr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
	}

	addr := util.FormatAddr(t.config.Host, t.config.Port)
	t.logger.Debug("SSH: dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return ncerr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	t.mu.Lock()
	t.client = client
	t.alive = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.monitor(client)
	if t.config.KeepAlive > 0 {
		go t.keepalive(client, t.done)
	}
	t.logger.Verbose("SSH connection to %s established", addr)
	return nil
}

// Listen asks the gateway to listen on bindAddr:port and forward every
// connection back over the tunnel.  Port 0 lets the gateway choose.
func (t *SSHTunnel) Listen(bindAddr string, port int) (net.Listener, error) {
	t.mu.RLock()
	client, alive := t.client, t.alive
	t.mu.RUnlock()
	if !alive || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	ln, err := listenRemoteForward(client, bindAddr, port)
	if err != nil {
		return nil, ncerr.WrapSSH("forward", t.config.Host, t.config.Port, err)
	}
	t.logger.Info("gateway %s is forwarding %s to this sink",
		t.config.Host, util.FormatAddr(bindAddr, util.PortOf(ln.Addr())))
	return ln, nil
}

// Close shuts down the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// IsAlive reports whether the SSH connection is still up.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// monitor blocks until the SSH connection ends and flips the alive flag.
func (t *SSHTunnel) monitor(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("SSH connection closed: %v", err)
	} else {
		t.logger.Debug("SSH connection closed")
	}
}

// keepalive pings the gateway; a failed ping closes the client, which
// ends the forwarded listener.
func (t *SSHTunnel) keepalive(client *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Error("SSH keepalive to %s failed: %v", t.config.Host, err)
				client.Close()
				return
			}
			t.logger.Debug("SSH keepalive OK")
		}
	}
}

// String describes the gateway for log messages.
func (t *SSHTunnel) String() string {
	if t.config.User == "" {
		return fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	}
	return fmt.Sprintf("%s@%s:%d", t.config.User, t.config.Host, t.config.Port)
}
