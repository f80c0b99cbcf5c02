package tunnel

// forward.go - remote port forwarding listener.
//
// ssh.Client.Listen matches forwarded-tcpip channels against the exact
// bind address it sent, and some gateways echo back a different one
// ("0.0.0.0" for ""), so every channel is rejected.  We register our own
// forwarded-tcpip handler instead and accept all channels.

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// forwardRequest is the "tcpip-forward" / "cancel-tcpip-forward"
// payload (RFC 4254 §7.1).
type forwardRequest struct {
	Addr string
	Port uint32
}

// forwardReply carries the allocated port when Port was 0.
type forwardReply struct {
	Port uint32
}

// forwardedChannel is the "forwarded-tcpip" channel-open payload
// (RFC 4254 §7.2).
type forwardedChannel struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardListener implements [net.Listener] over forwarded-tcpip
// channels.
type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (net.Listener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	req := forwardRequest{Addr: bindAddr, Port: uint32(bindPort)}
	ok, payload, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&req))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by gateway", net.JoinHostPort(bindAddr, fmt.Sprint(bindPort)))
	}
	if req.Port == 0 {
		var reply forwardReply
		if err := ssh.Unmarshal(payload, &reply); err == nil {
			req.Port = reply.Port
		}
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: req.Port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Accept waits for the next device connection relayed by the gateway.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, io.EOF
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var payload forwardedChannel
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
			raddr = &net.TCPAddr{
				IP:   net.ParseIP(payload.OriginAddr),
				Port: int(payload.OriginPort),
			}
		}
		return &channelConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		req := forwardRequest{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&req)) //nolint:errcheck
	})
	return nil
}

// Addr returns the gateway-side address.
func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// channelConn adapts an [ssh.Channel] to [net.Conn].  Deadlines are
// not supported by SSH channels; the setters are no-ops.
type channelConn struct {
	ssh.Channel
	laddr, raddr net.Addr
}

func (c *channelConn) LocalAddr() net.Addr                { return c.laddr }
func (c *channelConn) RemoteAddr() net.Addr               { return c.raddr }
func (c *channelConn) SetDeadline(_ time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(_ time.Time) error { return nil }
