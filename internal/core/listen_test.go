package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"esplog/config"
	ncerr "esplog/internal/errors"
	"esplog/internal/handler"
	"esplog/internal/metrics"
	"esplog/internal/sink"
	"esplog/internal/transport"
	"esplog/util"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newMode(address string) (*ListenMode, *syncBuffer) {
	out := &syncBuffer{}
	s := sink.New(out, sink.Options{})
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local) }
	m := metrics.New()
	logger := util.NewLogger(0)
	return &ListenMode{
		Transport: &transport.TCPListener{Address: address},
		Handler:   &handler.Handler{Sink: s, Metrics: m, Logger: logger},
		Sink:      s,
		Metrics:   m,
		Logger:    logger,
	}, out
}

// start runs mode in the background and returns its address and a
// channel carrying Run's result.
func start(t *testing.T, ctx context.Context, mode *ListenMode) (string, <-chan error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- mode.Run(ctx) }()

	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	addr, err := mode.Addr(actx)
	if err != nil {
		t.Fatalf("listener never came up: %v", err)
	}
	return addr.String(), errCh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopMode(t *testing.T, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestListenMode_Banner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mode, out := newMode("127.0.0.1:0")
	addr, errCh := start(t, ctx, mode)

	_, port, _ := net.SplitHostPort(addr)
	want := "Log server running on port " + port + "...\nWaiting for ESP32 to connect...\n"
	waitFor(t, "banner", func() bool { return out.String() == want })

	stopMode(t, cancel, errCh)
}

func TestListenMode_LinesOverTCP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mode, out := newMode("127.0.0.1:0")
	addr, errCh := start(t, ctx, mode)

	conn := dial(t, addr)
	conn.Write([]byte("foo"))                //nolint:errcheck
	time.Sleep(20 * time.Millisecond)        // separate reads
	conn.Write([]byte("bar\n   \na\nb\nc\n")) //nolint:errcheck
	conn.Close()

	waitFor(t, "disconnect", func() bool { return strings.Contains(out.String(), "Disconnected") })
	stopMode(t, cancel, errCh)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")[2:]
	want := []string{
		"[12:00:00] [127.0.0.1] ESP32 Connected!",
		"[12:00:00] foobar",
		"[12:00:00] a",
		"[12:00:00] b",
		"[12:00:00] c",
		"[127.0.0.1] Disconnected",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("got:\n%s\nwant:\n%s", strings.Join(lines, "\n"), strings.Join(want, "\n"))
	}
}

func TestListenMode_ConnectThenClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mode, out := newMode("127.0.0.1:0")
	addr, errCh := start(t, ctx, mode)

	dial(t, addr).Close()

	waitFor(t, "disconnect", func() bool { return strings.Contains(out.String(), "Disconnected") })
	stopMode(t, cancel, errCh)

	got := out.String()
	if !strings.HasSuffix(got, "[12:00:00] [127.0.0.1] ESP32 Connected!\n[127.0.0.1] Disconnected\n") {
		t.Errorf("expected connect then disconnect, got:\n%s", got)
	}
}

// TestListenMode_ConcurrentClients checks that each client's lines keep
// their order and are never merged with another client's.
func TestListenMode_ConcurrentClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mode, out := newMode("127.0.0.1:0")
	addr, errCh := start(t, ctx, mode)

	const clients, perClient = 4, 100
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		conn := dial(t, addr)
		wg.Add(1)
		go func(id int, conn net.Conn) {
			defer wg.Done()
			defer conn.Close()
			for i := 0; i < perClient; i++ {
				fmt.Fprintf(conn, "client%d-line%03d\n", id, i)
			}
		}(c, conn)
	}
	wg.Wait()

	waitFor(t, "all disconnects", func() bool {
		return strings.Count(out.String(), "Disconnected") == clients
	})
	stopMode(t, cancel, errCh)

	next := make([]int, clients)
	for _, rec := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		i := strings.Index(rec, "client")
		if i < 0 {
			continue
		}
		var id, n int
		if _, err := fmt.Sscanf(rec[i:], "client%d-line%03d", &id, &n); err != nil {
			t.Fatalf("malformed record %q: %v", rec, err)
		}
		if want := fmt.Sprintf("[12:00:00] client%d-line%03d", id, n); rec != want {
			t.Fatalf("record %q merged or truncated", rec)
		}
		if n != next[id] {
			t.Fatalf("client %d: got line %d, want %d", id, n, next[id])
		}
		next[id]++
	}
	for id, n := range next {
		if n != perClient {
			t.Errorf("client %d: %d lines, want %d", id, n, perClient)
		}
	}
	if got := mode.Metrics.TotalConnections(); got != clients {
		t.Errorf("total connections = %d, want %d", got, clients)
	}
}

func TestListenMode_ShutdownClosesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mode, out := newMode("127.0.0.1:0")
	addr, errCh := start(t, ctx, mode)

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("still here\n")) //nolint:errcheck
	waitFor(t, "line", func() bool { return strings.Contains(out.String(), "still here") })

	stopMode(t, cancel, errCh)

	if !strings.HasSuffix(out.String(), "[127.0.0.1] Disconnected\n") {
		t.Errorf("open connection not closed as a disconnect:\n%s", out.String())
	}
	if mode.Metrics.ActiveConnections() != 0 {
		t.Errorf("active connections = %d after shutdown", mode.Metrics.ActiveConnections())
	}
}

// failingTransport hands out a listener whose second Accept fails with a
// non-retryable error once fail is closed.
type failingTransport struct {
	transport.TCPListener
	fail chan struct{}
}

func (f *failingTransport) Listen(ctx context.Context) (net.Listener, error) {
	ln, err := f.TCPListener.Listen(ctx)
	if err != nil {
		return nil, err
	}
	return &failingListener{Listener: ln, fail: f.fail}, nil
}

type failingListener struct {
	net.Listener
	fail     chan struct{}
	accepted bool
}

func (l *failingListener) Accept() (net.Conn, error) {
	if !l.accepted {
		l.accepted = true
		return l.Listener.Accept()
	}
	<-l.fail
	return nil, errors.New("accept exploded")
}

func TestListenMode_AcceptErrorClosesConnections(t *testing.T) {
	mode, out := newMode("")
	fail := make(chan struct{})
	mode.Transport = &failingTransport{TCPListener: transport.TCPListener{Address: "127.0.0.1:0"}, fail: fail}
	addr, errCh := start(t, context.Background(), mode)

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("alive\n")) //nolint:errcheck
	waitFor(t, "line", func() bool { return strings.Contains(out.String(), "alive") })

	close(fail)
	select {
	case err := <-errCh:
		var ne *ncerr.NetworkError
		if !ncerr.As(err, &ne) || ne.Op != "accept" {
			t.Fatalf("Run = %v, want accept NetworkError", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run blocked on an open device connection")
	}

	if !strings.HasSuffix(out.String(), "[127.0.0.1] Disconnected\n") {
		t.Errorf("open connection not closed:\n%s", out.String())
	}
}

func TestListenMode_BindError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	mode, _ := newMode(taken.Addr().String())
	err = mode.Run(context.Background())
	var ne *ncerr.NetworkError
	if !ncerr.As(err, &ne) || ne.Op != "listen" {
		t.Fatalf("Run = %v, want listen NetworkError", err)
	}
}

func TestBuild(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	mode, err := Build(cfg, &bytes.Buffer{}, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	tcp, ok := mode.Transport.(*transport.TCPListener)
	if !ok || tcp.Address != ":8888" {
		t.Errorf("transport = %#v, want TCP on :8888", mode.Transport)
	}
	if mode.Handler.ChunkSize != 1024 || mode.Handler.Sink != mode.Sink {
		t.Errorf("handler not wired: %+v", mode.Handler)
	}
}

func TestBuild_ReverseTunnel(t *testing.T) {
	cfg := config.Default()
	cfg.ReverseTunnelSpec = "pi@gw.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	mode, err := Build(cfg, &bytes.Buffer{}, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	ssh, ok := mode.Transport.(*transport.SSHListener)
	if !ok {
		t.Fatalf("transport = %T, want *transport.SSHListener", mode.Transport)
	}
	if ssh.SSH.User != "pi" || ssh.SSH.Host != "gw.example.com" || ssh.SSH.Port != 22 || ssh.RemotePort != 8888 {
		t.Errorf("ssh transport = %+v / %+v", ssh, ssh.SSH)
	}
}
