package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

const testTimeout = 3 * time.Second

// fixedClock pins every timestamp to 12:34:56 local time.
func fixedClock() time.Time {
	return time.Date(2024, time.March, 1, 12, 34, 56, 0, time.Local)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the test timeout elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func registeredIdentities(h *Hub) []string {
	var ids []string
	for _, c := range h.Clients() {
		ids = append(ids, c.Identity())
	}
	return ids
}

func isRegistered(h *Hub, identity string) bool {
	for _, id := range registeredIdentities(h) {
		if id == identity {
			return true
		}
	}
	return false
}

// startTestServer starts a server on loopback ports with a fixed clock and
// stops it when the test ends.
func startTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	cfg := NewConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	srv := NewServer(cfg, discardLogger())
	srv.hub.now = fixedClock

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Listen(ctx); err != nil {
		cancel()
		t.Fatalf("Failed to listen: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

// tcpClient is a raw line-protocol peer used to drive the server.
type tcpClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialTCP(t *testing.T, srv *Server) *tcpClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.TCPAddr().String(), testTimeout)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &tcpClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// joinTCP dials, completes the handshake and waits until the hub has
// registered the identity.
func joinTCP(t *testing.T, srv *Server, identity string) *tcpClient {
	t.Helper()

	c := dialTCP(t, srv)
	c.expectLine(NickToken)
	c.send(identity)
	waitFor(t, identity+" to register", func() bool { return isRegistered(srv.hub, identity) })
	return c
}

func (c *tcpClient) send(text string) {
	c.t.Helper()
	if err := c.conn.SetWriteDeadline(time.Now().Add(testTimeout)); err != nil {
		c.t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := io.WriteString(c.conn, text+"\n"); err != nil {
		c.t.Fatalf("Failed to send %q: %v", text, err)
	}
}

func (c *tcpClient) readLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// nextLine returns the next line or fails the test.
func (c *tcpClient) nextLine() string {
	c.t.Helper()
	line, err := c.readLine(testTimeout)
	if err != nil {
		c.t.Fatalf("Failed to read line: %v", err)
	}
	return line
}

// expectLine skips lines until want arrives and returns the skipped ones.
func (c *tcpClient) expectLine(want string) []string {
	c.t.Helper()
	var skipped []string
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		line, err := c.readLine(time.Until(deadline))
		if err != nil {
			c.t.Fatalf("Expected line %q, read failed after %q: %v", want, skipped, err)
		}
		if line == want {
			return skipped
		}
		skipped = append(skipped, line)
	}
	c.t.Fatalf("Expected line %q, got %q", want, skipped)
	return nil
}

// expectNoLine reads for d and fails if any line contains substr.
func (c *tcpClient) expectNoLine(substr string, d time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		line, err := c.readLine(time.Until(deadline))
		if err != nil {
			return
		}
		if strings.Contains(line, substr) {
			c.t.Fatalf("Unexpected line %q", line)
		}
	}
}

// expectClosed reads until the server closes the connection.
func (c *tcpClient) expectClosed() {
	c.t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if _, err := c.readLine(time.Until(deadline)); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return
		}
	}
	c.t.Fatal("Expected connection to be closed by the server")
}

// fakeConn is an in-memory Conn for driving the hub without sockets.
type fakeConn struct {
	addr     string
	incoming chan string

	mu    sync.Mutex
	sent  []string
	block bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:     addr,
		incoming: make(chan string, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) Send(text string) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()

	if block {
		<-f.closed
		return ErrConnClosed
	}

	select {
	case <-f.closed:
		return ErrConnClosed
	default:
	}

	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Receive() (string, error) {
	select {
	case text, ok := <-f.incoming:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	case <-f.closed:
		return "", ErrConnClosed
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string {
	return f.addr
}

func (f *fakeConn) setBlocking(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

func (f *fakeConn) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeConn) hasSent(line string) bool {
	for _, s := range f.sentLines() {
		if s == line {
			return true
		}
	}
	return false
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// serveFake runs ServeConn for conn in the background and returns a channel
// closed when it returns.
func serveFake(ctx context.Context, h *Hub, conn *fakeConn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(ctx, conn)
	}()
	return done
}

func newTestHub(mutate func(*Config)) *Hub {
	cfg := NewConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := NewHub(cfg, discardLogger())
	h.now = fixedClock
	return h
}
