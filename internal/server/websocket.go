package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxDiscardBytes = 1 << 20
)

// wsConn carries one frame per WebSocket text message.
type wsConn struct {
	conn          *websocket.Conn
	maxFrameBytes int
	writeTimeout  time.Duration
	addr          string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ Conn = (*wsConn)(nil)

// NewWebSocketConn wraps an upgraded WebSocket connection and starts its
// keep-alive pinger. The pinger stops when the connection is closed.
func NewWebSocketConn(conn *websocket.Conn, addr string, maxFrameBytes int, writeTimeout time.Duration) Conn {
	if maxFrameBytes <= 0 {
		maxFrameBytes = defaultMaxFrameBytes
	}
	c := &wsConn{
		conn:          conn,
		maxFrameBytes: maxFrameBytes,
		writeTimeout:  writeTimeout,
		addr:          addr,
		closed:        make(chan struct{}),
	}
	c.setupReadDeadline()
	go c.pingLoop()
	return c
}

// setupReadDeadline configures read deadlines and pong handler for the WebSocket connection
func (c *wsConn) setupReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *wsConn) RemoteAddr() string {
	return c.addr
}

// Receive returns the next message as a single line. The frame cap is
// enforced here rather than with SetReadLimit, which would make gorilla send
// its own close frame before the kick notice could be delivered.
func (c *wsConn) Receive() (string, error) {
	for {
		messageType, r, err := c.conn.NextReader()
		if err != nil {
			return "", c.classifyReadError(err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(r, int64(c.maxFrameBytes)+1))
		if err != nil {
			return "", c.classifyReadError(err)
		}
		if len(data) > c.maxFrameBytes {
			// Consume the rest of the message so closing the socket does not
			// reset it while the kick notice is still in flight.
			_, _ = io.Copy(io.Discard, io.LimitReader(r, maxDiscardBytes))
			return "", ErrFrameTooLarge
		}
		return flattenLine(string(data)), nil
	}
}

// classifyReadError maps gorilla errors onto the Conn error contract.
func (c *wsConn) classifyReadError(err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return ErrFrameTooLarge
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		return io.EOF
	case c.isClosed():
		return ErrConnClosed
	default:
		return fmt.Errorf("receive from %s: %w", c.addr, err)
	}
}

func (c *wsConn) Send(text string) error {
	if c.isClosed() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline for %s: %w", c.addr, err)
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		if c.isClosed() {
			return ErrConnClosed
		}
		return fmt.Errorf("send to %s: %w", c.addr, err)
	}
	return nil
}

// Close sends a best-effort close frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			c.closeErr = err
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *wsConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
