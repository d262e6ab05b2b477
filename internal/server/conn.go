// Package server wraps accepted byte streams behind the Conn interface so the
// hub never depends on a concrete transport.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Conn is a bidirectional, frame-oriented connection. Implementations must
// allow Send to be called from several goroutines and Close to be called
// any number of times.
type Conn interface {
	// Send writes one text frame.
	Send(text string) error

	// Receive blocks until the next frame arrives. It returns io.EOF on an
	// orderly close and ErrFrameTooLarge when the peer exceeds the read cap.
	Receive() (string, error)

	// Close releases the connection. It is idempotent.
	Close() error

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// lineConn frames text as newline-terminated lines over a stream socket.
type lineConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrame     int
	writeTimeout time.Duration
	addr         string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

var _ Conn = (*lineConn)(nil)

// NewLineConn wraps a stream connection. Each frame is one line; lines longer
// than maxFrameBytes are rejected with ErrFrameTooLarge. Writes that take longer
// than writeTimeout fail.
func NewLineConn(conn net.Conn, maxFrameBytes int, writeTimeout time.Duration) Conn {
	if maxFrameBytes <= 0 {
		maxFrameBytes = defaultMaxFrameBytes
	}
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &lineConn{
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, 1024),
		maxFrame:     maxFrameBytes,
		writeTimeout: writeTimeout,
		addr:         addr,
		closed:       make(chan struct{}),
	}
}

func (c *lineConn) RemoteAddr() string {
	return c.addr
}

// Receive reads one line. Receive must only be called from a single goroutine.
func (c *lineConn) Receive() (string, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		// Allow room for the "\r\n" terminator on top of the payload.
		if len(line)+len(chunk) > c.maxFrame+2 {
			return "", ErrFrameTooLarge
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			return trimLineEnding(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) > 0 {
				return trimLineEnding(line), nil
			}
			return "", io.EOF
		case c.isClosed():
			return "", ErrConnClosed
		default:
			return "", fmt.Errorf("receive from %s: %w", c.addr, err)
		}
	}
}

// Send writes text as one or more lines. Embedded newlines split the text
// into separate frames so the peer never sees a partial frame.
func (c *lineConn) Send(text string) error {
	if c.isClosed() {
		return ErrConnClosed
	}

	var b strings.Builder
	for _, part := range strings.Split(text, "\n") {
		b.WriteString(strings.TrimSuffix(part, "\r"))
		b.WriteByte('\n')
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline for %s: %w", c.addr, err)
		}
	}
	if _, err := io.WriteString(c.conn, b.String()); err != nil {
		if c.isClosed() {
			return ErrConnClosed
		}
		return fmt.Errorf("send to %s: %w", c.addr, err)
	}
	return nil
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *lineConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func trimLineEnding(line []byte) string {
	s := string(line)
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
