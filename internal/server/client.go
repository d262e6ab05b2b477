// Package server manages individual chat clients, handling the outbound
// queue, write pump, rate limiting and lifecycle control for each connection.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client represents an identified connection in the chat system.
// Its connection is owned by the goroutine serving it; other goroutines
// reach the peer only through the buffered send queue.
type Client struct {
	id       string
	identity string
	joinedAt time.Time
	conn     Conn
	send     chan string
	done     chan struct{}
	logger   *slog.Logger

	rateLimiter *rateLimiter

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewClient creates a Client for an accepted connection that completed the
// handshake. The send queue holds up to buffer frames.
func NewClient(conn Conn, identity string, joinedAt time.Time, buffer int, logger *slog.Logger) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()

	return &Client{
		id:       id,
		identity: identity,
		joinedAt: joinedAt,
		conn:     conn,
		send:     make(chan string, buffer),
		done:     make(chan struct{}),
		logger:   logger.With("client_id", id, "identity", identity),
	}
}

// ID returns the opaque handle the registry keys this client by.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the display name chosen during the handshake.
func (c *Client) Identity() string {
	return c.identity
}

// JoinedAt returns when the handshake completed.
func (c *Client) JoinedAt() time.Time {
	return c.joinedAt
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr()
}

// enqueue queues text for delivery without blocking. It returns false when
// the queue is full or the client has been shut down.
func (c *Client) enqueue(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- text:
		return true
	default:
		return false
	}
}

func (c *Client) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump drains the send queue into the connection and closes the
// connection once the queue is closed or a write fails.
func (c *Client) writePump() {
	defer close(c.done)
	defer c.closeConnection()

	for text := range c.send {
		if err := c.conn.Send(text); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("client.write.fail", "err", err)
			}
			return
		}
	}
}

// shutdown stops accepting frames. With flush set, frames already queued are
// written before the connection closes; otherwise the connection is closed
// immediately, which also unblocks a pending Receive.
func (c *Client) shutdown(flush bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		if !flush {
			c.closeConnection()
		}
	})
}

// wait blocks until the write pump has exited or the timeout elapses.
func (c *Client) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return true
	case <-timer.C:
		c.closeConnection()
		return false
	}
}

// closeConnection safely closes the connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("client.close.fail", "err", err)
	}
}

// checkRateLimit reports whether the client may publish another message.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.allow()
}
