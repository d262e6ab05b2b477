// Package server coordinates the handshake, message validation, broadcast and
// disconnection of chat clients via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Hub owns the shared state of one chat server: the client registry and the
// rolling history. Every connection is served by its own goroutine calling
// ServeConn.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	registry *Registry

	// addr is the address announced in the welcome banner.
	addr string

	// historyMu also orders registration against chat appends so that a
	// joining client sees every message exactly once, either in its history
	// replay or as a live broadcast.
	historyMu sync.Mutex
	history   *History

	now func() time.Time
}

// NewHub creates a Hub configured by cfg. The returned Hub is ready to serve
// connections.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = SanitizeConfig(cfg)

	return &Hub{
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(),
		registry: NewRegistry(),
		history:  NewHistory(cfg.HistorySize),
		addr:     cfg.TCPAddr,
		now:      time.Now,
	}
}

// Metrics returns the hub's Prometheus instruments.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Clients returns a snapshot of the registered clients in registration order.
func (h *Hub) Clients() []*Client {
	return h.registry.Snapshot()
}

// History returns the retained chat lines, oldest first.
func (h *Hub) History() []HistoryEntry {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	return h.history.All()
}

// ServeConn runs the full lifecycle of one accepted connection: handshake,
// steady-state message loop and disconnection. It returns once the
// connection is closed and its write pump has exited. Cancelling ctx closes
// the connection.
func (h *Hub) ServeConn(ctx context.Context, conn Conn) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	identity, err := h.handshake(conn)
	if err != nil {
		h.logger.Debug("hub.handshake.fail", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}

	client := h.join(conn, identity)

	reason := h.readLoop(client)
	if reason == reasonLeft && ctx.Err() != nil {
		reason = reasonShutdown
	}
	h.disconnect(client, reason)

	if !client.wait(h.cfg.WriteTimeout + time.Second) {
		client.logger.Warn("hub.write_pump.timeout")
	}
}

// handshake requests and reads the client's display identity.
func (h *Hub) handshake(conn Conn) (string, error) {
	if err := conn.Send(NickToken); err != nil {
		return "", fmt.Errorf("%w: send token: %w", ErrHandshake, err)
	}

	identity, err := conn.Receive()
	if err != nil {
		return "", fmt.Errorf("%w: read identity: %w", ErrHandshake, err)
	}

	identity = strings.TrimSpace(flattenLine(identity))
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", ErrHandshake)
	}
	return identity, nil
}

// join registers a new client, replays the history to it and announces it to
// everyone else.
func (h *Hub) join(conn Conn, identity string) *Client {
	now := h.now()
	client := NewClient(conn, identity, now, h.cfg.SendBuffer, h.logger)
	client.rateLimiter = newRateLimiter(h.cfg.RateLimit.Burst, h.cfg.RateLimit.RefillInterval, h.now)
	go client.writePump()

	h.historyMu.Lock()
	for _, line := range welcomeLines(identity, h.addr, h.cfg.MaxMessageLength) {
		client.enqueue(line)
	}
	if entries := h.history.All(); len(entries) > 0 {
		client.enqueue(historyHeader(len(entries)))
		for _, entry := range entries {
			client.enqueue(entry.Text)
		}
		client.enqueue(historyFooter)
	}
	h.registry.Register(client)
	h.historyMu.Unlock()

	h.metrics.clientJoined()
	client.logger.Info("hub.join", "remote", conn.RemoteAddr(), "clients", h.registry.Len())

	h.broadcast(formatJoin(now, identity), client)
	return client
}

// readLoop processes frames from one client strictly in order until the
// client leaves or violates the size policy.
func (h *Hub) readLoop(c *Client) disconnectReason {
	for {
		text, err := c.conn.Receive()
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				h.announceViolation(c)
				return reasonViolation
			}
			if !errors.Is(err, io.EOF) && !isExpectedCloseError(err) {
				c.logger.Debug("hub.receive.fail", "err", err)
			}
			return reasonLeft
		}

		text = flattenLine(text)
		if utf8.RuneCountInString(text) > h.cfg.MaxMessageLength {
			h.announceViolation(c)
			return reasonViolation
		}

		if text == "" {
			continue
		}

		if !c.checkRateLimit() {
			h.metrics.rateLimited.Inc()
			c.logger.Warn("hub.rate_limited", "burst", h.cfg.RateLimit.Burst, "interval", h.cfg.RateLimit.RefillInterval)
			c.enqueue(formatRateLimited(h.now()))
			continue
		}

		h.publish(c, text)
	}
}

// publish records a chat line in the history and delivers it to every client
// except the sender.
func (h *Hub) publish(sender *Client, text string) {
	now := h.now()
	line := formatChat(now, sender.identity, text)

	h.historyMu.Lock()
	h.history.Append(HistoryEntry{Text: line, At: now})
	h.metrics.historyEntries.Set(float64(h.history.Len()))
	recipients := h.registry.Snapshot()
	h.historyMu.Unlock()

	h.metrics.messages.Inc()
	sender.logger.Debug("hub.message", "line", line)

	h.deliver(recipients, line, sender)
}

// announceViolation tells everyone, the violator included, that the sender
// is being removed.
func (h *Hub) announceViolation(c *Client) {
	notice := formatViolation(h.now(), c.identity)
	c.logger.Warn("hub.violation", "limit", h.cfg.MaxMessageLength)
	h.broadcast(notice, nil)
}

// broadcast sends text to every registered client except the one given.
// It is not recorded in the history.
func (h *Hub) broadcast(text string, except *Client) int {
	return h.deliver(h.registry.Snapshot(), text, except)
}

// deliver enqueues text on each recipient. A recipient whose queue is full or
// closed is treated as gone and disconnected in the background; delivery to
// the others continues.
func (h *Hub) deliver(recipients []*Client, text string, except *Client) int {
	delivered := 0
	for _, c := range recipients {
		if c == except {
			continue
		}
		if c.enqueue(text) {
			delivered++
			continue
		}
		if c.isShutdown() {
			continue
		}
		h.metrics.drops.Inc()
		c.logger.Warn("hub.recipient.drop", "queued", len(c.send))
		go h.disconnect(c, reasonLeft)
	}
	return delivered
}

// disconnect moves a client to Closed. It may be called more than once and
// from several goroutines; only the call that removes the client from the
// registry announces the departure.
func (h *Hub) disconnect(c *Client, reason disconnectReason) {
	removed := h.registry.Unregister(c.id)
	c.shutdown(reason == reasonViolation)
	if !removed {
		return
	}

	h.metrics.clientDeparted(reason)
	remaining := h.registry.Len()

	switch reason {
	case reasonViolation:
		c.logger.Info("hub.kicked", "reason", reason, "clients", remaining)
	case reasonShutdown:
		c.logger.Info("hub.closed", "reason", reason, "clients", remaining)
	default:
		c.logger.Info("hub.leave", "reason", reason, "clients", remaining)
		h.broadcast(formatLeave(h.now(), c.identity), nil)
	}
}
