// Package server defines shared protocol constants, error values and utility
// helpers that are reused across connection, client and hub logic.
package server

import (
	"errors"
	"strings"
)

// NickToken is the control frame the server sends to request a display identity.
const NickToken = "NICK"

var (
	// ErrFrameTooLarge is returned by Receive when a single frame exceeds the
	// transport's hard read cap. The hub treats it as a policy violation.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrConnClosed is returned by Send and Receive after Close.
	ErrConnClosed = errors.New("connection closed")

	// ErrHandshake wraps every failure that happens before a client is registered.
	ErrHandshake = errors.New("handshake failed")
)

// disconnectReason records why a client left the Active state.
type disconnectReason string

const (
	reasonLeft      disconnectReason = "left"
	reasonViolation disconnectReason = "violation"
	reasonShutdown  disconnectReason = "shutdown"
)

// flattenLine replaces line breaks with spaces so a frame always renders as
// exactly one line on line-framed peers.
func flattenLine(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, text)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrConnClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
