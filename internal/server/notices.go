package server

import (
	"fmt"
	"time"
)

const clockLayout = "15:04:05"

func stamp(t time.Time) string {
	return "[" + t.Format(clockLayout) + "]"
}

// formatChat renders a chat line as "[HH:MM:SS] identity: text".
func formatChat(t time.Time, identity, text string) string {
	return fmt.Sprintf("%s %s: %s", stamp(t), identity, text)
}

func formatJoin(t time.Time, identity string) string {
	return fmt.Sprintf("%s %s joined the chat", stamp(t), identity)
}

func formatLeave(t time.Time, identity string) string {
	return fmt.Sprintf("%s %s left the chat", stamp(t), identity)
}

func formatViolation(t time.Time, identity string) string {
	return fmt.Sprintf("%s %s was kicked out because of rule violation.", stamp(t), identity)
}

func formatRateLimited(t time.Time) string {
	return stamp(t) + " You are sending messages too fast; message discarded."
}

// welcomeLines returns the banner sent to a client right after the handshake.
func welcomeLines(identity, addr string, maxLength int) []string {
	return []string{
		fmt.Sprintf("Welcome to the chat, %s! Connected to server at %s", identity, addr),
		fmt.Sprintf("   WARNING: Messages over %d characters will result in automatic disconnection.", maxLength),
	}
}

func historyHeader(n int) string {
	return fmt.Sprintf("--- Chat History (Last %d messages) ---", n)
}

const historyFooter = "--- End of History ---"
