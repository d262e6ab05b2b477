package server

import "time"

// HistoryEntry is one rendered chat line kept for late joiners.
type HistoryEntry struct {
	Text string
	At   time.Time
}

// History is a bounded FIFO of chat lines. It is not safe for concurrent use;
// the hub serializes access.
type History struct {
	entries []HistoryEntry
	start   int
	size    int
}

// NewHistory returns an empty ring holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistorySize
	}
	return &History{entries: make([]HistoryEntry, capacity)}
}

// Append stores entry, evicting the oldest one when the ring is full.
func (h *History) Append(entry HistoryEntry) {
	if h.size < len(h.entries) {
		h.entries[(h.start+h.size)%len(h.entries)] = entry
		h.size++
		return
	}
	h.entries[h.start] = entry
	h.start = (h.start + 1) % len(h.entries)
}

// All returns a copy of the retained entries, oldest first.
func (h *History) All() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.entries[(h.start+i)%len(h.entries)])
	}
	return out
}

// Len reports how many entries are retained.
func (h *History) Len() int {
	return h.size
}

// Cap reports the ring capacity.
func (h *History) Cap() int {
	return len(h.entries)
}
