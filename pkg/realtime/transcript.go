package realtime

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Transcript is the append-only record of a session's utterances. Items are
// kept in the order they were appended, whichever stream they came from.
type Transcript struct {
	mu    sync.RWMutex
	items []TranscriptItem
	last  time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{items: []TranscriptItem{}}
}

// Append records item. Its timestamp is raised to the previous item's when it
// would otherwise go backwards, so timestamps never decrease.
func (t *Transcript) Append(item TranscriptItem) TranscriptItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item.Timestamp.Before(t.last) {
		item.Timestamp = t.last
	}
	t.last = item.Timestamp
	t.items = append(t.items, item)
	return item
}

// All returns a copy of every item in arrival order.
func (t *Transcript) All() []TranscriptItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptItem, len(t.items))
	copy(out, t.items)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// WriteJSON encodes the transcript as a JSON array.
func (t *Transcript) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t.All())
}
