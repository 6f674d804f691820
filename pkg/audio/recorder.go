package audio

import (
	"fmt"
	"os"
	"sync"
)

// Recorder accumulates PCM16 audio up to a byte limit. Audio past the limit is
// dropped and counted. Safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	sampleRate int
	maxBytes   int
	data       []byte
	dropped    int
}

// NewRecorder creates a recorder holding at most maxBytes of PCM. A
// non-positive maxBytes means unbounded.
func NewRecorder(sampleRate, maxBytes int) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		maxBytes:   maxBytes,
	}
}

// Write appends a chunk.
func (r *Recorder) Write(chunk Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxBytes > 0 {
		room := r.maxBytes - len(r.data)
		if room <= 0 {
			r.dropped += len(chunk)
			return
		}
		if len(chunk) > room {
			r.dropped += len(chunk) - room
			chunk = chunk[:room]
		}
	}
	r.data = append(r.data, chunk...)
}

// Len returns the recorded byte count.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Dropped returns how many bytes were discarded because of the limit.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Bytes returns a copy of the recorded PCM.
func (r *Recorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// SaveWav writes the recording to path as a WAV file.
func (r *Recorder) SaveWav(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteWav(f, r.Bytes(), r.sampleRate); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
