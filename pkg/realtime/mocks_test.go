package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type MockPlayer struct {
	mu      sync.Mutex
	chunks  []audio.Chunk
	queued  int
	flushes int
}

func (m *MockPlayer) Enqueue(chunk audio.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunk)
	m.queued++
}

func (m *MockPlayer) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = 0
	m.flushes++
}

func (m *MockPlayer) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queued
}

// MockAudioSink renders each Play call in renderTime, or blocks until
// flushed or cancelled when block is set.
type MockAudioSink struct {
	mu         sync.Mutex
	played     [][]float32
	flushes    int
	renderTime time.Duration
	block      bool
	err        error
	started    chan struct{}
}

func NewMockAudioSink() *MockAudioSink {
	return &MockAudioSink{started: make(chan struct{}, 64)}
}

func (m *MockAudioSink) Play(ctx context.Context, samples []float32) error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.err != nil {
		return m.err
	}
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.renderTime > 0 {
		select {
		case <-time.After(m.renderTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	m.played = append(m.played, samples)
	m.mu.Unlock()
	return nil
}

func (m *MockAudioSink) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *MockAudioSink) Played() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]float32, len(m.played))
	copy(out, m.played)
	return out
}

func (m *MockAudioSink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

type MockAudioSource struct {
	mu       sync.Mutex
	onFrame  func([]float32)
	running  bool
	starts   int
	stops    int
	startErr error
}

func (m *MockAudioSource) Start(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return errors.New("already running")
	}
	m.onFrame = onFrame
	m.running = true
	m.starts++
	return nil
}

func (m *MockAudioSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.onFrame = nil
	m.stops++
	return nil
}

// Emit delivers a frame as the device callback would. It reports false when
// the source is stopped.
func (m *MockAudioSource) Emit(frame []float32) bool {
	m.mu.Lock()
	fn := m.onFrame
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(frame)
	return true
}

func (m *MockAudioSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(msg string, args ...interface{}) {}
func (l *recordingLogger) Info(msg string, args ...interface{})  {}

func (l *recordingLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
