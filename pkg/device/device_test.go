package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type MockSource struct {
	onFrame func([]float32)
	stopped bool
}

func (m *MockSource) Start(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) error {
	m.onFrame = onFrame
	return nil
}

func (m *MockSource) Stop() error {
	m.stopped = true
	return nil
}

type MockSink struct {
	played  [][]float32
	flushes int
}

func (m *MockSink) Play(ctx context.Context, samples []float32) error {
	m.played = append(m.played, samples)
	return nil
}

func (m *MockSink) Flush() {
	m.flushes++
}

func TestTapSource_RecordsAndForwards(t *testing.T) {
	src := &MockSource{}
	rec := audio.NewRecorder(24000, 0)
	tap := NewTapSource(src, rec)

	var got [][]float32
	if err := tap.Start(context.Background(), 24000, 2, func(f []float32) { got = append(got, f) }); err != nil {
		t.Fatal(err)
	}
	src.onFrame([]float32{0.5, -0.5})
	src.onFrame([]float32{0, 0})

	if len(got) != 2 {
		t.Fatalf("expected 2 forwarded frames, got %d", len(got))
	}
	if rec.Len() != 8 {
		t.Errorf("expected 8 recorded bytes, got %d", rec.Len())
	}
	tap.Stop()
	if !src.stopped {
		t.Error("Stop should reach the source")
	}
}

func TestTapSink_RecordsAndForwards(t *testing.T) {
	sink := &MockSink{}
	rec := audio.NewRecorder(24000, 4)
	tap := NewTapSink(sink, rec)

	tap.Play(context.Background(), []float32{0.1, 0.2, 0.3})
	tap.Flush()

	if len(sink.played) != 1 || sink.flushes != 1 {
		t.Errorf("unexpected sink calls: played %d, flushes %d", len(sink.played), sink.flushes)
	}
	if rec.Len() != 4 || rec.Dropped() != 2 {
		t.Errorf("recorder limit not honoured: len %d, dropped %d", rec.Len(), rec.Dropped())
	}
}

func TestMicrophone_FeedFramesAudio(t *testing.T) {
	var frames [][]float32
	m := &Microphone{framer: audio.NewFramer(3), onFrame: func(f []float32) { frames = append(frames, f) }}

	m.feed(audio.EncodePCM16([]float32{0.5, 0.5}))
	if len(frames) != 0 {
		t.Fatal("partial frame should be held back")
	}
	m.feed(audio.EncodePCM16([]float32{0.5, -0.5, -0.5, -0.5}))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[1][0] != -0.5 {
		t.Errorf("unexpected sample %f", frames[1][0])
	}
}

func newTestSpeaker() *Speaker {
	s := newSpeaker(1000, 10*time.Millisecond, nil)
	s.open = func() error { return nil }
	return s
}

func TestSpeaker_PlayWaitsForLookahead(t *testing.T) {
	s := newTestSpeaker()

	done := make(chan error, 1)
	go func() { done <- s.Play(context.Background(), make([]float32, 20)) }()

	select {
	case <-done:
		t.Fatal("Play returned before the device drained")
	case <-time.After(50 * time.Millisecond):
	}

	out := make([]byte, 30)
	for i := range out {
		out[i] = 0xff
	}
	s.render(out)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Pending() != 10 {
		t.Errorf("expected 10 bytes pending, got %d", s.Pending())
	}

	s.render(out)
	for i, b := range out[10:] {
		if b != 0 {
			t.Fatalf("byte %d: expected silence padding, got %x", i+10, b)
		}
	}
}

func TestSpeaker_FlushReleasesPlay(t *testing.T) {
	s := newTestSpeaker()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Play(ctx, make([]float32, 100)) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	s.Flush()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("expected empty queue, got %d", s.Pending())
	}
}

func TestSpeaker_OpenFailure(t *testing.T) {
	s := newSpeaker(1000, 10*time.Millisecond, nil)
	s.open = func() error { return errors.New("no device") }
	if err := s.Play(context.Background(), []float32{0}); err == nil {
		t.Error("expected open error")
	}
}
