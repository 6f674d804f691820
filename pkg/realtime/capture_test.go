package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []audio.Chunk
}

func (r *chunkRecorder) send(c audio.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *chunkRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func TestCapture_SendsFramesInOrder(t *testing.T) {
	source := &MockAudioSource{}
	rec := &chunkRecorder{}
	var analyzed int
	var amu sync.Mutex
	c := NewCapture(source, 24000, 4, rec.send, func([]float32) {
		amu.Lock()
		analyzed++
		amu.Unlock()
	}, nil, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		v := float32(i+1) / 10
		source.Emit([]float32{v, v, v, v})
	}

	if !waitFor(time.Second, func() bool { return rec.Len() == 3 }) {
		t.Fatalf("expected 3 chunks, got %d", rec.Len())
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	for i, chunk := range rec.chunks {
		want := float32(i+1) / 10
		got := audio.DecodePCM16(chunk)[0]
		if d := got - want; d > audio.QuantizationStep || d < -audio.QuantizationStep {
			t.Errorf("chunk %d: got %v, want %v", i, got, want)
		}
	}
	amu.Lock()
	if analyzed != 3 {
		t.Errorf("expected 3 analyzed frames, got %d", analyzed)
	}
	amu.Unlock()
}

func TestCapture_StopReleasesDevice(t *testing.T) {
	source := &MockAudioSource{}
	c := NewCapture(source, 24000, 4, (&chunkRecorder{}).send, nil, nil, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	if !c.Running() || !source.Running() {
		t.Fatal("expected capture running")
	}

	c.Stop()
	c.Stop()

	if source.Running() || c.Running() {
		t.Error("expected device released")
	}
	if source.stops != 1 {
		t.Errorf("expected one device stop, got %d", source.stops)
	}
	if source.Emit([]float32{0, 0, 0, 0}) {
		t.Error("stopped source should not deliver frames")
	}
}

func TestCapture_StartFailureIsDeviceError(t *testing.T) {
	source := &MockAudioSource{startErr: errors.New("permission denied")}
	c := NewCapture(source, 24000, 4, (&chunkRecorder{}).send, nil, nil, nil)

	err := c.Start(context.Background())
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Device != "capture" {
		t.Fatalf("expected capture DeviceError, got %v", err)
	}
	if c.Running() {
		t.Error("capture should not be running after a failed start")
	}
}

func TestCapture_NoSource(t *testing.T) {
	c := NewCapture(nil, 24000, 4, (&chunkRecorder{}).send, nil, nil, nil)
	if err := c.Start(context.Background()); !errors.Is(err, ErrDeviceNotConfigured) {
		t.Errorf("expected ErrDeviceNotConfigured, got %v", err)
	}
}

func TestCapture_DropsWhenBacklogFull(t *testing.T) {
	source := &MockAudioSource{}
	release := make(chan struct{})
	blockingSend := func(audio.Chunk) error {
		<-release
		return nil
	}
	c := NewCapture(source, 24000, 1, blockingSend, nil, nil, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < captureBacklog+10; i++ {
		source.Emit([]float32{0.1})
	}

	if c.Dropped() == 0 {
		t.Error("expected frames dropped while the encoder is blocked")
	}
	close(release)
	c.Stop()
}

func TestCapture_CountsChunksDroppedOnFullQueue(t *testing.T) {
	source := &MockAudioSource{}
	m := NewMetrics(prometheus.NewRegistry())
	logger := &recordingLogger{}
	full := func(audio.Chunk) error { return ErrSendQueueFull }
	c := NewCapture(source, 24000, 4, full, nil, logger, m)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	source.Emit([]float32{0.1, 0.1, 0.1, 0.1})
	source.Emit([]float32{0.2, 0.2, 0.2, 0.2})

	if !waitFor(time.Second, func() bool { return testutil.ToFloat64(m.ChunksDropped) == 2 }) {
		t.Fatalf("expected 2 dropped chunks, got %v", testutil.ToFloat64(m.ChunksDropped))
	}
	if got := testutil.ToFloat64(m.ChunksSent); got != 0 {
		t.Errorf("expected no chunks sent, got %v", got)
	}
	if warns := logger.Warnings(); len(warns) != 2 {
		t.Errorf("expected a warning per dropped chunk, got %v", warns)
	}
}

func TestCapture_OtherSendErrorsAreNotDrops(t *testing.T) {
	source := &MockAudioSource{}
	m := NewMetrics(prometheus.NewRegistry())
	var calls int
	var mu sync.Mutex
	notConnected := func(audio.Chunk) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return ErrNotConnected
	}
	c := NewCapture(source, 24000, 4, notConnected, nil, nil, m)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	source.Emit([]float32{0.1, 0.1, 0.1, 0.1})
	if !waitFor(time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}) {
		t.Fatal("expected the chunk to reach send")
	}
	if got := testutil.ToFloat64(m.ChunksDropped); got != 0 {
		t.Errorf("expected no dropped chunks, got %v", got)
	}
}
