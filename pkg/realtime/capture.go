package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// captureBacklog is how many frames may wait between the device callback and
// the encoder before new frames are dropped.
const captureBacklog = 32

// Capture pulls fixed-size frames from an AudioSource, encodes them and hands
// each chunk to send in capture order. The device callback only enqueues; the
// encoding and sending happen on the capture goroutine.
type Capture struct {
	source     AudioSource
	sampleRate int
	frameSize  int
	send       func(audio.Chunk) error
	analyze    func([]float32)
	logger     Logger
	metrics    *Metrics

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

// NewCapture builds a stopped capture pipeline. analyze, if non-nil, sees
// every frame before it is encoded.
func NewCapture(source AudioSource, sampleRate, frameSize int, send func(audio.Chunk) error, analyze func([]float32), logger Logger, metrics *Metrics) *Capture {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Capture{
		source:     source,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		send:       send,
		analyze:    analyze,
		logger:     logger,
		metrics:    metrics,
	}
}

// Start acquires the device. Acquisition failures come back as *DeviceError.
// Starting a running capture is a no-op.
func (c *Capture) Start(ctx context.Context) error {
	if c.source == nil {
		return ErrDeviceNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	frames := make(chan []float32, captureBacklog)
	stop := make(chan struct{})
	done := make(chan struct{})

	onFrame := func(frame []float32) {
		select {
		case frames <- frame:
		default:
			c.dropped.Add(1)
			c.metrics.frameDropped()
		}
	}

	if err := c.source.Start(ctx, c.sampleRate, c.frameSize, onFrame); err != nil {
		c.metrics.deviceError("capture")
		return &DeviceError{Device: "capture", Err: err}
	}

	c.running = true
	c.stop = stop
	c.done = done
	go c.pump(frames, stop, done)
	c.logger.Info("capture started", "sampleRate", c.sampleRate, "frameSize", c.frameSize)
	return nil
}

// Stop releases the device and waits for the capture goroutine to exit. It
// is safe to call at any time, including from inside a frame callback's
// lifetime, and more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	err := c.source.Stop()
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done
	if err != nil {
		return &DeviceError{Device: "capture", Err: err}
	}
	c.logger.Info("capture stopped", "droppedFrames", c.dropped.Load())
	return nil
}

func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Dropped returns how many frames were discarded because the encoder fell behind.
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Capture) pump(frames <-chan []float32, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case frame := <-frames:
			select {
			case <-stop:
				return
			default:
			}
			if c.analyze != nil {
				c.analyze(frame)
			}
			err := c.send(audio.EncodePCM16(frame))
			switch {
			case errors.Is(err, ErrSendQueueFull):
				c.logger.Warn("send queue full, dropping captured chunk")
				c.metrics.chunkDropped()
			case err != nil:
				c.logger.Debug("captured chunk not sent", "error", err)
			}
		}
	}
}
