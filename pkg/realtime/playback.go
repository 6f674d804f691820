package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// Playback renders inbound chunks through an AudioSink strictly in arrival
// order. Enqueue and Flush never block; a single worker goroutine hands one
// chunk at a time to the sink, whose lookahead keeps consecutive chunks gapless.
type Playback struct {
	sink    AudioSink
	logger  Logger
	metrics *Metrics

	mu        sync.Mutex
	queue     []audio.Chunk
	rendering bool
	closed    bool
	parent    context.Context
	gen       context.Context
	cancelGen context.CancelFunc

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewPlayback starts the playback worker. It runs until Close or until ctx
// is cancelled.
func NewPlayback(ctx context.Context, sink AudioSink, logger Logger, metrics *Metrics) *Playback {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if sink == nil {
		sink = discardSink{}
	}
	p := &Playback{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		parent:  ctx,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.gen, p.cancelGen = context.WithCancel(ctx)
	go p.run()
	return p
}

// Enqueue appends chunk to the queue. Playback starts on its own if idle.
func (p *Playback) Enqueue(chunk audio.Chunk) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, chunk)
	depth := len(p.queue)
	p.mu.Unlock()

	p.metrics.setQueueDepth(depth)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Flush empties the queue in one step and halts the chunk being rendered.
func (p *Playback) Flush() {
	p.mu.Lock()
	p.queue = nil
	p.rendering = false
	p.cancelGen()
	p.gen, p.cancelGen = context.WithCancel(p.parent)
	p.mu.Unlock()

	p.sink.Flush()
	p.metrics.setQueueDepth(0)
}

// Pending returns the number of queued chunks not yet handed to the sink.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Playing reports whether audio is queued or rendering.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendering || len(p.queue) > 0
}

// Close flushes and stops the worker, waiting for it to exit.
func (p *Playback) Close() {
	p.closeOnce.Do(func() {
		p.Flush()
		p.mu.Lock()
		p.closed = true
		p.cancelGen()
		p.mu.Unlock()
		close(p.stop)
	})
	<-p.done
}

func (p *Playback) run() {
	defer close(p.done)
	for {
		chunk, ctx, ok := p.next()
		if !ok {
			return
		}
		if chunk == nil {
			select {
			case <-p.wake:
			case <-p.stop:
				return
			case <-p.parent.Done():
				return
			}
			continue
		}

		err := p.sink.Play(ctx, audio.DecodePCM16(chunk))
		p.finish(ctx)
		switch {
		case err == nil:
			p.metrics.chunkPlayed()
		case errors.Is(err, context.Canceled):
		default:
			p.metrics.deviceError("playback")
			p.logger.Warn("playback failed", "error", &DeviceError{Device: "playback", Err: err})
		}
	}
}

func (p *Playback) next() (audio.Chunk, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, false
	}
	if len(p.queue) == 0 {
		return nil, nil, true
	}
	chunk := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.rendering = true
	depth := len(p.queue)
	p.metrics.setQueueDepth(depth)
	return chunk, p.gen, true
}

// finish clears the rendering flag unless a flush already started a new
// generation.
func (p *Playback) finish(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx == p.gen {
		p.rendering = false
	}
}

type discardSink struct{}

func (discardSink) Play(ctx context.Context, samples []float32) error { return nil }
func (discardSink) Flush()                                            {}
