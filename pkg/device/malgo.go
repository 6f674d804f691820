// Package device binds the realtime audio interfaces to the system's
// microphone and speaker through miniaudio.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// periodMillis is the device callback period requested from the driver.
const periodMillis = 20

// Context owns the miniaudio context shared by every device.
type Context struct {
	allocated *malgo.AllocatedContext
	logger    realtime.Logger
}

func NewContext(logger realtime.Logger) (*Context, error) {
	if logger == nil {
		logger = &realtime.NoOpLogger{}
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, func(msg string) {
		logger.Debug("miniaudio", "message", msg)
	})
	if err != nil {
		return nil, &realtime.DeviceError{Device: "context", Err: err}
	}
	return &Context{allocated: mctx, logger: logger}, nil
}

func (c *Context) Close() error {
	err := c.allocated.Uninit()
	c.allocated.Free()
	return err
}

// Microphone captures mono PCM16 and delivers fixed-size float frames.
type Microphone struct {
	ctx    malgo.Context
	logger realtime.Logger

	mu      sync.Mutex
	device  *malgo.Device
	framer  *audio.Framer
	onFrame func([]float32)
}

var _ realtime.AudioSource = (*Microphone)(nil)

func (c *Context) Microphone() *Microphone {
	return &Microphone{ctx: c.allocated.Context, logger: c.logger}
}

func (m *Microphone) Start(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis
	cfg.Alsa.NoMMap = 1

	m.framer = audio.NewFramer(frameSize)
	m.onFrame = onFrame

	device, err := malgo.InitDevice(m.ctx, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			m.feed(pInput)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start microphone: %w", err)
	}
	m.device = device
	m.logger.Info("microphone started", "sampleRate", sampleRate, "frameSize", frameSize)
	return nil
}

// feed runs on the driver's thread.
func (m *Microphone) feed(pcm []byte) {
	if len(pcm) == 0 || m.framer == nil {
		return
	}
	m.framer.Write(audio.DecodePCM16(pcm), m.onFrame)
}

func (m *Microphone) Stop() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()
	if device == nil {
		return nil
	}

	err := device.Stop()
	device.Uninit()
	m.logger.Info("microphone stopped")
	return err
}

// Speaker renders mono PCM16. Play returns once no more than the lookahead
// is left in the device queue.
type Speaker struct {
	ctx        malgo.Context
	sampleRate int
	lookahead  int
	logger     realtime.Logger

	mu      sync.Mutex
	queue   []byte
	device  *malgo.Device
	drained chan struct{}

	// open starts the output device on first Play.
	openMu sync.Mutex
	open   func() error
}

var _ realtime.AudioSink = (*Speaker)(nil)

// Speaker creates an output device. lookahead is how much audio may sit in
// the device queue when Play returns.
func (c *Context) Speaker(sampleRate int, lookahead time.Duration) *Speaker {
	s := newSpeaker(sampleRate, lookahead, c.logger)
	s.ctx = c.allocated.Context
	s.open = s.openDevice
	return s
}

func newSpeaker(sampleRate int, lookahead time.Duration, logger realtime.Logger) *Speaker {
	if logger == nil {
		logger = &realtime.NoOpLogger{}
	}
	return &Speaker{
		sampleRate: sampleRate,
		lookahead:  int(lookahead.Seconds()*float64(sampleRate)) * 2,
		logger:     logger,
		drained:    make(chan struct{}, 1),
	}
}

func (s *Speaker) openDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(s.ctx, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			s.render(pOutput)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open speaker: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start speaker: %w", err)
	}
	s.mu.Lock()
	s.device = device
	s.mu.Unlock()
	s.logger.Info("speaker started", "sampleRate", s.sampleRate)
	return nil
}

func (s *Speaker) Play(ctx context.Context, samples []float32) error {
	s.openMu.Lock()
	if s.open != nil {
		if err := s.open(); err != nil {
			s.openMu.Unlock()
			return err
		}
		s.open = nil
	}
	s.openMu.Unlock()

	s.mu.Lock()
	s.queue = append(s.queue, audio.EncodePCM16(samples)...)
	s.mu.Unlock()

	for s.Pending() > s.lookahead {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.drained:
		}
	}
	return nil
}

// render fills out from the queue and pads with silence. It runs on the
// driver's thread.
func (s *Speaker) render(out []byte) {
	s.mu.Lock()
	n := copy(out, s.queue)
	s.queue = s.queue[n:]
	s.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if n > 0 {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
}

// Pending returns the queued byte count.
func (s *Speaker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Speaker) Flush() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()

	select {
	case s.drained <- struct{}{}:
	default:
	}
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.queue = nil
	s.mu.Unlock()
	if device == nil {
		return nil
	}
	err := device.Stop()
	device.Uninit()
	return err
}
