package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

const (
	inboundBacklog  = 64
	commandBacklog  = 16
	closeReasonUser = "client disconnect"
)

// Client is the connection manager for one realtime conversation at a time.
// Each Connect starts a fresh Session with its own transcript, playback
// queue and capture pipeline.
type Client struct {
	source  AudioSource
	sink    AudioSink
	logger  Logger
	metrics *Metrics
	events  chan Event

	mu         sync.Mutex
	cfg        Config
	link       *link
	snapshot   Session
	transcript *Transcript
	closed     bool

	emitMu       sync.RWMutex
	eventsClosed bool
}

// link is everything scoped to one socket. Only the event loop touches the
// machine and cfg once the loop is running.
type link struct {
	cfg        Config
	conn       *websocket.Conn
	ctx        context.Context
	cancel     context.CancelFunc
	machine    *Machine
	playback   *Playback
	capture    *Capture
	transcript *Transcript
	createdAt  time.Time
	abortDial  context.CancelFunc

	inbound  chan inbound
	outbox   chan interface{}
	commands chan func()
	ready    chan error
	done     chan struct{}
	wg       sync.WaitGroup

	readySent  bool
	lastErr    error
	cancelling string
}

type inbound struct {
	ev  ServerEvent
	err error
}

// New creates a client. Either device may be nil: without a source the
// microphone cannot be started, without a sink inbound audio is discarded.
func New(cfg Config, source AudioSource, sink AudioSink) *Client {
	return NewWithLogger(cfg, source, sink, &NoOpLogger{})
}

// NewWithLogger creates a client with a custom logger
func NewWithLogger(cfg Config, source AudioSource, sink AudioSink, logger Logger) *Client {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	size := cfg.EventBufferSize
	if size <= 0 {
		size = DefaultConfig().EventBufferSize
	}
	return &Client{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
		events: make(chan Event, size),
	}
}

// SetMetrics attaches Prometheus collectors. Call before Connect.
func (c *Client) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// SetInstructions replaces the instructions used by the next Connect.
func (c *Client) SetInstructions(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Instructions = text
}

func (c *Client) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Events returns the observer channel. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Session returns a snapshot of the current or most recent session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Client) State() State {
	return c.Session().State
}

// Transcript returns the items recorded by the current or most recent
// session. A new Connect starts an empty transcript.
func (c *Client) Transcript() []TranscriptItem {
	c.mu.Lock()
	t := c.transcript
	c.mu.Unlock()
	if t == nil {
		return []TranscriptItem{}
	}
	return t.All()
}

// Connect dials the remote service and blocks until session.created has been
// received and the session configuration has been queued, or until the
// handshake fails. Failures are returned as *ConnectionError.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	c.mu.Lock()
	prev := c.link
	c.mu.Unlock()
	if prev != nil {
		if prev.ctx.Err() == nil {
			return Session{}, ErrSessionActive
		}
		<-prev.done
		prev.wg.Wait()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Session{}, ErrAlreadyClosed
	}
	if c.link != prev {
		c.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	l := c.newLink(c.cfg)
	c.link = l
	c.transcript = l.transcript
	c.mu.Unlock()

	started := time.Now()
	l.machine.Begin()
	c.publish(l)

	timeout := l.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().HandshakeTimeout
	}
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c.mu.Lock()
	l.abortDial = cancel
	c.mu.Unlock()

	endpoint, err := c.endpoint(l.cfg)
	if err != nil {
		return Session{}, c.abort(l, &ConnectionError{Op: "dial", Err: err})
	}

	conn, _, err := websocket.Dial(hsCtx, endpoint, &websocket.DialOptions{HTTPHeader: c.headers(l.cfg)})
	if err != nil {
		return Session{}, c.abort(l, &ConnectionError{Op: "dial", Err: err})
	}
	if l.cfg.ReadLimit > 0 {
		conn.SetReadLimit(l.cfg.ReadLimit)
	}

	c.mu.Lock()
	if c.link != l {
		// Disconnect ran while the dial was in flight.
		c.mu.Unlock()
		conn.CloseNow()
		return Session{}, c.abort(l, &ConnectionError{Op: "dial", Err: context.Canceled})
	}
	l.conn = conn
	l.wg.Add(3)
	c.mu.Unlock()

	go c.readLoop(l)
	go c.writeLoop(l)
	go c.eventLoop(l)

	select {
	case err = <-l.ready:
	case <-hsCtx.Done():
		err = hsCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrHandshakeTimeout
		}
	}
	if err != nil {
		c.Disconnect()
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			err = &ConnectionError{Op: "handshake", Err: err}
		}
		c.logger.Error("realtime handshake failed", "error", err)
		return Session{}, err
	}

	c.metrics.observeConnect(time.Since(started))
	session := c.Session()
	c.logger.Info("realtime session connected", "sessionID", session.ID, "model", l.cfg.Model, "voice", string(l.cfg.Voice))
	return session, nil
}

// abort unwinds a link whose socket never opened.
func (c *Client) abort(l *link, err error) error {
	c.logger.Error("realtime connect failed", "error", err)
	l.machine.Handle(ServerEvent{Kind: KindSocketClosed, Cause: err})
	c.publish(l)
	close(l.done)
	c.detach(l)
	return err
}

// Disconnect closes the socket and waits until capture is stopped, playback
// is flushed and every session goroutine has exited. It is safe from any
// state, including during Connect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	l := c.link
	var conn *websocket.Conn
	if l != nil {
		conn = l.conn
		if l.abortDial != nil {
			l.abortDial()
		}
	}
	c.mu.Unlock()
	if l == nil {
		return nil
	}

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, closeReasonUser); err != nil {
			c.logger.Debug("close handshake incomplete", "error", err)
			conn.CloseNow()
		}
	}
	l.wg.Wait()
	c.detach(l)
	return nil
}

// Close disconnects and closes the Events channel. The client cannot be
// reused afterwards.
func (c *Client) Close() error {
	err := c.Disconnect()

	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return nil
	}

	c.emitMu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.emitMu.Unlock()
	return err
}

// Send queues an arbitrary protocol message. Messages go out in the order
// they were queued.
func (c *Client) Send(msg interface{}) error {
	l, err := c.active()
	if err != nil {
		return err
	}
	return c.send(l, msg)
}

// AppendAudio queues one captured chunk for input_audio_buffer.append.
func (c *Client) AppendAudio(chunk audio.Chunk) error {
	return c.Send(NewInputAudioAppend(chunk))
}

// Commit closes the caller's input buffer as one user turn.
func (c *Client) Commit() error {
	return c.Send(NewControl(TypeInputAudioCommit))
}

// ClearInput discards uncommitted caller audio on the remote side.
func (c *Client) ClearInput() error {
	return c.Send(NewControl(TypeInputAudioClear))
}

// CreateResponse asks the remote party to respond to the conversation so far.
func (c *Client) CreateResponse() error {
	return c.Send(NewControl(TypeResponseCreate))
}

// SendText adds a text-only caller turn and requests a response to it.
func (c *Client) SendText(text string) error {
	l, err := c.active()
	if err != nil {
		return err
	}
	if err := c.send(l, NewUserText(text)); err != nil {
		return err
	}
	return c.send(l, NewControl(TypeResponseCreate))
}

// UpdateInstructions re-sends session.update with new instructions.
func (c *Client) UpdateInstructions(text string) error {
	l, err := c.active()
	if err != nil {
		return err
	}
	return c.command(l, func() {
		l.cfg.Instructions = text
		if err := c.send(l, NewSessionUpdate(l.cfg)); err != nil {
			c.logger.Warn("session update not sent", "error", err)
		}
	})
}

// Interrupt cancels the response in flight. Playback is flushed when the
// remote service acknowledges the cancellation. With no response in flight,
// audio still playing from a finished response is flushed right away.
func (c *Client) Interrupt() error {
	l, err := c.active()
	if err != nil {
		return err
	}
	return c.interrupt(l)
}

func (c *Client) interrupt(l *link) error {
	if c.Session().ResponseID == "" && !l.playback.Playing() {
		return ErrNoActiveResponse
	}
	return c.command(l, func() {
		if resp, ok := l.machine.Response(); ok {
			if l.cancelling == resp.ID {
				return
			}
			if err := c.send(l, NewResponseCancel(resp.ID)); err != nil {
				c.logger.Warn("response cancel not sent", "responseID", resp.ID, "error", err)
				return
			}
			l.cancelling = resp.ID
			c.metrics.interrupted()
			c.logger.Info("interrupting response", "sessionID", l.machine.SessionID(), "responseID", resp.ID)
			return
		}
		if l.playback.Playing() {
			l.machine.FlushPlayback()
			c.metrics.interrupted()
		}
	})
}

// StartMicrophone acquires the audio source and streams captured frames
// until StopMicrophone or disconnect.
func (c *Client) StartMicrophone(ctx context.Context) error {
	l, err := c.active()
	if err != nil {
		return err
	}
	return l.capture.Start(ctx)
}

func (c *Client) StopMicrophone() error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.capture.Stop()
}

// PlaybackActive reports whether inbound audio is queued or rendering.
func (c *Client) PlaybackActive() bool {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	return l != nil && l.playback.Playing()
}

func (c *Client) newLink(cfg Config) *link {
	defaults := DefaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaults.FrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		transcript: NewTranscript(),
		inbound:    make(chan inbound, inboundBacklog),
		outbox:     make(chan interface{}, cfg.SendQueueSize),
		commands:   make(chan func(), commandBacklog),
		ready:      make(chan error, 1),
		done:       make(chan struct{}),
	}
	sink := c.sink
	var analyze func([]float32)
	if cfg.TurnDetection == nil && cfg.LocalVAD != nil {
		var echo *EchoDetector
		if cfg.LocalVAD.EchoCorrelation > 0 {
			echo = NewEchoDetector(cfg.SampleRate, cfg.LocalVAD.EchoCorrelation)
			if sink == nil {
				sink = discardSink{}
			}
			sink = echoSink{AudioSink: sink, echo: echo}
		}
		analyze = c.localTurns(l, NewRMSVAD(*cfg.LocalVAD, cfg.SampleRate), echo)
	}
	l.playback = NewPlayback(ctx, sink, c.logger, c.metrics)
	l.capture = NewCapture(c.source, cfg.SampleRate, cfg.FrameSize, func(chunk audio.Chunk) error {
		return c.send(l, NewInputAudioAppend(chunk))
	}, analyze, c.logger, c.metrics)

	l.machine = NewMachine(l.playback, l.transcript, MachineOptions{
		Configure: func() error {
			l.createdAt = time.Now()
			return c.send(l, NewSessionUpdate(l.cfg))
		},
		StopCapture: func() {
			if err := l.capture.Stop(); err != nil {
				c.logger.Warn("capture stop failed", "error", err)
			}
		},
		Release: l.release,
		Notify: func(ev Event) {
			c.publish(l)
			c.observe(ev)
		},
		EmitPartials: cfg.EmitPartialTranscripts,
	}, c.logger)
	return l
}

func (l *link) release() {
	l.cancel()
	l.playback.Close()
	if l.conn != nil {
		l.conn.CloseNow()
	}
}

// localTurns drives manual turn-taking from captured audio. It runs on the
// capture goroutine and only issues non-blocking commands.
// Frames recognised as echo count as silence.
func (c *Client) localTurns(l *link, vad *RMSVAD, echo *EchoDetector) func([]float32) {
	return func(frame []float32) {
		if echo != nil && echo.IsEcho(frame) {
			frame = make([]float32, len(frame))
		}
		ev := vad.Process(frame, l.playback.Playing())
		if ev == nil {
			return
		}
		switch ev.Type {
		case VADSpeechStart:
			c.logger.Debug("local speech start", "rms", ev.RMS)
			if err := c.interrupt(l); err != nil && !errors.Is(err, ErrNoActiveResponse) {
				c.logger.Warn("barge-in failed", "error", err)
			}
		case VADSpeechEnd:
			c.logger.Debug("local speech end", "rms", ev.RMS)
			if err := c.send(l, NewControl(TypeInputAudioCommit)); err != nil {
				c.logger.Warn("commit not sent", "error", err)
				return
			}
			if err := c.send(l, NewControl(TypeResponseCreate)); err != nil {
				c.logger.Warn("response request not sent", "error", err)
			}
		}
	}
}

func (c *Client) readLoop(l *link) {
	defer l.wg.Done()
	for {
		typ, data, err := l.conn.Read(l.ctx)
		if err != nil {
			l.inbound <- inbound{ev: ServerEvent{Kind: KindSocketClosed, Cause: err}}
			return
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame", "bytes", len(data))
			continue
		}
		ev, err := ParseServerEvent(data)
		if err == nil {
			c.metrics.eventReceived(ev.Type)
		}
		l.inbound <- inbound{ev: ev, err: err}
	}
}

func (c *Client) writeLoop(l *link) {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg := <-l.outbox:
			if err := wsjson.Write(l.ctx, l.conn, msg); err != nil {
				if l.ctx.Err() == nil {
					c.logger.Error("realtime write failed", "type", messageType(msg), "error", err)
					l.conn.CloseNow()
				}
				return
			}
			c.metrics.messageSent(messageType(msg))
		}
	}
}

// eventLoop is the only goroutine that touches the machine while the socket
// is open. Each event is fully handled before the next is read.
func (c *Client) eventLoop(l *link) {
	defer l.wg.Done()
	defer close(l.done)
	for {
		select {
		case in := <-l.inbound:
			if in.err != nil {
				c.metrics.protocolError()
				c.logger.Warn("dropping malformed message", "sessionID", l.machine.SessionID(), "state", l.machine.State().String(), "error", in.err)
				c.observe(Event{Type: ErrorEvent, SessionID: l.machine.SessionID(), Data: in.err})
				continue
			}
			err := l.machine.Handle(in.ev)
			c.afterEvent(l, in.ev, err)
			if in.ev.Kind == KindSocketClosed {
				return
			}
		case cmd := <-l.commands:
			cmd()
			c.publish(l)
		}
	}
}

func (c *Client) afterEvent(l *link, ev ServerEvent, err error) {
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			c.metrics.remoteError(remote.Code)
			c.logger.Warn("remote error", "sessionID", l.machine.SessionID(), "state", l.machine.State().String(), "code", remote.Code, "message", remote.Message)
			l.lastErr = remote
		} else {
			c.logger.Warn("event rejected", "sessionID", l.machine.SessionID(), "type", ev.Type, "error", err)
		}
		c.observe(Event{Type: ErrorEvent, SessionID: l.machine.SessionID(), Data: err})
	}

	switch ev.Kind {
	case KindUnknown:
		c.logger.Debug("unhandled event", "type", ev.Type)
	case KindResponseCancelled, KindResponseDone:
		l.cancelling = ""
	case KindSocketClosed:
		c.logger.Info("realtime socket closed", "sessionID", l.machine.SessionID(), "cause", fmt.Sprint(ev.Cause))
	}

	c.publish(l)

	if l.readySent {
		return
	}
	switch l.machine.State() {
	case StateConnected:
		l.readySent = true
		l.ready <- nil
	case StateDisconnected:
		l.readySent = true
		cause := l.lastErr
		if cause == nil {
			cause = ev.Cause
		}
		if cause == nil {
			cause = errors.New("socket closed before session.created")
		}
		l.ready <- &ConnectionError{Op: "handshake", Err: cause}
	}
}

func (c *Client) publish(l *link) {
	resp, _ := l.machine.Response()
	snap := Session{
		ID:         l.machine.SessionID(),
		Config:     l.cfg,
		State:      l.machine.State(),
		ResponseID: resp.ID,
		CreatedAt:  l.createdAt,
	}
	c.mu.Lock()
	if c.link == l {
		c.snapshot = snap
	}
	c.mu.Unlock()
	c.metrics.setState(snap.State)
}

func (c *Client) observe(ev Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.metrics.eventDropped()
		c.logger.Warn("event buffer full, dropping event", "type", string(ev.Type))
	}
}

func (c *Client) active() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrAlreadyClosed
	}
	l := c.link
	if l == nil || l.ctx.Err() != nil {
		return nil, ErrNotConnected
	}
	return l, nil
}

func (c *Client) detach(l *link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == l {
		c.link = nil
		c.snapshot.State = StateDisconnected
		c.snapshot.ResponseID = ""
	}
}

func (c *Client) send(l *link, msg interface{}) error {
	if l.ctx.Err() != nil {
		return ErrNotConnected
	}
	select {
	case l.outbox <- msg:
		return nil
	default:
		c.logger.Warn("send queue full", "type", messageType(msg))
		return ErrSendQueueFull
	}
}

func (c *Client) command(l *link, fn func()) error {
	if l.ctx.Err() != nil {
		return ErrNotConnected
	}
	select {
	case l.commands <- fn:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Client) endpoint(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) headers(cfg Config) http.Header {
	h := http.Header{}
	if cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	h.Set("OpenAI-Beta", "realtime=v1")
	return h
}
