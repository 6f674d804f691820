package realtime

import (
	"fmt"
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// Player is the playback side the machine commands.
type Player interface {
	Enqueue(chunk audio.Chunk)
	Flush()
}

// ResponseContext identifies the model response currently in flight.
type ResponseContext struct {
	ID        string
	CreatedAt time.Time
}

// MachineOptions wires the machine to its collaborators. Nil funcs are skipped.
type MachineOptions struct {
	// Configure sends session.update once the handshake is acknowledged.
	Configure func() error
	// StopCapture and Release run when the socket closes.
	StopCapture func()
	Release     func()
	Notify      func(Event)
	// EmitPartials forwards remote transcript deltas as TranscriptPartial.
	EmitPartials bool
	Now          func() time.Time
}

// Machine owns conversational state and the response context. It is not safe
// for concurrent use: exactly one goroutine feeds it events, and each Handle
// call finishes all of its side effects before returning.
type Machine struct {
	state     State
	response  *ResponseContext
	sessionID string

	player     Player
	transcript *Transcript
	opts       MachineOptions
	logger     Logger
}

func NewMachine(player Player, transcript *Transcript, opts MachineOptions, logger Logger) *Machine {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		state:      StateDisconnected,
		player:     player,
		transcript: transcript,
		opts:       opts,
		logger:     logger,
	}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) SessionID() string { return m.sessionID }

// Response returns the active response context, if any.
func (m *Machine) Response() (ResponseContext, bool) {
	if m.response == nil {
		return ResponseContext{}, false
	}
	return *m.response, true
}

// Begin moves a disconnected machine to connecting. It is the connect()
// lifecycle call.
func (m *Machine) Begin() bool {
	if m.state != StateDisconnected {
		return false
	}
	m.setState(StateConnecting)
	return true
}

// FlushPlayback halts local playback without touching state. Used by
// Interrupt when no response is in flight but queued audio is still playing.
func (m *Machine) FlushPlayback() {
	m.player.Flush()
	m.notify(Interrupted, nil)
}

// Handle applies one event. Pairs of state and event that the transition
// table does not list leave state untouched and fire no side effects. The
// returned error is for the caller to surface; state is already consistent.
func (m *Machine) Handle(ev ServerEvent) error {
	switch ev.Kind {
	case KindSessionCreated:
		if m.state != StateConnecting {
			return nil
		}
		m.sessionID = ev.SessionID
		var err error
		if m.opts.Configure != nil {
			err = m.opts.Configure()
		}
		m.setState(StateConnected)
		m.notify(Connected, m.sessionID)
		if err != nil {
			return fmt.Errorf("session configuration failed: %w", err)
		}

	case KindSpeechStarted:
		if m.state == StateConnected || m.state == StateProcessing {
			m.setState(StateListening)
		}
		m.notify(SpeechStarted, nil)

	case KindSpeechStopped:
		m.notify(SpeechStopped, nil)

	case KindInputCommitted:
		if m.state == StateListening || m.state == StateConnected {
			m.setState(StateProcessing)
		}

	case KindInputTranscriptCompleted:
		if ev.Transcript == "" {
			return nil
		}
		m.record(RoleCaller, ev)

	case KindResponseCreated:
		if m.response != nil {
			return fmt.Errorf("%w: %s rejected while %s is in flight", ErrResponseActive, ev.ResponseID, m.response.ID)
		}
		if m.state != StateProcessing && m.state != StateConnected {
			m.logger.Debug("response ignored", "responseID", ev.ResponseID, "state", m.state.String())
			return nil
		}
		m.response = &ResponseContext{ID: ev.ResponseID, CreatedAt: m.opts.Now()}
		m.setState(StateSpeaking)

	case KindAudioDelta:
		if m.state != StateSpeaking {
			return nil
		}
		m.player.Enqueue(ev.Audio)
		m.notify(AudioReceived, ev.Audio)

	case KindTranscriptDelta:
		if m.state == StateSpeaking && m.opts.EmitPartials {
			m.notify(TranscriptPartial, ev.Delta)
		}

	case KindTranscriptDone:
		if m.state != StateSpeaking || ev.Transcript == "" {
			return nil
		}
		m.record(RoleRemote, ev)

	case KindResponseDone:
		if m.state != StateSpeaking {
			return nil
		}
		m.response = nil
		m.setState(StateConnected)
		m.notify(ResponseDone, ev.ResponseID)

	case KindResponseCancelled:
		// A cancellation racing a natural completion finds no response left.
		if m.response == nil {
			m.logger.Debug("cancellation without active response", "state", m.state.String())
			return nil
		}
		m.player.Flush()
		m.response = nil
		m.setState(StateConnected)
		m.notify(Interrupted, ev.ResponseID)

	case KindError:
		return ev.Err

	case KindSocketClosed:
		if m.state == StateDisconnected {
			return nil
		}
		if m.opts.StopCapture != nil {
			m.opts.StopCapture()
		}
		m.player.Flush()
		if m.opts.Release != nil {
			m.opts.Release()
		}
		m.response = nil
		m.setState(StateDisconnected)
		m.notify(Disconnected, ev.Cause)
	}
	return nil
}

func (m *Machine) record(role Role, ev ServerEvent) {
	item := m.transcript.Append(TranscriptItem{
		Role:      role,
		Text:      ev.Transcript,
		Timestamp: m.opts.Now(),
		ItemID:    ev.ItemID,
	})
	m.notify(TranscriptFinal, item)
}

func (m *Machine) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.Debug("state changed", "sessionID", m.sessionID, "from", from.String(), "to", to.String())
	m.notify(StateChanged, StateChange{From: from, To: to})
}

func (m *Machine) notify(t EventType, data interface{}) {
	if m.opts.Notify == nil {
		return
	}
	m.opts.Notify(Event{Type: t, SessionID: m.sessionID, Data: data})
}
