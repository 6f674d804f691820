package realtime

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// AudioSource is a capture device producing fixed-size frames of normalized
// samples. Start blocks until the device is acquired; onFrame is then called
// from the device's own goroutine until Stop returns.
type AudioSource interface {
	Start(ctx context.Context, sampleRate, frameSize int, onFrame func([]float32)) error
	Stop() error
}

// AudioSink is an output device. Play hands samples to the device and returns
// once they are rendered, apart from a short lookahead that keeps consecutive
// calls gapless. Flush discards anything buffered immediately.
type AudioSink interface {
	Play(ctx context.Context, samples []float32) error
	Flush()
}

// State is the conversational state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateListening
	StateSpeaking
	StateProcessing
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateListening:    "listening",
	StateSpeaking:     "speaking",
	StateProcessing:   "processing",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Role identifies who spoke a transcript item.
type Role string

const (
	RoleCaller Role = "user"
	RoleRemote Role = "assistant"
)

// TranscriptItem is one recorded utterance.
type TranscriptItem struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// ItemID correlates the text with the conversation item that carried the audio.
	ItemID string `json:"item_id,omitempty"`
}

type Voice string

const (
	VoiceAlloy   Voice = "alloy"
	VoiceAsh     Voice = "ash"
	VoiceBallad  Voice = "ballad"
	VoiceCoral   Voice = "coral"
	VoiceEcho    Voice = "echo"
	VoiceSage    Voice = "sage"
	VoiceShimmer Voice = "shimmer"
	VoiceVerse   Voice = "verse"
)

// ValidVoice reports whether v is a voice the remote service accepts.
func ValidVoice(v Voice) bool {
	switch v {
	case VoiceAlloy, VoiceAsh, VoiceBallad, VoiceCoral, VoiceEcho, VoiceSage, VoiceShimmer, VoiceVerse:
		return true
	}
	return false
}

// TurnDetection configures server-side voice activity detection. A nil
// *TurnDetection in Config selects manual turn-taking.
type TurnDetection struct {
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
}

// LocalVADConfig tunes the client-side detector used in manual turn-taking.
type LocalVADConfig struct {
	Threshold float64
	// EchoThreshold replaces Threshold while playback is active.
	EchoThreshold float64
	SilenceLimit  time.Duration
	MinConfirmed  int
	// EchoCorrelation rejects frames that correlate with played audio above
	// this score. Zero disables it.
	EchoCorrelation float64
}

type Config struct {
	URL    string
	APIKey string
	Model  string
	Voice  Voice
	// Instructions is sent verbatim as the session instructions.
	Instructions            string
	Temperature             float64
	MaxResponseOutputTokens int
	TurnDetection           *TurnDetection
	// InputTranscriptionModel enables caller transcription when non-empty.
	InputTranscriptionModel string
	SampleRate              int
	FrameSize               int
	HandshakeTimeout        time.Duration
	ReadLimit               int64
	SendQueueSize           int
	EventBufferSize         int
	// EmitPartialTranscripts forwards remote transcript deltas to Events().
	EmitPartialTranscripts bool
	// LocalVAD drives commit/response/interrupt from captured audio when
	// TurnDetection is nil.
	LocalVAD *LocalVADConfig
}

func DefaultTurnDetection() *TurnDetection {
	return &TurnDetection{
		Threshold:       0.5,
		PrefixPadding:   300 * time.Millisecond,
		SilenceDuration: 500 * time.Millisecond,
	}
}

func DefaultLocalVAD() *LocalVADConfig {
	return &LocalVADConfig{
		Threshold:       0.02,
		EchoThreshold:   0.15,
		SilenceLimit:    500 * time.Millisecond,
		MinConfirmed:    3,
		EchoCorrelation: 0.55,
	}
}

func DefaultConfig() Config {
	return Config{
		URL:                     "wss://api.openai.com/v1/realtime",
		Model:                   "gpt-4o-realtime-preview-2024-12-17",
		Voice:                   VoiceAlloy,
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
		TurnDetection:           DefaultTurnDetection(),
		InputTranscriptionModel: "whisper-1",
		SampleRate:              24000,
		FrameSize:               4096,
		HandshakeTimeout:        15 * time.Second,
		ReadLimit:               16 * 1024 * 1024,
		SendQueueSize:           256,
		EventBufferSize:         1024,
	}
}

// Session describes the live conversation on a Client.
type Session struct {
	// ID is assigned by the remote service in session.created.
	ID         string
	Config     Config
	State      State
	ResponseID string
	CreatedAt  time.Time
}

type EventType string

const (
	Connected         EventType = "CONNECTED"
	Disconnected      EventType = "DISCONNECTED"
	StateChanged      EventType = "STATE_CHANGED"
	SpeechStarted     EventType = "SPEECH_STARTED"
	SpeechStopped     EventType = "SPEECH_STOPPED"
	TranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	TranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	// AudioReceived carries the decoded audio.Chunk that was queued for playback.
	AudioReceived EventType = "AUDIO_RECEIVED"
	ResponseDone  EventType = "RESPONSE_DONE"
	Interrupted   EventType = "INTERRUPTED"
	ErrorEvent    EventType = "ERROR"
)

// Event is an observer notification published on Client.Events().
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

// StateChange is the Data of a StateChanged event.
type StateChange struct {
	From State
	To   State
}
