package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// Environment variables that override file values.
const (
	EnvAPIKey = "OPENAI_API_KEY"
	EnvModel  = "REALTIME_MODEL"
	EnvVoice  = "REALTIME_VOICE"
)

const (
	TurnModeServer = "server"
	TurnModeManual = "manual"
)

// Config is the complete CLI configuration
type Config struct {
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Audio     AudioConfig     `yaml:"audio"`
	Interview InterviewConfig `yaml:"interview"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Recording RecordingConfig `yaml:"recording"`
}

// RealtimeConfig describes the remote session
type RealtimeConfig struct {
	URL                     string              `yaml:"url"`
	APIKey                  string              `yaml:"api_key"`
	Model                   string              `yaml:"model"`
	Voice                   string              `yaml:"voice"`
	Temperature             float64             `yaml:"temperature"`
	MaxResponseOutputTokens int                 `yaml:"max_response_output_tokens"` // 0 is uncapped
	InputTranscriptionModel string              `yaml:"input_transcription_model"`
	HandshakeTimeout        time.Duration       `yaml:"handshake_timeout"`
	EmitPartialTranscripts  bool                `yaml:"emit_partial_transcripts"`
	TurnDetection           TurnDetectionConfig `yaml:"turn_detection"`
	LocalVAD                LocalVADConfig      `yaml:"local_vad"`
}

// TurnDetectionConfig selects server VAD or manual turn-taking
type TurnDetectionConfig struct {
	Mode            string        `yaml:"mode"`
	Threshold       float64       `yaml:"threshold"`
	PrefixPadding   time.Duration `yaml:"prefix_padding"`
	SilenceDuration time.Duration `yaml:"silence_duration"`
}

// LocalVADConfig drives turns from the microphone in manual mode
type LocalVADConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Threshold     float64       `yaml:"threshold"`
	EchoThreshold float64       `yaml:"echo_threshold"`
	SilenceLimit  time.Duration `yaml:"silence_limit"`
	MinConfirmed  int           `yaml:"min_confirmed"`
	// EchoCorrelation of 0 disables correlation-based echo rejection.
	EchoCorrelation float64 `yaml:"echo_correlation"`
}

// AudioConfig contains device parameters
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"` // samples per captured frame
	// PlaybackBuffer is how much rendered audio the output device may hold.
	PlaybackBuffer time.Duration `yaml:"playback_buffer"`
}

type InterviewConfig struct {
	MaxQuestions int  `yaml:"max_questions"`
	BargeIn      bool `yaml:"barge_in"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// RecordingConfig controls session artefacts. An empty Dir disables them.
type RecordingConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int    `yaml:"max_bytes"` // per direction
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	rt := realtime.DefaultConfig()
	td := realtime.DefaultTurnDetection()
	vad := realtime.DefaultLocalVAD()
	return &Config{
		Realtime: RealtimeConfig{
			URL:                     rt.URL,
			Model:                   rt.Model,
			Voice:                   string(rt.Voice),
			Temperature:             rt.Temperature,
			MaxResponseOutputTokens: rt.MaxResponseOutputTokens,
			InputTranscriptionModel: rt.InputTranscriptionModel,
			HandshakeTimeout:        rt.HandshakeTimeout,
			TurnDetection: TurnDetectionConfig{
				Mode:            TurnModeServer,
				Threshold:       td.Threshold,
				PrefixPadding:   td.PrefixPadding,
				SilenceDuration: td.SilenceDuration,
			},
			LocalVAD: LocalVADConfig{
				Threshold:       vad.Threshold,
				EchoThreshold:   vad.EchoThreshold,
				SilenceLimit:    vad.SilenceLimit,
				MinConfirmed:    vad.MinConfirmed,
				EchoCorrelation: vad.EchoCorrelation,
			},
		},
		Audio: AudioConfig{
			SampleRate:     rt.SampleRate,
			FrameSize:      rt.FrameSize,
			PlaybackBuffer: 200 * time.Millisecond,
		},
		Interview: InterviewConfig{
			MaxQuestions: realtime.DefaultMaxQuestions,
			BargeIn:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Recording: RecordingConfig{
			MaxBytes: 100 * 1024 * 1024,
		},
	}
}

// LoadEnv loads .env files into the process environment. A missing file is
// not an error; existing variables are never overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides the API key, model and voice from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Realtime.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Realtime.Model = v
	}
	if v := os.Getenv(EnvVoice); v != "" {
		c.Realtime.Voice = v
	}
}

func (c *Config) Validate() error {
	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Interview.Validate(); err != nil {
		return fmt.Errorf("interview config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}
	return nil
}

func (r *RealtimeConfig) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set %s)", EnvAPIKey)
	}
	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if !realtime.ValidVoice(realtime.Voice(r.Voice)) {
		return fmt.Errorf("unknown voice '%s'", r.Voice)
	}
	if r.Temperature < 0.6 || r.Temperature > 1.2 {
		return fmt.Errorf("temperature must be between 0.6 and 1.2, got %f", r.Temperature)
	}
	if r.MaxResponseOutputTokens < 0 || r.MaxResponseOutputTokens > 4096 {
		return fmt.Errorf("max_response_output_tokens must be between 0 and 4096, got %d", r.MaxResponseOutputTokens)
	}
	if r.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", r.HandshakeTimeout)
	}
	if err := r.TurnDetection.Validate(); err != nil {
		return fmt.Errorf("turn_detection: %w", err)
	}
	if r.LocalVAD.Enabled {
		if r.TurnDetection.Mode != TurnModeManual {
			return fmt.Errorf("local_vad requires turn_detection.mode '%s'", TurnModeManual)
		}
		if err := r.LocalVAD.Validate(); err != nil {
			return fmt.Errorf("local_vad: %w", err)
		}
	}
	return nil
}

func (t *TurnDetectionConfig) Validate() error {
	switch t.Mode {
	case TurnModeManual:
		return nil
	case TurnModeServer:
	default:
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", TurnModeServer, TurnModeManual, t.Mode)
	}
	if t.Threshold < 0 || t.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", t.Threshold)
	}
	if t.PrefixPadding < 0 || t.SilenceDuration <= 0 {
		return fmt.Errorf("prefix_padding must not be negative and silence_duration must be positive")
	}
	return nil
}

func (l *LocalVADConfig) Validate() error {
	if l.Threshold <= 0 || l.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", l.Threshold)
	}
	if l.EchoThreshold != 0 && l.EchoThreshold < l.Threshold {
		return fmt.Errorf("echo_threshold (%f) must not be below threshold (%f)", l.EchoThreshold, l.Threshold)
	}
	if l.SilenceLimit <= 0 {
		return fmt.Errorf("silence_limit must be positive, got %s", l.SilenceLimit)
	}
	if l.MinConfirmed < 1 {
		return fmt.Errorf("min_confirmed must be at least 1, got %d", l.MinConfirmed)
	}
	if l.EchoCorrelation < 0 || l.EchoCorrelation > 1 {
		return fmt.Errorf("echo_correlation must be between 0 and 1, got %f", l.EchoCorrelation)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate != 24000 {
		return fmt.Errorf("sample_rate must be 24000 Hz for pcm16 sessions, got %d", a.SampleRate)
	}
	if a.FrameSize < 256 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", a.FrameSize)
	}
	if a.PlaybackBuffer <= 0 {
		return fmt.Errorf("playback_buffer must be positive, got %s", a.PlaybackBuffer)
	}
	return nil
}

func (i *InterviewConfig) Validate() error {
	if i.MaxQuestions < 1 {
		return fmt.Errorf("max_questions must be at least 1, got %d", i.MaxQuestions)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}
	return nil
}

func (r *RecordingConfig) Validate() error {
	if r.Dir != "" && r.MaxBytes < 1 {
		return fmt.Errorf("max_bytes must be positive when recording, got %d", r.MaxBytes)
	}
	return nil
}

// RealtimeConfig converts the file configuration into a client Config.
func (c *Config) RealtimeConfig() realtime.Config {
	rc := realtime.DefaultConfig()
	rc.URL = c.Realtime.URL
	rc.APIKey = c.Realtime.APIKey
	rc.Model = c.Realtime.Model
	rc.Voice = realtime.Voice(c.Realtime.Voice)
	rc.Temperature = c.Realtime.Temperature
	rc.MaxResponseOutputTokens = c.Realtime.MaxResponseOutputTokens
	rc.InputTranscriptionModel = c.Realtime.InputTranscriptionModel
	rc.HandshakeTimeout = c.Realtime.HandshakeTimeout
	rc.EmitPartialTranscripts = c.Realtime.EmitPartialTranscripts
	rc.SampleRate = c.Audio.SampleRate
	rc.FrameSize = c.Audio.FrameSize

	td := c.Realtime.TurnDetection
	if td.Mode == TurnModeManual {
		rc.TurnDetection = nil
		if vad := c.Realtime.LocalVAD; vad.Enabled {
			rc.LocalVAD = &realtime.LocalVADConfig{
				Threshold:       vad.Threshold,
				EchoThreshold:   vad.EchoThreshold,
				SilenceLimit:    vad.SilenceLimit,
				MinConfirmed:    vad.MinConfirmed,
				EchoCorrelation: vad.EchoCorrelation,
			}
		}
	} else {
		rc.TurnDetection = &realtime.TurnDetection{
			Threshold:       td.Threshold,
			PrefixPadding:   td.PrefixPadding,
			SilenceDuration: td.SilenceDuration,
		}
	}
	return rc
}
