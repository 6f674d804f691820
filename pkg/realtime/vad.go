package realtime

import (
	"time"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)

type VADEvent struct {
	Type VADEventType
	RMS  float64
}

// RMSVAD is a Root Mean Square voice activity detector for manual
// turn-taking. Silence is measured in captured audio time, not wall time.
type RMSVAD struct {
	threshold     float64
	echoThreshold float64
	silenceLimit  time.Duration
	minConfirmed  int
	sampleRate    int

	isSpeaking        bool
	silence           time.Duration
	consecutiveFrames int
	lastRMS           float64
}

func NewRMSVAD(cfg LocalVADConfig, sampleRate int) *RMSVAD {
	if cfg.MinConfirmed < 1 {
		cfg.MinConfirmed = 1
	}
	if cfg.EchoThreshold < cfg.Threshold {
		cfg.EchoThreshold = cfg.Threshold
	}
	return &RMSVAD{
		threshold:     cfg.Threshold,
		echoThreshold: cfg.EchoThreshold,
		silenceLimit:  cfg.SilenceLimit,
		minConfirmed:  cfg.MinConfirmed,
		sampleRate:    sampleRate,
	}
}

// LastRMS returns the RMS of the last processed frame
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

func (v *RMSVAD) IsSpeaking() bool {
	return v.isSpeaking
}

// Process classifies one frame. While echoGuard is set the higher echo
// threshold applies, so the remote party's own voice leaking back from the
// speakers is not taken for caller speech. It returns nil while a speech
// start is still being confirmed or while speech continues.
func (v *RMSVAD) Process(frame []float32, echoGuard bool) *VADEvent {
	rms := audio.RMS(frame)
	v.lastRMS = rms

	threshold := v.threshold
	if echoGuard {
		threshold = v.echoThreshold
	}

	if rms > threshold {
		v.consecutiveFrames++
		v.silence = 0
		if !v.isSpeaking && v.consecutiveFrames >= v.minConfirmed {
			v.isSpeaking = true
			return &VADEvent{Type: VADSpeechStart, RMS: rms}
		}
		return nil
	}

	v.consecutiveFrames = 0
	if v.isSpeaking {
		v.silence += v.frameDuration(len(frame))
		if v.silence >= v.silenceLimit {
			v.isSpeaking = false
			v.silence = 0
			return &VADEvent{Type: VADSpeechEnd, RMS: rms}
		}
		return nil
	}
	return &VADEvent{Type: VADSilence, RMS: rms}
}

func (v *RMSVAD) frameDuration(samples int) time.Duration {
	if v.sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(v.sampleRate)
}

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silence = 0
	v.consecutiveFrames = 0
}
