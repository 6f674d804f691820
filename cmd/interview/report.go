package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// Report is the transcript.json written at the end of an interview.
type Report struct {
	SessionID      string                     `json:"session_id"`
	Candidate      *realtime.CandidateProfile `json:"candidate,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	EndedAt        time.Time                  `json:"ended_at"`
	QuestionsAsked int                        `json:"questions_asked"`
	Transcript     []realtime.TranscriptItem  `json:"transcript"`
}

// saveSession writes transcript.json plus caller.wav and remote.wav into a
// per-session directory under root and returns that directory.
func saveSession(root string, report Report, caller, remote *audio.Recorder) (string, error) {
	name := report.SessionID
	if name == "" {
		name = "local_" + uuid.NewString()
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "transcript.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}

	if caller != nil {
		if err := caller.SaveWav(filepath.Join(dir, "caller.wav")); err != nil {
			return "", err
		}
	}
	if remote != nil {
		if err := remote.SaveWav(filepath.Join(dir, "remote.wav")); err != nil {
			return "", err
		}
	}
	return dir, nil
}
