package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxQuestions is how many interviewer questions are asked before the
// candidate is invited to ask their own.
const DefaultMaxQuestions = 8

// Phase is the stage an interview has reached.
type Phase string

const (
	PhaseIntro              Phase = "intro"
	PhaseQuestions          Phase = "questions"
	PhaseCandidateQuestions Phase = "candidate_questions"
	PhaseClosing            Phase = "closing"
)

// CandidateProfile is the per-candidate context folded into the interviewer
// instructions.
type CandidateProfile struct {
	Name       string   `json:"name"`
	CVSummary  string   `json:"cv_summary"`
	RoleTitle  string   `json:"role_title"`
	FocusAreas []string `json:"focus_areas"`
}

// Interview is a high-level API for running one voice screening interview.
// It wraps a Client, builds the interviewer instructions, follows the
// interview through its phases and handles barge-in.
//
// Example:
//
//	client := realtime.New(cfg, mic, speaker)
//	iv := realtime.NewInterview(client, &realtime.CandidateProfile{
//		Name:      "Thandi",
//		RoleTitle: "Financial Controller",
//	})
//	if _, err := iv.Start(ctx); err != nil {
//		return err
//	}
//	for ev := range iv.Events() {
//		// render transcript, state changes
//	}
//	transcript, err := iv.End()
type Interview struct {
	client       *Client
	profile      *CandidateProfile
	instructions string
	maxQuestions int
	bargeIn      bool
	logger       Logger

	mu             sync.Mutex
	phase          Phase
	questionsAsked int
	started        bool
	ended          bool

	events chan Event
	done   chan struct{}
}

// NewInterview creates an interview on client. A nil profile produces
// generic interviewer instructions.
func NewInterview(client *Client, profile *CandidateProfile) *Interview {
	return NewInterviewWithLogger(client, profile, &NoOpLogger{})
}

// NewInterviewWithLogger creates an interview with a custom logger
func NewInterviewWithLogger(client *Client, profile *CandidateProfile, logger Logger) *Interview {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Interview{
		client:       client,
		profile:      profile,
		maxQuestions: DefaultMaxQuestions,
		bargeIn:      true,
		logger:       logger,
		phase:        PhaseIntro,
		events:       make(chan Event, cap(client.events)),
		done:         make(chan struct{}),
	}
}

// SetMaxQuestions changes how many questions are asked before the wrap-up.
func (iv *Interview) SetMaxQuestions(n int) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if n > 0 {
		iv.maxQuestions = n
	}
}

// SetInstructions replaces the generated instructions with text, verbatim.
func (iv *Interview) SetInstructions(text string) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.instructions = text
}

// SetBargeIn controls whether caller speech interrupts the interviewer.
// Enabled by default.
func (iv *Interview) SetBargeIn(enabled bool) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.bargeIn = enabled
}

// Instructions returns the instruction text the session is configured with.
func (iv *Interview) Instructions() string {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.instructions != "" {
		return iv.instructions
	}
	return BuildInstructions(iv.profile)
}

// Start connects and begins following the conversation. Events from the
// client are forwarded on Events().
func (iv *Interview) Start(ctx context.Context) (Session, error) {
	iv.mu.Lock()
	if iv.ended {
		iv.mu.Unlock()
		return Session{}, ErrAlreadyClosed
	}
	if iv.started {
		iv.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	iv.mu.Unlock()

	iv.client.SetInstructions(iv.Instructions())
	session, err := iv.client.Connect(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start interview: %w", err)
	}

	iv.mu.Lock()
	if iv.ended {
		iv.mu.Unlock()
		return Session{}, ErrAlreadyClosed
	}
	iv.started = true
	iv.mu.Unlock()

	go iv.watch()
	iv.logger.Info("interview started", "sessionID", session.ID, "candidate", iv.candidateName())
	return session, nil
}

// Events returns forwarded client events. It is closed after End.
func (iv *Interview) Events() <-chan Event {
	return iv.events
}

func (iv *Interview) Phase() Phase {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.phase
}

// QuestionsAsked counts interviewer utterances that contained a question.
func (iv *Interview) QuestionsAsked() int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.questionsAsked
}

func (iv *Interview) Transcript() []TranscriptItem {
	return iv.client.Transcript()
}

// End closes the session and returns the complete transcript for handoff
// to whatever analyses it. Calls after the first only return the transcript.
func (iv *Interview) End() ([]TranscriptItem, error) {
	iv.mu.Lock()
	if iv.ended {
		iv.mu.Unlock()
		return iv.client.Transcript(), nil
	}
	iv.ended = true
	iv.phase = PhaseClosing
	started := iv.started
	iv.mu.Unlock()

	err := iv.client.Close()
	if started {
		<-iv.done
	} else {
		close(iv.events)
	}

	transcript := iv.client.Transcript()
	iv.logger.Info("interview ended", "items", len(transcript), "questions", iv.QuestionsAsked())
	return transcript, err
}

func (iv *Interview) watch() {
	defer close(iv.done)
	defer close(iv.events)

	for ev := range iv.client.Events() {
		switch ev.Type {
		case TranscriptFinal:
			if item, ok := ev.Data.(TranscriptItem); ok && item.Role == RoleRemote {
				iv.track(item.Text)
			}
		case SpeechStarted:
			iv.maybeBargeIn()
		}

		select {
		case iv.events <- ev:
		default:
			iv.logger.Warn("interview event buffer full, dropping event", "type", string(ev.Type))
		}
	}
}

// track advances the phase from one interviewer utterance. Once enough
// questions have been asked, the interviewer is told to take the
// candidate's questions and close.
func (iv *Interview) track(text string) {
	if !strings.Contains(text, "?") {
		return
	}

	iv.mu.Lock()
	iv.questionsAsked++
	if iv.phase == PhaseIntro {
		iv.phase = PhaseQuestions
	}
	wrapUp := iv.phase == PhaseQuestions && iv.questionsAsked >= iv.maxQuestions
	if wrapUp {
		iv.phase = PhaseCandidateQuestions
	}
	asked := iv.questionsAsked
	iv.mu.Unlock()

	if !wrapUp {
		return
	}
	iv.logger.Info("question limit reached", "questions", asked)
	if err := iv.client.UpdateInstructions(iv.Instructions() + "\n\n" + wrapUpInstructions); err != nil {
		iv.logger.Warn("failed to send wrap-up instructions", "error", err)
	}
}

func (iv *Interview) maybeBargeIn() {
	iv.mu.Lock()
	enabled := iv.bargeIn
	iv.mu.Unlock()
	if !enabled {
		return
	}
	if iv.client.State() != StateSpeaking && !iv.client.PlaybackActive() {
		return
	}
	if err := iv.client.Interrupt(); err != nil && !errors.Is(err, ErrNoActiveResponse) {
		iv.logger.Warn("barge-in failed", "error", err)
	}
}

func (iv *Interview) candidateName() string {
	if iv.profile == nil {
		return ""
	}
	return iv.profile.Name
}

// CountQuestions counts interviewer items containing a question mark.
func CountQuestions(items []TranscriptItem) int {
	n := 0
	for _, item := range items {
		if item.Role == RoleRemote && strings.Contains(item.Text, "?") {
			n++
		}
	}
	return n
}

const wrapUpInstructions = `You have asked all of your planned questions. Ask the candidate whether they have any questions about the role, answer briefly or say you will pass them to the hiring team, then thank them and close the interview.`

const genericInstructions = `You are a professional voice interviewer running a screening interview.

Rules:
- Keep every response to two or three sentences; this is a spoken conversation.
- Ask one question at a time.
- Listen for concrete examples and numbers, and probe when an answer is vague.
- Stay professional and encouraging.

Open with a short greeting, then ask about the candidate's background.`

// BuildInstructions renders interviewer instructions for profile. A nil
// profile gives generic instructions.
func BuildInstructions(profile *CandidateProfile) string {
	if profile == nil {
		return genericInstructions
	}

	focus := strings.Join(profile.FocusAreas, ", ")
	if focus == "" {
		focus = "the core requirements of the role"
	}
	role := profile.RoleTitle
	if role == "" {
		role = "open"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional voice interviewer running a screening interview for the %s position.\n\n", role)
	b.WriteString("Candidate:\n")
	fmt.Fprintf(&b, "- Name: %s\n", profile.Name)
	if profile.CVSummary != "" {
		fmt.Fprintf(&b, "- CV summary: %s\n", profile.CVSummary)
	}
	fmt.Fprintf(&b, "- Areas to explore: %s\n\n", focus)

	b.WriteString("Structure:\n")
	fmt.Fprintf(&b, "1. Introduction: greet %s, explain that this is an AI-assisted screening interview and that it is recorded for review.\n", profile.Name)
	b.WriteString("2. Background: current role, responsibilities, measurable achievements, career progression.\n")
	fmt.Fprintf(&b, "3. Role-specific: behavioural questions on %s. Ask for specific situations, actions and results.\n", focus)
	b.WriteString("4. Candidate questions: invite questions about the role.\n")
	b.WriteString("5. Closing: thank them and explain that the hiring team will review the interview.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Keep every response to two or three sentences; this is a spoken conversation.\n")
	b.WriteString("- Ask one question at a time.\n")
	b.WriteString("- When an answer is vague, ask for a specific example.\n")
	b.WriteString("- Note anything that does not match the CV.\n\n")

	fmt.Fprintf(&b, "Begin by greeting %s and explaining how the interview will run.", profile.Name)
	return b.String()
}
