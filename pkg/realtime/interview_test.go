package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/coder/websocket"
)

func remoteUtterance(t *testing.T, conn *websocket.Conn, responseID, text string) {
	t.Helper()
	emit(t, conn, responseCreated(responseID))
	emit(t, conn, map[string]interface{}{
		"type":        TypeResponseTranscriptDone,
		"response_id": responseID,
		"item_id":     "item_" + responseID,
		"transcript":  text,
	})
	emit(t, conn, map[string]interface{}{
		"type":     TypeResponseDone,
		"response": map[string]interface{}{"id": responseID, "status": "completed"},
	})
}

func startInterview(t *testing.T, f *fakeRemote, profile *CandidateProfile) (*Interview, *websocket.Conn) {
	t.Helper()
	iv := NewInterview(New(testConfig(f.URL()), nil, nil), profile)
	if _, err := iv.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return iv, f.conn(t)
}

func TestBuildInstructions(t *testing.T) {
	text := BuildInstructions(&CandidateProfile{
		Name:       "Thandi",
		RoleTitle:  "Financial Controller",
		CVSummary:  "Ten years in audit.",
		FocusAreas: []string{"IFRS", "month-end close"},
	})
	for _, want := range []string{"Financial Controller", "Thandi", "Ten years in audit.", "IFRS, month-end close"} {
		if !strings.Contains(text, want) {
			t.Errorf("instructions missing %q", want)
		}
	}

	if BuildInstructions(nil) != genericInstructions {
		t.Error("nil profile should give generic instructions")
	}

	bare := BuildInstructions(&CandidateProfile{Name: "Sam"})
	if !strings.Contains(bare, "the core requirements of the role") {
		t.Error("expected default focus areas")
	}
	if strings.Contains(bare, "CV summary") {
		t.Error("empty CV summary should be left out")
	}
}

func TestInterview_StartSendsInstructions(t *testing.T) {
	f := newFakeRemote(true)
	defer f.server.Close()
	iv, _ := startInterview(t, f, &CandidateProfile{Name: "Thandi", RoleTitle: "Accountant"})
	defer iv.End()

	update := f.expect(t, TypeSessionUpdate)
	instructions := update["session"].(map[string]interface{})["instructions"].(string)
	if !strings.Contains(instructions, "Thandi") || !strings.Contains(instructions, "Accountant") {
		t.Errorf("unexpected instructions %q", instructions)
	}
	if iv.Phase() != PhaseIntro {
		t.Errorf("expected intro phase, got %s", iv.Phase())
	}

	if _, err := iv.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive on second start, got %v", err)
	}
}

func TestInterview_PhasesFollowQuestions(t *testing.T) {
	f := newFakeRemote(true)
	defer f.server.Close()
	iv, conn := startInterview(t, f, &CandidateProfile{Name: "Thandi"})
	defer iv.End()
	iv.SetMaxQuestions(2)
	f.expect(t, TypeSessionUpdate)

	remoteUtterance(t, conn, "resp_1", "Welcome. This interview is recorded.")
	waitOn(t, iv.Events(), ofType(ResponseDone))
	if iv.Phase() != PhaseIntro || iv.QuestionsAsked() != 0 {
		t.Fatalf("statement should not count: phase %s, asked %d", iv.Phase(), iv.QuestionsAsked())
	}

	remoteUtterance(t, conn, "resp_2", "What is your current role?")
	waitOn(t, iv.Events(), ofType(ResponseDone))
	if iv.Phase() != PhaseQuestions || iv.QuestionsAsked() != 1 {
		t.Fatalf("expected questions phase after one question: phase %s, asked %d", iv.Phase(), iv.QuestionsAsked())
	}

	remoteUtterance(t, conn, "resp_3", "Can you give me an example?")
	waitOn(t, iv.Events(), ofType(ResponseDone))
	if iv.Phase() != PhaseCandidateQuestions {
		t.Fatalf("expected candidate questions phase, got %s", iv.Phase())
	}

	update := f.expect(t, TypeSessionUpdate)
	instructions := update["session"].(map[string]interface{})["instructions"].(string)
	if !strings.HasSuffix(instructions, wrapUpInstructions) {
		t.Errorf("expected wrap-up instructions, got %q", instructions)
	}
}

func TestInterview_BargeInCancelsResponse(t *testing.T) {
	f := newFakeRemote(true)
	defer f.server.Close()
	iv, conn := startInterview(t, f, nil)
	defer iv.End()
	f.expect(t, TypeSessionUpdate)

	emit(t, conn, responseCreated("resp_1"))
	waitOn(t, iv.Events(), enteredState(StateSpeaking))
	emit(t, conn, map[string]interface{}{"type": TypeSpeechStarted})

	cancel := f.expect(t, TypeResponseCancel)
	if cancel["response_id"] != "resp_1" {
		t.Errorf("expected cancel for resp_1, got %v", cancel["response_id"])
	}
}

func TestInterview_BargeInDisabled(t *testing.T) {
	f := newFakeRemote(true)
	defer f.server.Close()
	iv, conn := startInterview(t, f, nil)
	defer iv.End()
	iv.SetBargeIn(false)
	f.expect(t, TypeSessionUpdate)

	emit(t, conn, responseCreated("resp_1"))
	waitOn(t, iv.Events(), enteredState(StateSpeaking))
	emit(t, conn, map[string]interface{}{"type": TypeSpeechStarted})
	waitOn(t, iv.Events(), ofType(SpeechStarted))

	iv.client.SendText("marker")
	if msg := f.next(t); msg["type"] != TypeConversationItemCreate {
		t.Errorf("expected no cancel before the marker, got %v", msg["type"])
	}
}

func TestInterview_EndReturnsTranscript(t *testing.T) {
	f := newFakeRemote(true)
	defer f.server.Close()
	iv, conn := startInterview(t, f, nil)

	emit(t, conn, map[string]interface{}{
		"type":       TypeInputTranscriptCompleted,
		"item_id":    "item_0",
		"transcript": "Hello.",
	})
	remoteUtterance(t, conn, "resp_1", "How are you?")
	waitOn(t, iv.Events(), ofType(ResponseDone))

	transcript, err := iv.End()
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if len(transcript) != 2 || transcript[0].Role != RoleCaller || transcript[1].Role != RoleRemote {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
	if CountQuestions(transcript) != 1 {
		t.Errorf("expected one question, got %d", CountQuestions(transcript))
	}
	if iv.Phase() != PhaseClosing {
		t.Errorf("expected closing, got %s", iv.Phase())
	}

	for range iv.Events() {
	}
}

func TestInterview_EndWithoutStart(t *testing.T) {
	iv := NewInterview(New(DefaultConfig(), nil, nil), nil)
	transcript, err := iv.End()
	if err != nil || len(transcript) != 0 {
		t.Errorf("unexpected result %v, %v", transcript, err)
	}
	if _, ok := <-iv.Events(); ok {
		t.Error("events should be closed")
	}
}

func TestInterview_EndTwice(t *testing.T) {
	t.Run("never started", func(t *testing.T) {
		iv := NewInterview(New(DefaultConfig(), nil, nil), nil)
		if _, err := iv.End(); err != nil {
			t.Fatalf("first end failed: %v", err)
		}
		if _, err := iv.End(); err != nil {
			t.Errorf("second end failed: %v", err)
		}
		if _, err := iv.Start(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed after end, got %v", err)
		}
	})

	t.Run("started", func(t *testing.T) {
		f := newFakeRemote(true)
		defer f.server.Close()
		iv, conn := startInterview(t, f, nil)

		remoteUtterance(t, conn, "resp_1", "How are you?")
		waitOn(t, iv.Events(), ofType(ResponseDone))

		first, err := iv.End()
		if err != nil {
			t.Fatalf("first end failed: %v", err)
		}
		second, err := iv.End()
		if err != nil {
			t.Errorf("second end failed: %v", err)
		}
		if len(first) != 1 || len(second) != len(first) {
			t.Errorf("expected the same transcript twice, got %d and %d items", len(first), len(second))
		}
		for range iv.Events() {
		}
	})
}
