package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-realtime/pkg/audio"
)

// Outbound message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeInputAudioCommit       = "input_audio_buffer.commit"
	TypeInputAudioClear        = "input_audio_buffer.clear"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

// Inbound message types.
const (
	TypeSessionCreated           = "session.created"
	TypeSessionUpdated           = "session.updated"
	TypeSpeechStarted            = "input_audio_buffer.speech_started"
	TypeSpeechStopped            = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted      = "input_audio_buffer.committed"
	TypeConversationItemCreated  = "conversation.item.created"
	TypeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated          = "response.created"
	TypeResponseAudioDelta       = "response.audio.delta"
	TypeResponseTranscriptDelta  = "response.audio_transcript.delta"
	TypeResponseTranscriptDone   = "response.audio_transcript.done"
	TypeResponseDone             = "response.done"
	TypeResponseCancelled        = "response.cancelled"
	TypeError                    = "error"
)

const (
	responseStatusCancelled      = "cancelled"
	audioFormatPCM16             = "pcm16"
	turnDetectionServerVAD       = "server_vad"
	conversationItemTypeMessage  = "message"
	contentTypeInputText         = "input_text"
	maxResponseOutputTokensNoCap = "inf"
)

// EventKind is the typed discriminator the state machine switches on.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindSessionCreated
	KindSessionUpdated
	KindSpeechStarted
	KindSpeechStopped
	KindInputCommitted
	KindItemCreated
	KindInputTranscriptCompleted
	KindResponseCreated
	KindAudioDelta
	KindTranscriptDelta
	KindTranscriptDone
	KindResponseDone
	KindResponseCancelled
	KindError
	// KindSocketClosed never arrives on the wire; the client injects it when the
	// transport ends.
	KindSocketClosed
)

var kindByType = map[string]EventKind{
	TypeSessionCreated:           KindSessionCreated,
	TypeSessionUpdated:           KindSessionUpdated,
	TypeSpeechStarted:            KindSpeechStarted,
	TypeSpeechStopped:            KindSpeechStopped,
	TypeInputAudioCommitted:      KindInputCommitted,
	TypeConversationItemCreated:  KindItemCreated,
	TypeInputTranscriptCompleted: KindInputTranscriptCompleted,
	TypeResponseCreated:          KindResponseCreated,
	TypeResponseAudioDelta:       KindAudioDelta,
	TypeResponseTranscriptDelta:  KindTranscriptDelta,
	TypeResponseTranscriptDone:   KindTranscriptDone,
	TypeResponseDone:             KindResponseDone,
	TypeResponseCancelled:        KindResponseCancelled,
	TypeError:                    KindError,
}

// ServerEvent is an inbound message reduced to the fields the client uses.
type ServerEvent struct {
	Kind           EventKind
	Type           string
	EventID        string
	SessionID      string
	ResponseID     string
	ResponseStatus string
	ItemID         string
	ItemRole       string
	Delta          string
	Transcript     string
	Audio          audio.Chunk
	Err            *RemoteError
	// Cause is set on KindSocketClosed.
	Cause error
}

type wireEvent struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id"`
	Session  *struct {
		ID string `json:"id"`
	} `json:"session"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Item       *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Role string `json:"role"`
	} `json:"item"`
	Delta      string       `json:"delta"`
	Transcript string       `json:"transcript"`
	Error      *RemoteError `json:"error"`
}

// ParseServerEvent decodes one inbound frame. Types the client does not act on
// come back as KindUnknown without error. Malformed frames return a
// *ProtocolError.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return ServerEvent{}, &ProtocolError{Err: err}
	}
	if w.Type == "" {
		return ServerEvent{}, &ProtocolError{Err: errors.New("missing type discriminator")}
	}

	ev := ServerEvent{
		Kind:       kindByType[w.Type],
		Type:       w.Type,
		EventID:    w.EventID,
		ItemID:     w.ItemID,
		Delta:      w.Delta,
		Transcript: w.Transcript,
		ResponseID: w.ResponseID,
	}
	if w.Session != nil {
		ev.SessionID = w.Session.ID
	}
	if w.Response != nil {
		if w.Response.ID != "" {
			ev.ResponseID = w.Response.ID
		}
		ev.ResponseStatus = w.Response.Status
	}
	if w.Item != nil {
		if ev.ItemID == "" {
			ev.ItemID = w.Item.ID
		}
		ev.ItemRole = w.Item.Role
	}

	switch ev.Kind {
	case KindSessionCreated:
		if ev.SessionID == "" {
			return ServerEvent{}, &ProtocolError{Type: w.Type, Err: errors.New("missing session.id")}
		}
	case KindResponseCreated:
		if ev.ResponseID == "" {
			return ServerEvent{}, &ProtocolError{Type: w.Type, Err: errors.New("missing response.id")}
		}
	case KindAudioDelta:
		chunk, err := audio.FromTransport(w.Delta)
		if err != nil {
			return ServerEvent{}, &ProtocolError{Type: w.Type, Err: err}
		}
		ev.Audio = chunk
	case KindResponseDone:
		// The service reports a cancelled response as response.done with a
		// cancelled status; both forms acknowledge response.cancel.
		if ev.ResponseStatus == responseStatusCancelled {
			ev.Kind = KindResponseCancelled
		}
	case KindError:
		if w.Error == nil {
			ev.Err = &RemoteError{}
		} else {
			ev.Err = w.Error
		}
		if ev.Err.EventID == "" {
			ev.Err.EventID = w.EventID
		}
	}
	return ev, nil
}

type clientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func newClientEvent(typ string) clientEvent {
	return clientEvent{EventID: "evt_" + uuid.NewString(), Type: typ}
}

type sessionUpdateMessage struct {
	clientEvent
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   Voice                `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	// TurnDetection is serialized as null for manual turn-taking.
	TurnDetection           *turnDetectionParams `json:"turn_detection"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens interface{}          `json:"max_response_output_tokens"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int64   `json:"prefix_padding_ms"`
	SilenceDurationMS int64   `json:"silence_duration_ms"`
}

type inputAudioAppendMessage struct {
	clientEvent
	Audio string `json:"audio"`
}

type conversationItemCreateMessage struct {
	clientEvent
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCancelMessage struct {
	clientEvent
	ResponseID string `json:"response_id,omitempty"`
}

// NewSessionUpdate builds the session configuration message for cfg.
func NewSessionUpdate(cfg Config) interface{} {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  audioFormatPCM16,
		OutputAudioFormat: audioFormatPCM16,
		Temperature:       cfg.Temperature,
	}
	if cfg.InputTranscriptionModel != "" {
		params.InputAudioTranscription = &transcriptionParams{Model: cfg.InputTranscriptionModel}
	}
	if td := cfg.TurnDetection; td != nil {
		params.TurnDetection = &turnDetectionParams{
			Type:              turnDetectionServerVAD,
			Threshold:         td.Threshold,
			PrefixPaddingMS:   td.PrefixPadding.Milliseconds(),
			SilenceDurationMS: td.SilenceDuration.Milliseconds(),
		}
	}
	if cfg.MaxResponseOutputTokens > 0 {
		params.MaxResponseOutputTokens = cfg.MaxResponseOutputTokens
	} else {
		params.MaxResponseOutputTokens = maxResponseOutputTokensNoCap
	}
	return sessionUpdateMessage{clientEvent: newClientEvent(TypeSessionUpdate), Session: params}
}

// NewInputAudioAppend wraps a PCM16 chunk for input_audio_buffer.append.
func NewInputAudioAppend(chunk audio.Chunk) interface{} {
	return inputAudioAppendMessage{
		clientEvent: newClientEvent(TypeInputAudioAppend),
		Audio:       audio.ToTransport(chunk),
	}
}

// NewUserText builds a text-only caller turn.
func NewUserText(text string) interface{} {
	return conversationItemCreateMessage{
		clientEvent: newClientEvent(TypeConversationItemCreate),
		Item: conversationItem{
			Type:    conversationItemTypeMessage,
			Role:    string(RoleCaller),
			Content: []contentPart{{Type: contentTypeInputText, Text: text}},
		},
	}
}

// NewResponseCancel cancels the given response, or whatever is in flight
// when responseID is empty.
func NewResponseCancel(responseID string) interface{} {
	return responseCancelMessage{clientEvent: newClientEvent(TypeResponseCancel), ResponseID: responseID}
}

// NewControl builds a message that carries only its type.
func NewControl(typ string) interface{} {
	return newClientEvent(typ)
}

func messageType(msg interface{}) string {
	switch m := msg.(type) {
	case clientEvent:
		return m.Type
	case sessionUpdateMessage:
		return m.Type
	case inputAudioAppendMessage:
		return m.Type
	case conversationItemCreateMessage:
		return m.Type
	case responseCancelMessage:
		return m.Type
	}
	return fmt.Sprintf("%T", msg)
}
