package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a message is sent without a live socket
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyClosed is returned by operations on a closed client
	ErrAlreadyClosed = errors.New("realtime: client closed")

	// ErrSessionActive is returned by Connect while a previous session is still live
	ErrSessionActive = errors.New("realtime: session already active")

	// ErrResponseActive marks a response.created rejected because another response is in flight
	ErrResponseActive = errors.New("realtime: a response is already active")

	// ErrNoActiveResponse is returned by Interrupt when nothing is being said or played
	ErrNoActiveResponse = errors.New("realtime: no active response")

	// ErrHandshakeTimeout is returned when session.created does not arrive in time
	ErrHandshakeTimeout = errors.New("realtime: handshake timed out")

	// ErrSendQueueFull is returned when the outbound queue cannot accept more messages
	ErrSendQueueFull = errors.New("realtime: send queue full")

	// ErrDeviceNotConfigured is returned when capture is requested without an AudioSource
	ErrDeviceNotConfigured = errors.New("realtime: audio device not configured")
)

// ConnectionError is a handshake or transport failure. It is fatal to the session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DeviceError reports an unavailable or denied audio device. It stops capture
// or playback but does not close the session.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ProtocolError is an inbound message that could not be interpreted. The
// message is dropped and the session continues.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed realtime message: %v", e.Err)
	}
	return fmt.Sprintf("malformed %s message: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RemoteError is an error event reported by the remote service.
type RemoteError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("remote error (%s): %s", e.Code, msg)
	}
	return "remote error: " + msg
}
