package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrNoAPIKey is returned when a remote completion backend is built without a bearer token.
	ErrNoAPIKey = errors.New("completion API key is required")

	// ErrInvalidRequest is returned for a completion request without a model or messages.
	ErrInvalidRequest = errors.New("invalid completion request")

	// ErrEmptyCompletion is returned when the remote API answers 200 with zero choices.
	ErrEmptyCompletion = errors.New("completion returned no choices")

	// ErrEmptySynthesisText is returned before the engine is called when there is nothing to speak.
	ErrEmptySynthesisText = errors.New("synthesis text is empty")

	// ErrNoSpeechDetected marks a turn whose transcript came back empty.
	ErrNoSpeechDetected = errors.New("no speech detected")

	// ErrInvalidInput marks a turn submitted without audio or without a session id.
	ErrInvalidInput = errors.New("invalid voice turn input")

	// ErrSessionNotFound is returned when a session id is unknown or was removed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session exists but can no longer take turns.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionExists is returned when a session id is created twice.
	ErrSessionExists = errors.New("session already exists")
)

// maxErrorBodyBytes bounds how much of a remote error body is kept in memory.
const maxErrorBodyBytes = 4096

// RemoteAPIError is a non-success HTTP answer from the completion API.
// Body is the raw response text and must only ever reach logs.
type RemoteAPIError struct {
	StatusCode int
	Body       string
}

// NewRemoteAPIError builds a RemoteAPIError, truncating oversized bodies.
func NewRemoteAPIError(statusCode int, body []byte) *RemoteAPIError {
	if len(body) > maxErrorBodyBytes {
		cut := maxErrorBodyBytes
		// never split a multi-byte character
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return &RemoteAPIError{StatusCode: statusCode, Body: string(body)}
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("completion API returned status %d", e.StatusCode)
}

// IsRateLimited reports whether the remote API throttled the request.
func (e *RemoteAPIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError reports whether the remote API failed on its side.
func (e *RemoteAPIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// TranscriptionError wraps a speech-to-text engine failure.
type TranscriptionError struct {
	Engine string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (%s): %v", e.Engine, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// SynthesisError wraps a text-to-speech engine failure.
type SynthesisError struct {
	Engine   string
	Language string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed (%s, %s): %v", e.Engine, e.Language, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IOError wraps a failure reading or writing a turn artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
