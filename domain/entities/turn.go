package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TurnStatus represents how far a voice turn progressed
type TurnStatus string

const (
	TurnStatusPending     TurnStatus = "pending"
	TurnStatusTranscribed TurnStatus = "transcribed"
	TurnStatusCompleted   TurnStatus = "completed"
	TurnStatusSynthesized TurnStatus = "synthesized"
	TurnStatusFailed      TurnStatus = "failed"
)

// FailureKind classifies why a turn failed
type FailureKind string

const (
	FailureIO              FailureKind = "io_error"
	FailureInvalidInput    FailureKind = "invalid_input"
	FailureNoSpeech        FailureKind = "no_speech_detected"
	FailureTranscription   FailureKind = "transcription_error"
	FailureRemoteAPI       FailureKind = "remote_api_error"
	FailureCompletion      FailureKind = "completion_error"
	FailureEmptyCompletion FailureKind = "empty_completion"
	FailureSynthesis       FailureKind = "synthesis_error"
	FailureTimeout         FailureKind = "timeout"
	FailureBusy            FailureKind = "busy"
)

// Stage names a pipeline step
type Stage string

const (
	StageNormalize  Stage = "normalize"
	StageTranscribe Stage = "transcribe"
	StageComplete   Stage = "complete"
	StageSynthesize Stage = "synthesize"
)

var ErrInvalidTransition = errors.New("invalid voice turn transition")

// TurnFailure records the failing stage and the underlying error.
// Err keeps the original typed error so callers can use errors.As on it.
type TurnFailure struct {
	Kind  FailureKind
	Stage Stage
	Err   error
}

func (f *TurnFailure) Error() string {
	return fmt.Sprintf("%s at %s: %v", f.Kind, f.Stage, f.Err)
}

func (f *TurnFailure) Unwrap() error { return f.Err }

// ResponseAudio is the synthesized reply, read into memory before artifacts are removed
type ResponseAudio struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// StageRecord is the timing of one executed stage
type StageRecord struct {
	Stage     Stage         `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// VoiceTurn is one request/response cycle of the assistant
type VoiceTurn struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Status         TurnStatus     `json:"status"`
	Transcript     string         `json:"transcript,omitempty"`
	CompletionText string         `json:"completion_text,omitempty"`
	ResponseAudio  *ResponseAudio `json:"response_audio,omitempty"`
	Failure        *TurnFailure   `json:"-"`
	Stages         []StageRecord  `json:"stages,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// NewVoiceTurn creates a pending turn for a session
func NewVoiceTurn(sessionID string) *VoiceTurn {
	return &VoiceTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    TurnStatusPending,
		StartedAt: time.Now(),
	}
}

// MarkTranscribed stores the transcript of a pending turn
func (t *VoiceTurn) MarkTranscribed(transcript string) error {
	if t.Status != TurnStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TurnStatusTranscribed)
	}
	if transcript == "" {
		return fmt.Errorf("%w: empty transcript", ErrInvalidTransition)
	}
	t.Transcript = transcript
	t.Status = TurnStatusTranscribed
	return nil
}

// MarkCompleted stores the assistant reply of a transcribed turn
func (t *VoiceTurn) MarkCompleted(reply string) error {
	if t.Status != TurnStatusTranscribed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TurnStatusCompleted)
	}
	t.CompletionText = reply
	t.Status = TurnStatusCompleted
	return nil
}

// MarkSynthesized attaches the response audio of a completed turn
func (t *VoiceTurn) MarkSynthesized(audio *ResponseAudio) error {
	if t.Status != TurnStatusCompleted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TurnStatusSynthesized)
	}
	if audio == nil {
		return fmt.Errorf("%w: missing response audio", ErrInvalidTransition)
	}
	t.ResponseAudio = audio
	t.Status = TurnStatusSynthesized
	return nil
}

// Fail moves a non-terminal turn to failed, keeping fields set so far
func (t *VoiceTurn) Fail(failure *TurnFailure) error {
	if t.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TurnStatusFailed)
	}
	t.Failure = failure
	t.Status = TurnStatusFailed
	return nil
}

// IsTerminal reports whether the turn reached synthesized or failed
func (t *VoiceTurn) IsTerminal() bool {
	return t.Status == TurnStatusSynthesized || t.Status == TurnStatusFailed
}

// FailureKind returns the failure kind, or "" for a turn that did not fail
func (t *VoiceTurn) FailureKind() FailureKind {
	if t.Failure == nil {
		return ""
	}
	return t.Failure.Kind
}

// HasReply reports whether the assistant text is available, even on a failed turn
func (t *VoiceTurn) HasReply() bool {
	return t.Transcript != "" && t.CompletionText != ""
}

// DisplayText renders the exchange for a text surface
func (t *VoiceTurn) DisplayText() string {
	return fmt.Sprintf("You: %s\nAssistant: %s", t.Transcript, t.CompletionText)
}

// Duration is the wall time of the whole turn
func (t *VoiceTurn) Duration() time.Duration {
	if t.FinishedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
