package entities

import (
	"errors"
	"time"

	"github.com/vocalis/server/domain"
)

// Channel identifies the front-end a turn came from
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelWebSocket Channel = "websocket"
	ChannelTelegram  Channel = "telegram"
)

// TurnRecord is the operator-facing outcome of a turn.
// It never carries transcript, reply or audio.
type TurnRecord struct {
	TurnID          string        `json:"turn_id" bson:"turn_id"`
	SessionID       string        `json:"session_id" bson:"session_id"`
	Channel         Channel       `json:"channel" bson:"channel"`
	Status          TurnStatus    `json:"status" bson:"status"`
	FailureKind     FailureKind   `json:"failure_kind,omitempty" bson:"failure_kind,omitempty"`
	FailedStage     Stage         `json:"failed_stage,omitempty" bson:"failed_stage,omitempty"`
	RemoteStatus    int           `json:"remote_status,omitempty" bson:"remote_status,omitempty"`
	Stages          []StageRecord `json:"stages" bson:"stages"`
	TranscriptChars int           `json:"transcript_chars" bson:"transcript_chars"`
	ReplyChars      int           `json:"reply_chars" bson:"reply_chars"`
	AudioBytes      int           `json:"audio_bytes" bson:"audio_bytes"`
	StartedAt       time.Time     `json:"started_at" bson:"started_at"`
	DurationMs      int64         `json:"duration_ms" bson:"duration_ms"`
}

// NewTurnRecord summarises a finished turn
func NewTurnRecord(turn *VoiceTurn, channel Channel) TurnRecord {
	record := TurnRecord{
		TurnID:          turn.ID,
		SessionID:       turn.SessionID,
		Channel:         channel,
		Status:          turn.Status,
		FailureKind:     turn.FailureKind(),
		Stages:          turn.Stages,
		TranscriptChars: len([]rune(turn.Transcript)),
		ReplyChars:      len([]rune(turn.CompletionText)),
		StartedAt:       turn.StartedAt,
		DurationMs:      turn.Duration().Milliseconds(),
	}
	if turn.Failure != nil {
		record.FailedStage = turn.Failure.Stage
		var apiErr *domain.RemoteAPIError
		if errors.As(turn.Failure.Err, &apiErr) {
			record.RemoteStatus = apiErr.StatusCode
		}
	}
	if turn.ResponseAudio != nil {
		record.AudioBytes = len(turn.ResponseAudio.Data)
	}
	return record
}

// Validate checks the record before it is persisted
func (r *TurnRecord) Validate() error {
	if r.TurnID == "" {
		return errors.New("turn id is required")
	}
	if r.SessionID == "" {
		return errors.New("session id is required")
	}
	if r.Status != TurnStatusSynthesized && r.Status != TurnStatusFailed {
		return errors.New("only finished turns can be recorded")
	}
	if r.Status == TurnStatusFailed && r.FailureKind == "" {
		return errors.New("failed turn requires a failure kind")
	}
	return nil
}

// TurnStats aggregates recorded outcomes
type TurnStats struct {
	Total     int                 `json:"total"`
	ByStatus  map[TurnStatus]int  `json:"by_status"`
	ByFailure map[FailureKind]int `json:"by_failure"`
	ByChannel map[Channel]int     `json:"by_channel"`
}

// NewTurnStats returns empty counters
func NewTurnStats() TurnStats {
	return TurnStats{
		ByStatus:  make(map[TurnStatus]int),
		ByFailure: make(map[FailureKind]int),
		ByChannel: make(map[Channel]int),
	}
}

// Add counts one record
func (s *TurnStats) Add(r TurnRecord) {
	s.Total++
	s.ByStatus[r.Status]++
	s.ByChannel[r.Channel]++
	if r.FailureKind != "" {
		s.ByFailure[r.FailureKind]++
	}
}
