package stt

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/repositories"
)

// Transcriber joins engine segments into one transcript
type Transcriber struct {
	engine repositories.SpeechToText
	logger *zap.Logger
}

var _ repositories.Transcriber = (*Transcriber)(nil)

// NewTranscriber wraps a speech-to-text engine
func NewTranscriber(engine repositories.SpeechToText, logger *zap.Logger) *Transcriber {
	return &Transcriber{engine: engine, logger: logger}
}

// Transcribe returns the trimmed segments joined by single spaces.
// No segments, or only blank ones, yields "" with a nil error.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	start := time.Now()

	segments, err := t.engine.TranscribeFile(ctx, audioPath)
	if err != nil {
		return "", &domain.TranscriptionError{Engine: t.engine.Name(), Err: err}
	}

	transcript := JoinSegments(segments)

	t.logger.Info("Transcription completed",
		zap.String("engine", t.engine.Name()),
		zap.Int("segments", len(segments)),
		zap.Int("chars", len(transcript)),
		zap.Duration("elapsed", time.Since(start)))

	return transcript, nil
}

// JoinSegments trims every segment and joins the non-empty ones with a single space
func JoinSegments(segments []repositories.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
