package stt

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain/repositories"
)

// MockSpeechToText is a placeholder engine for development and tests
type MockSpeechToText struct {
	// Segments are returned for every file when set
	Segments []repositories.Segment
	Err      error
	Delay    time.Duration

	logger *zap.Logger
	calls  atomic.Int32
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text engine
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// Name implements repositories.SpeechToText
func (m *MockSpeechToText) Name() string {
	return "mock"
}

// TranscribeFile implements repositories.SpeechToText
func (m *MockSpeechToText) TranscribeFile(ctx context.Context, audioPath string) ([]repositories.Segment, error) {
	m.calls.Add(1)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Segments != nil {
		return m.Segments, nil
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Processing mock speech-to-text", zap.Int64("audioSize", info.Size()))

	// A bare 44-byte header carries no samples
	switch {
	case info.Size() > 64000:
		return []repositories.Segment{
			{Text: " Hello assistant,"},
			{Text: " tell me something about the weather today."},
		}, nil
	case info.Size() > 44:
		return []repositories.Segment{{Text: " Hello assistant!"}}, nil
	default:
		return nil, nil
	}
}

// Calls returns how many files were transcribed
func (m *MockSpeechToText) Calls() int {
	return int(m.calls.Load())
}
