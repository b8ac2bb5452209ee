package tts

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain/repositories"
	"github.com/vocalis/server/internal/audio"
)

// MockTextToSpeech writes a short silent WAV instead of calling a real engine
type MockTextToSpeech struct {
	Err   error
	Delay time.Duration

	logger *zap.Logger
	mu     sync.Mutex
	texts  []string
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a new mock engine
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{logger: logger}
}

// Name implements repositories.TextToSpeech
func (m *MockTextToSpeech) Name() string {
	return "mock"
}

// ContentType implements repositories.TextToSpeech
func (m *MockTextToSpeech) ContentType() string {
	return "audio/wav"
}

// SynthesizeToFile implements repositories.TextToSpeech
func (m *MockTextToSpeech) SynthesizeToFile(ctx context.Context, text, languageCode, outPath string) (string, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Err != nil {
		return "", m.Err
	}

	// 100ms of silence at 16kHz
	wav, err := audio.EncodeWAV(make([]int16, 1600), 16000, 1)
	if err != nil {
		return "", err
	}

	path := withExt(outPath, ".wav")
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return "", err
	}

	m.logger.Debug("Mock synthesis", zap.String("path", path), zap.String("languageCode", languageCode))
	return path, nil
}

// Texts returns every text passed to the engine
func (m *MockTextToSpeech) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}
