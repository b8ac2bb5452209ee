package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/vocalis/server/domain"
)

const (
	shortTimeout = 20 * time.Millisecond
	timeoutDelay = time.Second
)

func TestSynthesizer_Synthesize(t *testing.T) {
	logger := zaptest.NewLogger(t)
	engine := NewMockTextToSpeech(logger)
	s := NewSynthesizer(engine, logger)

	out, err := s.Synthesize(context.Background(), "Hi there!", "en", filepath.Join(t.TempDir(), "response"))
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if out.ContentType != "audio/wav" {
		t.Errorf("Expected audio/wav, got %s", out.ContentType)
	}
	if info, err := os.Stat(out.Path); err != nil || info.Size() == 0 {
		t.Errorf("Expected non-empty file at %s: %v", out.Path, err)
	}
}

func TestSynthesizer_RejectsBlankText(t *testing.T) {
	logger := zaptest.NewLogger(t)
	engine := NewMockTextToSpeech(logger)
	s := NewSynthesizer(engine, logger)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Synthesize(context.Background(), text, "ru", filepath.Join(t.TempDir(), "response"))
		if !errors.Is(err, domain.ErrEmptySynthesisText) {
			t.Errorf("Synthesize(%q) expected ErrEmptySynthesisText, got %v", text, err)
		}
	}

	if n := len(engine.Texts()); n != 0 {
		t.Errorf("Engine must not be called for blank text, got %d calls", n)
	}
}

func TestSynthesizer_RequiresLanguage(t *testing.T) {
	logger := zaptest.NewLogger(t)
	s := NewSynthesizer(NewMockTextToSpeech(logger), logger)

	_, err := s.Synthesize(context.Background(), "hello", "", filepath.Join(t.TempDir(), "response"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestSynthesizer_WrapsEngineError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	engine := NewMockTextToSpeech(logger)
	engine.Err = errors.New("engine exploded")
	s := NewSynthesizer(engine, logger)

	_, err := s.Synthesize(context.Background(), "hello", "ru", filepath.Join(t.TempDir(), "response"))

	var synthErr *domain.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %v", err)
	}
	if synthErr.Engine != "mock" || synthErr.Language != "ru" {
		t.Errorf("Unexpected error fields %+v", synthErr)
	}
	if !errors.Is(err, engine.Err) {
		t.Error("SynthesisError must unwrap to the engine error")
	}
}

func TestSynthesizer_ContextDeadline(t *testing.T) {
	logger := zaptest.NewLogger(t)
	engine := NewMockTextToSpeech(logger)
	engine.Delay = timeoutDelay
	s := NewSynthesizer(engine, logger)

	ctx, cancel := context.WithTimeout(context.Background(), shortTimeout)
	defer cancel()

	_, err := s.Synthesize(ctx, "hello", "ru", filepath.Join(t.TempDir(), "response"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}
