package tts

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/repositories"
)

// Synthesizer validates input for a TextToSpeech engine and types its failures
type Synthesizer struct {
	engine repositories.TextToSpeech
	logger *zap.Logger
}

var _ repositories.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer wraps engine
func NewSynthesizer(engine repositories.TextToSpeech, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		engine: engine,
		logger: logger,
	}
}

// Synthesize renders text to a playable file derived from outPath.
// Blank text is rejected before the engine runs.
func (s *Synthesizer) Synthesize(ctx context.Context, text, languageCode, outPath string) (repositories.SynthesizedAudio, error) {
	if strings.TrimSpace(text) == "" {
		return repositories.SynthesizedAudio{}, domain.ErrEmptySynthesisText
	}

	if languageCode == "" {
		return repositories.SynthesizedAudio{}, fmt.Errorf("%w: language code is required", domain.ErrInvalidInput)
	}

	start := time.Now()
	path, err := s.engine.SynthesizeToFile(ctx, text, languageCode, outPath)
	if err != nil {
		return repositories.SynthesizedAudio{}, &domain.SynthesisError{
			Engine:   s.engine.Name(),
			Language: languageCode,
			Err:      err,
		}
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		if err == nil {
			err = fmt.Errorf("engine produced an empty file")
		}
		return repositories.SynthesizedAudio{}, &domain.SynthesisError{
			Engine:   s.engine.Name(),
			Language: languageCode,
			Err:      err,
		}
	}

	s.logger.Debug("Synthesized reply",
		zap.String("engine", s.engine.Name()),
		zap.String("languageCode", languageCode),
		zap.Int64("bytes", info.Size()),
		zap.Duration("elapsed", time.Since(start)))

	return repositories.SynthesizedAudio{
		Path:        path,
		ContentType: s.engine.ContentType(),
	}, nil
}
