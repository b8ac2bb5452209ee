package repositories

import "context"

// TextToSpeech abstracts a speech synthesis engine.
// The engine writes to outPath and returns the final path, which may differ in extension.
type TextToSpeech interface {
	Name() string
	ContentType() string
	SynthesizeToFile(ctx context.Context, text, languageCode, outPath string) (string, error)
}

// SynthesizedAudio is a playable file produced for one turn
type SynthesizedAudio struct {
	Path        string
	ContentType string
}

// Synthesizer turns reply text into a playable file at a caller-chosen path
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageCode, outPath string) (SynthesizedAudio, error)
}
