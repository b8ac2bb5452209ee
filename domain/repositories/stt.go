package repositories

import (
	"context"
	"time"
)

// Segment is one recognized span of speech, in engine order
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// SpeechToText abstracts a local or cloud speech recognition engine
type SpeechToText interface {
	// Name identifies the engine in logs and errors
	Name() string
	// TranscribeFile recognizes a WAV file and returns its segments
	TranscribeFile(ctx context.Context, audioPath string) ([]Segment, error)
}

// Transcriber turns a recorded file into a single transcript.
// An empty string with a nil error means nothing was said.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
