package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/vocalis/server/internal/artifact"
)

// Format names how submitted audio is encoded
type Format string

const (
	FormatAuto    Format = ""
	FormatPCM16   Format = "pcm16"
	FormatWAV     Format = "wav"
	FormatOggOpus Format = "ogg_opus"
	FormatOther   Format = "other"
)

// NormalizedName is the file every engine reads
const NormalizedName = "input.wav"

var (
	ErrEmptyAudio     = errors.New("audio input is empty")
	ErrUnsupported    = errors.New("unsupported audio format")
	ErrFFmpegDisabled = errors.New("ffmpeg conversion is disabled")
)

// Input is one submission: raw samples with their rate, or an encoded blob
type Input struct {
	Format     Format
	Data       []byte
	SampleRate int
	Channels   int
}

// Empty reports whether there is nothing to transcribe
func (in Input) Empty() bool {
	return len(in.Data) == 0
}

// Normalizer writes any supported input as a 16-bit mono PCM WAV file inside a turn scope
type Normalizer struct {
	ffmpegPath string
	logger     *zap.Logger
}

// NewNormalizer creates a normalizer; an empty ffmpegPath disables the ffmpeg fallback
func NewNormalizer(ffmpegPath string, logger *zap.Logger) *Normalizer {
	return &Normalizer{ffmpegPath: ffmpegPath, logger: logger}
}

// Detect resolves FormatAuto by sniffing the container magic
func Detect(in Input) Format {
	if in.Format != FormatAuto {
		return in.Format
	}
	switch {
	case IsWAV(in.Data):
		return FormatWAV
	case IsOgg(in.Data):
		return FormatOggOpus
	default:
		return FormatOther
	}
}

// Normalize stores the input as input.wav in scope and returns its path
func (n *Normalizer) Normalize(ctx context.Context, in Input, scope *artifact.Scope) (string, error) {
	if in.Empty() {
		return "", ErrEmptyAudio
	}

	format := Detect(in)
	switch format {
	case FormatPCM16:
		channels := in.Channels
		if channels == 0 {
			channels = 1
		}
		return n.writeMono(scope, PCM16FromBytes(in.Data), in.SampleRate, channels)

	case FormatWAV:
		info, err := ParseWAVInfo(in.Data)
		if err == nil && info.IsCanonical() {
			return scope.WriteFile(NormalizedName, in.Data)
		}
		samples, info, err := DecodeWAV(in.Data)
		if err != nil {
			n.logger.Warn("WAV decode failed, trying ffmpeg", zap.Error(err))
			return n.convert(ctx, in.Data, "input_src.wav", scope)
		}
		return n.writeMono(scope, samples, info.SampleRate, info.Channels)

	case FormatOggOpus:
		pcm, err := DecodeOggOpus(in.Data)
		if err != nil {
			n.logger.Warn("Opus decode failed, trying ffmpeg", zap.Error(err))
			return n.convert(ctx, in.Data, "input.ogg", scope)
		}
		return n.writeMono(scope, pcm, OpusSampleRate, 1)

	case FormatOther:
		return n.convert(ctx, in.Data, "input.bin", scope)

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
}

// writeMono stores interleaved samples as 16-bit mono PCM
func (n *Normalizer) writeMono(scope *artifact.Scope, samples []int16, sampleRate, channels int) (string, error) {
	wav, err := EncodeWAV(Downmix(samples, channels), sampleRate, 1)
	if err != nil {
		return "", err
	}
	return scope.WriteFile(NormalizedName, wav)
}

// convert runs ffmpeg to produce 16 kHz mono PCM from any container it understands
func (n *Normalizer) convert(ctx context.Context, data []byte, name string, scope *artifact.Scope) (string, error) {
	if n.ffmpegPath == "" {
		return "", fmt.Errorf("%w: %w", ErrUnsupported, ErrFFmpegDisabled)
	}

	src, err := scope.WriteFile(name, data)
	if err != nil {
		return "", err
	}
	dst := scope.Path(NormalizedName)

	cmd := exec.CommandContext(ctx, n.ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("ffmpeg conversion failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	n.logger.Debug("Converted audio with ffmpeg", zap.String("source", name))
	return dst, nil
}
