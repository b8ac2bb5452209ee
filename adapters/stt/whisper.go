package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain/repositories"
)

const (
	// DefaultBeamSize is the decoding beam width used for every transcription
	DefaultBeamSize = 5

	DefaultDevice      = "cpu"
	DefaultComputeType = "int8"

	defaultWhisperBinary = "whisper-cli"
	defaultModelDir      = "models"
	defaultModelSize     = "base"
)

// WhisperConfig holds configuration for the whisper.cpp command line engine
// Optional fields with defaults:
// - BinaryPath: whisper.cpp executable (default: "whisper-cli")
// - ModelPath: ggml model file (default: models/ggml-base-q8_0.bin for int8)
// - Device: "cpu" disables GPU offload (default: "cpu")
// - ComputeType: "int8", "float16" or "float32" weights (default: "int8")
// - BeamSize: decoding beam width (default: 5)
// - Threads: worker threads (default: number of CPUs)
// - Language: spoken language or "auto" (default: "auto")
type WhisperConfig struct {
	BinaryPath  string
	ModelPath   string
	Device      string
	ComputeType string
	BeamSize    int
	Threads     int
	Language    string
}

// WhisperCLI runs whisper.cpp as a subprocess and reads its JSON output
type WhisperCLI struct {
	binaryPath string
	modelPath  string
	device     string
	beamSize   int
	threads    int
	language   string
	logger     *zap.Logger
}

var _ repositories.SpeechToText = (*WhisperCLI)(nil)

type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ValidateWhisperConfig validates the WhisperConfig
func ValidateWhisperConfig(config WhisperConfig) error {
	switch config.Device {
	case "", "cpu", "gpu":
	default:
		return fmt.Errorf("device must be cpu or gpu, got %q", config.Device)
	}

	switch config.ComputeType {
	case "", "int8", "float16", "float32":
	default:
		return fmt.Errorf("compute type must be int8, float16 or float32, got %q", config.ComputeType)
	}

	if config.BeamSize < 0 {
		return fmt.Errorf("beam size must be positive, got %d", config.BeamSize)
	}

	if config.Threads < 0 {
		return fmt.Errorf("threads must be positive, got %d", config.Threads)
	}

	return nil
}

// NewWhisperConfigFromEnv reads WHISPER_* variables
func NewWhisperConfigFromEnv() WhisperConfig {
	config := WhisperConfig{
		BinaryPath:  os.Getenv("WHISPER_BIN"),
		ModelPath:   os.Getenv("WHISPER_MODEL"),
		Device:      os.Getenv("WHISPER_DEVICE"),
		ComputeType: os.Getenv("WHISPER_COMPUTE_TYPE"),
		Language:    os.Getenv("WHISPER_LANGUAGE"),
	}

	if beamStr := os.Getenv("WHISPER_BEAM_SIZE"); beamStr != "" {
		if beam, err := strconv.Atoi(beamStr); err == nil && beam > 0 {
			config.BeamSize = beam
		}
	}

	if threadsStr := os.Getenv("WHISPER_THREADS"); threadsStr != "" {
		if threads, err := strconv.Atoi(threadsStr); err == nil && threads > 0 {
			config.Threads = threads
		}
	}

	return config
}

// NewWhisperCLI creates a new whisper.cpp engine
func NewWhisperCLI(config WhisperConfig, logger *zap.Logger) (*WhisperCLI, error) {
	if err := ValidateWhisperConfig(config); err != nil {
		return nil, err
	}

	binaryPath := config.BinaryPath
	if binaryPath == "" {
		binaryPath = defaultWhisperBinary
		logger.Info("Using default whisper binary", zap.String("binaryPath", binaryPath))
	}

	computeType := config.ComputeType
	if computeType == "" {
		computeType = DefaultComputeType
		logger.Info("Using default compute type", zap.String("computeType", computeType))
	}

	modelPath := config.ModelPath
	if modelPath == "" {
		modelPath = defaultModelPath(computeType)
		logger.Info("Using default whisper model", zap.String("modelPath", modelPath))
	}

	device := config.Device
	if device == "" {
		device = DefaultDevice
		logger.Info("Using default device", zap.String("device", device))
	}

	beamSize := config.BeamSize
	if beamSize == 0 {
		beamSize = DefaultBeamSize
		logger.Info("Using default beam size", zap.Int("beamSize", beamSize))
	}

	threads := config.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	language := config.Language
	if language == "" {
		language = "auto"
	}

	return &WhisperCLI{
		binaryPath: binaryPath,
		modelPath:  modelPath,
		device:     device,
		beamSize:   beamSize,
		threads:    threads,
		language:   language,
		logger:     logger,
	}, nil
}

// defaultModelPath picks the quantized weights for int8 and the plain ones otherwise
func defaultModelPath(computeType string) string {
	switch computeType {
	case "int8":
		return filepath.Join(defaultModelDir, "ggml-"+defaultModelSize+"-q8_0.bin")
	case "float32":
		return filepath.Join(defaultModelDir, "ggml-"+defaultModelSize+"-f32.bin")
	default:
		return filepath.Join(defaultModelDir, "ggml-"+defaultModelSize+".bin")
	}
}

// Name implements repositories.SpeechToText
func (w *WhisperCLI) Name() string {
	return "whisper.cpp"
}

// args builds the command line; the JSON result lands next to the audio file
func (w *WhisperCLI) args(audioPath, outPrefix string) []string {
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-l", w.language,
		"-bs", strconv.Itoa(w.beamSize),
		"-t", strconv.Itoa(w.threads),
		"-oj",
		"-of", outPrefix,
		"-np",
	}
	if w.device == "cpu" {
		args = append(args, "-ng")
	}
	return args
}

// TranscribeFile implements repositories.SpeechToText
func (w *WhisperCLI) TranscribeFile(ctx context.Context, audioPath string) ([]repositories.Segment, error) {
	outPrefix := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".whisper"

	cmd := exec.CommandContext(ctx, w.binaryPath, w.args(audioPath, outPrefix)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("whisper.cpp failed: %w: %s", err, lastLine(stderr.String()))
	}

	raw, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	segments, err := parseWhisperOutput(raw)
	if err != nil {
		return nil, err
	}

	w.logger.Debug("whisper.cpp finished",
		zap.Int("segments", len(segments)),
		zap.Duration("elapsed", time.Since(start)))

	return segments, nil
}

func parseWhisperOutput(raw []byte) ([]repositories.Segment, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode whisper output: %w", err)
	}

	segments := make([]repositories.Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		segments = append(segments, repositories.Segment{
			Start: time.Duration(t.Offsets.From) * time.Millisecond,
			End:   time.Duration(t.Offsets.To) * time.Millisecond,
			Text:  t.Text,
		})
	}
	return segments, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
