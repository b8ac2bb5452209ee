package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vocalis/server/adapters/llm"
	"github.com/vocalis/server/adapters/mongo"
	"github.com/vocalis/server/adapters/stt"
	"github.com/vocalis/server/adapters/tts"
	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/internal/auth"
	"github.com/vocalis/server/internal/workerpool"
	"github.com/vocalis/server/usecase"
)

// Completion backends
const (
	ProviderMistral = "mistral"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderMock    = "mock"
)

// Speech engines
const (
	EngineWhisper    = "whisper"
	EngineGoogle     = "google"
	EngineElevenLabs = "elevenlabs"
	EngineGTTS       = "gtts"
	EngineMock       = "mock"
)

const (
	DefaultPort               = "8080"
	DefaultArtifactDir        = "./artifacts"
	DefaultArtifactMaxAge     = time.Hour
	DefaultRateLimitPerMinute = 30
	DefaultFFmpegBin          = "ffmpeg"

	// DefaultBotSystemPrompt is the persona used for chat bot turns
	DefaultBotSystemPrompt = "Тебя зовут Mistral Ai. Ты - полезный голосовой помощник. Отвечайте лаконично и естественно."
)

// Config is everything the server and the bot read from the environment
type Config struct {
	Port               string
	CompletionProvider string
	STTProvider        string
	TTSProvider        string

	// Pipeline holds model, persona, language and stage timeouts for web turns
	Pipeline        usecase.PipelineConfig
	BotSystemPrompt string

	// FFmpegBin is empty when the ffmpeg fallback is disabled
	FFmpegBin      string
	ArtifactDir    string
	ArtifactMaxAge time.Duration

	JWTSecret          string
	TokenTTL           time.Duration
	RateLimitPerMinute int

	// MongoDB is used for sessions and turn records when URI is set
	MongoDB          mongo.ClientConfig
	TelegramBotToken string

	Mistral    llm.MistralConfig
	OpenAI     llm.OpenAIConfig
	Gemini     llm.GeminiConfig
	Whisper    stt.WhisperConfig
	GoogleSTT  stt.GoogleSTTConfig
	ElevenLabs tts.ElevenLabsConfig
	GTTS       tts.GoogleTranslateConfig
	Inference  workerpool.Config
}

// Load reads an optional .env file, then the environment, and validates the result
func Load(logger *zap.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file loaded, using process environment")
	}

	config := FromEnv(logger)
	if err := Validate(config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// FromEnv builds a Config from the current environment with defaults applied
func FromEnv(logger *zap.Logger) Config {
	config := Config{
		Port:               envString("PORT", DefaultPort),
		CompletionProvider: strings.ToLower(envString("COMPLETION_PROVIDER", ProviderMistral)),
		STTProvider:        strings.ToLower(envString("STT_PROVIDER", EngineWhisper)),
		TTSProvider:        strings.ToLower(envString("TTS_PROVIDER", EngineElevenLabs)),
		BotSystemPrompt:    envString("BOT_SYSTEM_PROMPT", DefaultBotSystemPrompt),
		FFmpegBin:          envString("FFMPEG_BIN", DefaultFFmpegBin),
		ArtifactDir:        envString("ARTIFACT_DIR", DefaultArtifactDir),
		ArtifactMaxAge:     envDuration("ARTIFACT_MAX_AGE", DefaultArtifactMaxAge),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		TokenTTL:           envDuration("TOKEN_TTL", auth.DefaultTokenTTL),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute),
		MongoDB:            mongo.NewClientConfigFromEnv(),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		Mistral:            llm.NewMistralConfigFromEnv(),
		OpenAI:             llm.NewOpenAIConfigFromEnv(),
		Gemini:             llm.NewGeminiConfigFromEnv(),
		Whisper:            stt.NewWhisperConfigFromEnv(),
		GoogleSTT:          stt.NewGoogleSTTConfigFromEnv(),
		ElevenLabs:         tts.NewElevenLabsConfigFromEnv(),
		GTTS:               tts.NewGoogleTranslateConfigFromEnv(),
		Inference:          workerpool.NewConfigFromEnv(),
	}
	if strings.EqualFold(config.FFmpegBin, "off") {
		config.FFmpegBin = ""
	}

	config.Pipeline = usecase.PipelineConfig{
		Model:                os.Getenv("COMPLETION_MODEL"),
		SystemPrompt:         envString("SYSTEM_PROMPT", usecase.DefaultSystemPrompt),
		Language:             envString("TTS_LANGUAGE", usecase.DefaultLanguage),
		CompletionTimeout:    envDuration("COMPLETION_TIMEOUT", usecase.DefaultCompletionTimeout),
		TranscriptionTimeout: envDuration("TRANSCRIPTION_TIMEOUT", usecase.DefaultTranscriptionTimeout),
		SynthesisTimeout:     envDuration("SYNTHESIS_TIMEOUT", usecase.DefaultSynthesisTimeout),
	}
	if config.Pipeline.Model == "" {
		config.Pipeline.Model = defaultModel(config.CompletionProvider)
		logger.Info("Using default completion model",
			zap.String("provider", config.CompletionProvider),
			zap.String("model", config.Pipeline.Model))
	}

	return config
}

// Validate fails when the selected backends cannot start.
// A missing bearer token for a remote completion backend is always fatal.
func Validate(config Config) error {
	switch config.CompletionProvider {
	case ProviderMistral:
		if err := llm.ValidateMistralConfig(config.Mistral); err != nil {
			return fmt.Errorf("%s: %w", ProviderMistral, err)
		}
	case ProviderOpenAI:
		if strings.TrimSpace(config.OpenAI.APIKey) == "" {
			return fmt.Errorf("%s: %w", ProviderOpenAI, domain.ErrNoAPIKey)
		}
	case ProviderGemini:
		if strings.TrimSpace(config.Gemini.APIKey) == "" {
			return fmt.Errorf("%s: %w", ProviderGemini, domain.ErrNoAPIKey)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown completion provider %q", config.CompletionProvider)
	}

	switch config.STTProvider {
	case EngineWhisper:
		if err := stt.ValidateWhisperConfig(config.Whisper); err != nil {
			return fmt.Errorf("whisper: %w", err)
		}
	case EngineGoogle, EngineMock:
	default:
		return fmt.Errorf("unknown speech-to-text engine %q", config.STTProvider)
	}

	switch config.TTSProvider {
	case EngineElevenLabs:
		if err := tts.ValidateElevenLabsConfig(config.ElevenLabs); err != nil {
			return fmt.Errorf("elevenlabs: %w", err)
		}
	case EngineGTTS, EngineMock:
	default:
		return fmt.Errorf("unknown text-to-speech engine %q", config.TTSProvider)
	}

	if err := workerpool.ValidateConfig(config.Inference); err != nil {
		return err
	}

	if config.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit must be positive, got %d", config.RateLimitPerMinute)
	}

	return nil
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return llm.DefaultOpenAIModel
	case ProviderGemini:
		return llm.DefaultGeminiModel
	case ProviderMock:
		return "mock-small"
	default:
		return llm.DefaultMistralModel
	}
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
