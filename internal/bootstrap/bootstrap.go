package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vocalis/server/adapters"
	"github.com/vocalis/server/adapters/llm"
	"github.com/vocalis/server/adapters/mongo"
	"github.com/vocalis/server/adapters/stt"
	"github.com/vocalis/server/adapters/tts"
	"github.com/vocalis/server/domain/repositories"
	"github.com/vocalis/server/internal/artifact"
	"github.com/vocalis/server/internal/audio"
	"github.com/vocalis/server/internal/config"
	"github.com/vocalis/server/internal/workerpool"
	"github.com/vocalis/server/usecase"
)

// App holds the long-lived components shared by the web server and the bot
type App struct {
	Config     config.Config
	Pipeline   *usecase.VoiceTurnPipeline
	Completion repositories.CompletionClient
	Sessions   repositories.SessionRepository
	Recorder   repositories.TurnRecorder
	Workspace  *artifact.Workspace
	Pool       *workerpool.Pool

	janitor *artifact.Janitor
	mongo   *mongo.Client
	closers []func() error
	closed  sync.Once
	logger  *zap.Logger
}

// New builds every engine selected by the config and wires the voice turn pipeline
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, logger: logger}

	completion, err := newCompletionClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	app.Completion = completion

	speechToText, err := app.newSpeechToText(ctx, cfg, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to create speech-to-text engine: %w", err)
	}

	textToSpeech, err := newTextToSpeech(cfg, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to create text-to-speech engine: %w", err)
	}

	if err := app.initStorage(ctx, cfg, logger); err != nil {
		app.Close(ctx)
		return nil, err
	}

	app.Workspace, err = artifact.NewWorkspace(cfg.ArtifactDir, logger)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.janitor = artifact.NewJanitor(app.Workspace, cfg.ArtifactMaxAge, 0, logger)

	app.Pool, err = workerpool.New(cfg.Inference, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to create inference pool: %w", err)
	}

	app.Pipeline, err = usecase.NewVoiceTurnPipeline(usecase.PipelineDeps{
		Workspace:   app.Workspace,
		Normalizer:  audio.NewNormalizer(cfg.FFmpegBin, logger),
		Transcriber: stt.NewTranscriber(speechToText, logger),
		Completion:  completion,
		Synthesizer: tts.NewSynthesizer(textToSpeech, logger),
		Pool:        app.Pool,
		Recorder:    app.Recorder,
	}, cfg.Pipeline, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("failed to create voice turn pipeline: %w", err)
	}

	logger.Info("Voice turn pipeline ready",
		zap.String("completion", cfg.CompletionProvider),
		zap.String("model", cfg.Pipeline.Model),
		zap.String("stt", speechToText.Name()),
		zap.String("tts", textToSpeech.Name()))

	return app, nil
}

// Start launches the inference workers and the artifact janitor
func (a *App) Start() {
	a.Pool.Start()
	a.janitor.Start()
}

// Close stops background work and releases engine and database connections
// Calling it again is a no-op.
func (a *App) Close(ctx context.Context) {
	a.closed.Do(func() {
		if a.Pool != nil {
			a.Pool.Stop()
		}
		if a.janitor != nil {
			a.janitor.Stop()
		}
		for _, closeFn := range a.closers {
			if err := closeFn(); err != nil {
				a.logger.Warn("Failed to close engine", zap.Error(err))
			}
		}
		if a.mongo != nil {
			if err := a.mongo.Close(ctx); err != nil {
				a.logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
			}
		}
	})
}

func newCompletionClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.CompletionClient, error) {
	switch cfg.CompletionProvider {
	case config.ProviderMistral:
		return llm.NewMistralClient(cfg.Mistral, logger)
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(cfg.OpenAI, logger)
	case config.ProviderGemini:
		return llm.NewGeminiClient(ctx, cfg.Gemini, logger)
	case config.ProviderMock:
		return llm.NewMockCompletionClient(), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.CompletionProvider)
	}
}

func (a *App) newSpeechToText(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch cfg.STTProvider {
	case config.EngineWhisper:
		return stt.NewWhisperCLI(cfg.Whisper, logger)
	case config.EngineGoogle:
		engine, err := stt.NewGoogleSpeechToText(ctx, cfg.GoogleSTT, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, engine.Close)
		return engine, nil
	case config.EngineMock:
		return stt.NewMockSpeechToText(logger), nil
	default:
		return nil, fmt.Errorf("unknown speech-to-text engine %q", cfg.STTProvider)
	}
}

func newTextToSpeech(cfg config.Config, logger *zap.Logger) (repositories.TextToSpeech, error) {
	switch cfg.TTSProvider {
	case config.EngineElevenLabs:
		return tts.NewElevenLabsTTS(cfg.ElevenLabs, logger)
	case config.EngineGTTS:
		return tts.NewGoogleTranslateTTS(cfg.GTTS, logger), nil
	case config.EngineMock:
		return tts.NewMockTextToSpeech(logger), nil
	default:
		return nil, fmt.Errorf("unknown text-to-speech engine %q", cfg.TTSProvider)
	}
}

// initStorage uses MongoDB when a URI is configured and in-memory stores otherwise
func (a *App) initStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.MongoDB.URI == "" {
		logger.Info("MONGODB_URI not set, keeping sessions and turn records in memory")
		a.Sessions = adapters.NewMemorySessionRepository()
		a.Recorder = adapters.NewMemoryTurnRecorder(adapters.DefaultRecordLimit)
		return nil
	}

	client, err := mongo.NewClient(ctx, cfg.MongoDB, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	a.mongo = client

	sessions := mongo.NewSessionRepository(client.Database, logger)
	if err := sessions.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}
	recorder := mongo.NewTurnRecorder(client.Database, logger)
	if err := recorder.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create turn indexes: %w", err)
	}

	a.Sessions = sessions
	a.Recorder = recorder
	return nil
}
