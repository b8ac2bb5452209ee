package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/domain/repositories"
	"github.com/vocalis/server/internal/artifact"
	"github.com/vocalis/server/internal/audio"
	"github.com/vocalis/server/internal/saga"
	"github.com/vocalis/server/internal/workerpool"
)

const (
	DefaultCompletionTimeout    = 30 * time.Second
	DefaultTranscriptionTimeout = 120 * time.Second
	DefaultSynthesisTimeout     = 60 * time.Second

	DefaultLanguage     = "ru"
	DefaultSystemPrompt = "You are a helpful voice assistant. Keep your responses concise and natural."

	responseArtifactName = "response"
	recordTimeout        = 5 * time.Second
)

// PipelineConfig holds the tunables of a VoiceTurnPipeline
// Required fields:
// - Model: completion model id
// Optional fields with defaults:
// - SystemPrompt: persona sent before every transcript
// - Language: synthesis language code (default: "ru")
// - CompletionTimeout (default: 30s), TranscriptionTimeout (default: 120s), SynthesisTimeout (default: 60s)
type PipelineConfig struct {
	Model                string
	SystemPrompt         string
	Language             string
	CompletionTimeout    time.Duration
	TranscriptionTimeout time.Duration
	SynthesisTimeout     time.Duration
}

// PipelineDeps are the collaborators of a VoiceTurnPipeline
type PipelineDeps struct {
	Workspace   *artifact.Workspace
	Normalizer  *audio.Normalizer
	Transcriber repositories.Transcriber
	Completion  repositories.CompletionClient
	Synthesizer repositories.Synthesizer
	Pool        *workerpool.Pool
	// Recorder is optional
	Recorder repositories.TurnRecorder
}

// TurnRequest is one submission to the pipeline
type TurnRequest struct {
	SessionID string
	Input     audio.Input
	Channel   entities.Channel
	// Progress, when set, is called as each stage starts
	Progress func(entities.Stage)
	// SystemPrompt and Language override the pipeline defaults for this turn
	SystemPrompt string
	Language     string
}

// TurnExecutor runs one voice turn to a terminal state
type TurnExecutor interface {
	Execute(ctx context.Context, req TurnRequest) *entities.VoiceTurn
}

var _ TurnExecutor = (*VoiceTurnPipeline)(nil)

// VoiceTurnPipeline runs normalize, transcribe, complete and synthesize for one turn
type VoiceTurnPipeline struct {
	deps   PipelineDeps
	config PipelineConfig
	runner *saga.Runner[turnState]
	logger *zap.Logger
}

// turnState is what the saga steps share while a turn runs
type turnState struct {
	turn         *entities.VoiceTurn
	input        audio.Input
	scope        *artifact.Scope
	inputPath    string
	systemPrompt string
	language     string
}

// ValidatePipelineConfig validates the PipelineConfig
func ValidatePipelineConfig(config PipelineConfig) error {
	if config.Model == "" {
		return fmt.Errorf("completion model is required")
	}
	if config.CompletionTimeout < 0 || config.TranscriptionTimeout < 0 || config.SynthesisTimeout < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// NewVoiceTurnPipeline wires the stages together
func NewVoiceTurnPipeline(deps PipelineDeps, config PipelineConfig, logger *zap.Logger) (*VoiceTurnPipeline, error) {
	if err := ValidatePipelineConfig(config); err != nil {
		return nil, err
	}
	if deps.Workspace == nil || deps.Normalizer == nil || deps.Transcriber == nil ||
		deps.Completion == nil || deps.Synthesizer == nil || deps.Pool == nil {
		return nil, fmt.Errorf("pipeline dependencies are incomplete")
	}

	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.Language == "" {
		config.Language = DefaultLanguage
		logger.Info("Using default synthesis language", zap.String("language", config.Language))
	}
	if config.CompletionTimeout == 0 {
		config.CompletionTimeout = DefaultCompletionTimeout
	}
	if config.TranscriptionTimeout == 0 {
		config.TranscriptionTimeout = DefaultTranscriptionTimeout
	}
	if config.SynthesisTimeout == 0 {
		config.SynthesisTimeout = DefaultSynthesisTimeout
	}

	p := &VoiceTurnPipeline{
		deps:   deps,
		config: config,
		logger: logger,
	}
	p.runner = saga.NewRunner("voice_turn", logger,
		saga.StepFunc[turnState]{Name: saga.StepID(entities.StageNormalize), Fn: p.normalize},
		saga.StepFunc[turnState]{Name: saga.StepID(entities.StageTranscribe), Fn: p.transcribe},
		saga.StepFunc[turnState]{Name: saga.StepID(entities.StageComplete), Fn: p.complete},
		saga.StepFunc[turnState]{Name: saga.StepID(entities.StageSynthesize), Fn: p.synthesize},
	)

	return p, nil
}

// Config returns the effective configuration
func (p *VoiceTurnPipeline) Config() PipelineConfig {
	return p.config
}

// Run processes one turn from the web channel
func (p *VoiceTurnPipeline) Run(ctx context.Context, input audio.Input, sessionID string) *entities.VoiceTurn {
	return p.Execute(ctx, TurnRequest{
		SessionID: sessionID,
		Input:     input,
		Channel:   entities.ChannelWeb,
	})
}

// Execute processes one turn. It never returns an error: every failure ends
// as a failed turn, and the turn's artifacts are gone when it returns.
func (p *VoiceTurnPipeline) Execute(ctx context.Context, req TurnRequest) (turn *entities.VoiceTurn) {
	turn = entities.NewVoiceTurn(req.SessionID)
	state := &turnState{
		turn:         turn,
		input:        req.Input,
		systemPrompt: firstNonEmpty(req.SystemPrompt, p.config.SystemPrompt),
		language:     firstNonEmpty(req.Language, p.config.Language),
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Voice turn panicked", zap.String("turnID", turn.ID), zap.Any("panic", r))
			if !turn.IsTerminal() {
				turn.Fail(&entities.TurnFailure{
					Kind:  entities.FailureIO,
					Stage: stageOf(turn),
					Err:   fmt.Errorf("pipeline panic: %v", r),
				})
			}
		}
		if state.scope != nil {
			if err := state.scope.Close(); err != nil {
				p.logger.Error("Failed to remove turn artifacts", zap.String("turnID", turn.ID), zap.Error(err))
			}
		}
		turn.FinishedAt = time.Now()
		p.finish(ctx, turn, req.Channel)
	}()

	if strings.TrimSpace(req.SessionID) == "" || req.Input.Empty() {
		turn.Fail(&entities.TurnFailure{
			Kind:  entities.FailureInvalidInput,
			Stage: entities.StageNormalize,
			Err:   domain.ErrInvalidInput,
		})
		return turn
	}

	scope, err := p.deps.Workspace.Open(req.SessionID)
	if err != nil {
		turn.Fail(&entities.TurnFailure{
			Kind:  entities.FailureIO,
			Stage: entities.StageNormalize,
			Err:   &domain.IOError{Op: "open", Path: p.deps.Workspace.Root(), Err: err},
		})
		return turn
	}
	state.scope = scope

	var onEvent saga.EventHandler
	if req.Progress != nil {
		onEvent = func(e saga.SagaEvent) {
			if e.Type == saga.EventStepStarted {
				req.Progress(entities.Stage(e.StepID))
			}
		}
	}

	instance, err := p.runner.Run(ctx, saga.SagaID(turn.ID), state, onEvent)
	turn.Stages = stageRecords(instance)

	if err != nil && !turn.IsTerminal() {
		var failure *entities.TurnFailure
		if !errors.As(err, &failure) {
			var stepErr *saga.StepError
			stage := stageOf(turn)
			if errors.As(err, &stepErr) {
				stage = entities.Stage(stepErr.Step)
			}
			failure = classify(stage, err)
		}
		turn.Fail(failure)
	}

	return turn
}

func (p *VoiceTurnPipeline) normalize(ctx context.Context, s *turnState) error {
	path, err := p.deps.Normalizer.Normalize(ctx, s.input, s.scope)
	if err != nil {
		if isTimeout(err) {
			return &entities.TurnFailure{Kind: entities.FailureTimeout, Stage: entities.StageNormalize, Err: err}
		}
		kind := entities.FailureIO
		if errors.Is(err, audio.ErrEmptyAudio) {
			kind = entities.FailureInvalidInput
		}
		return &entities.TurnFailure{Kind: kind, Stage: entities.StageNormalize, Err: err}
	}
	s.inputPath = path
	return nil
}

func (p *VoiceTurnPipeline) transcribe(ctx context.Context, s *turnState) error {
	tctx, cancel := context.WithTimeout(ctx, p.config.TranscriptionTimeout)
	defer cancel()

	var transcript string
	err := p.deps.Pool.Do(tctx, func(ctx context.Context) error {
		var err error
		transcript, err = p.deps.Transcriber.Transcribe(ctx, s.inputPath)
		return err
	})
	if err != nil {
		return classify(entities.StageTranscribe, err)
	}

	if strings.TrimSpace(transcript) == "" {
		return &entities.TurnFailure{
			Kind:  entities.FailureNoSpeech,
			Stage: entities.StageTranscribe,
			Err:   domain.ErrNoSpeechDetected,
		}
	}

	return s.turn.MarkTranscribed(transcript)
}

func (p *VoiceTurnPipeline) complete(ctx context.Context, s *turnState) error {
	cctx, cancel := context.WithTimeout(ctx, p.config.CompletionTimeout)
	defer cancel()

	reply, err := p.deps.Completion.Complete(cctx, repositories.CompletionRequest{
		Model: p.config.Model,
		Messages: []repositories.ChatMessage{
			{Role: repositories.SystemRole, Content: s.systemPrompt},
			{Role: repositories.UserRole, Content: s.turn.Transcript},
		},
	})
	if err != nil {
		return classify(entities.StageComplete, err)
	}

	if strings.TrimSpace(reply) == "" {
		return &entities.TurnFailure{
			Kind:  entities.FailureEmptyCompletion,
			Stage: entities.StageComplete,
			Err:   domain.ErrEmptyCompletion,
		}
	}

	return s.turn.MarkCompleted(reply)
}

func (p *VoiceTurnPipeline) synthesize(ctx context.Context, s *turnState) error {
	sctx, cancel := context.WithTimeout(ctx, p.config.SynthesisTimeout)
	defer cancel()

	var out repositories.SynthesizedAudio
	err := p.deps.Pool.Do(sctx, func(ctx context.Context) error {
		var err error
		out, err = p.deps.Synthesizer.Synthesize(ctx, s.turn.CompletionText, s.language, s.scope.Path(responseArtifactName))
		return err
	})
	if err != nil {
		return classify(entities.StageSynthesize, err)
	}

	data, err := os.ReadFile(out.Path)
	if err != nil {
		return &entities.TurnFailure{
			Kind:  entities.FailureIO,
			Stage: entities.StageSynthesize,
			Err:   &domain.IOError{Op: "read", Path: out.Path, Err: err},
		}
	}

	return s.turn.MarkSynthesized(&entities.ResponseAudio{
		Name:        filepath.Base(out.Path),
		ContentType: out.ContentType,
		Data:        data,
	})
}

// finish logs the outcome and stores the turn record
func (p *VoiceTurnPipeline) finish(ctx context.Context, turn *entities.VoiceTurn, channel entities.Channel) {
	fields := []zap.Field{
		zap.String("turnID", turn.ID),
		zap.String("sessionID", turn.SessionID),
		zap.String("channel", string(channel)),
		zap.String("status", string(turn.Status)),
		zap.Duration("elapsed", turn.Duration()),
	}
	if turn.Failure != nil {
		fields = append(fields,
			zap.String("failureKind", string(turn.Failure.Kind)),
			zap.String("stage", string(turn.Failure.Stage)),
			zap.Error(turn.Failure.Err))
		p.logger.Warn("Voice turn failed", fields...)
	} else {
		p.logger.Info("Voice turn completed", fields...)
	}

	if p.deps.Recorder == nil {
		return
	}

	record := entities.NewTurnRecord(turn, channel)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.deps.Recorder.Record(rctx, record); err != nil {
		p.logger.Warn("Failed to record voice turn", zap.String("turnID", turn.ID), zap.Error(err))
	}
}

// classify maps a stage error onto a failure kind
func classify(stage entities.Stage, err error) *entities.TurnFailure {
	failure := &entities.TurnFailure{Stage: stage, Err: err}

	var apiErr *domain.RemoteAPIError
	switch {
	case isTimeout(err):
		failure.Kind = entities.FailureTimeout
	case errors.Is(err, workerpool.ErrPoolFull):
		failure.Kind = entities.FailureBusy
	case errors.As(err, &apiErr):
		failure.Kind = entities.FailureRemoteAPI
	case errors.Is(err, domain.ErrEmptyCompletion):
		failure.Kind = entities.FailureEmptyCompletion
	case stage == entities.StageNormalize:
		failure.Kind = entities.FailureIO
	case stage == entities.StageTranscribe:
		failure.Kind = entities.FailureTranscription
	case stage == entities.StageComplete:
		failure.Kind = entities.FailureCompletion
	default:
		failure.Kind = entities.FailureSynthesis
	}

	return failure
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// stageOf returns the stage a non-terminal turn is in
func stageOf(turn *entities.VoiceTurn) entities.Stage {
	switch turn.Status {
	case entities.TurnStatusTranscribed:
		return entities.StageComplete
	case entities.TurnStatusCompleted:
		return entities.StageSynthesize
	default:
		if len(turn.Stages) > 0 {
			return turn.Stages[len(turn.Stages)-1].Stage
		}
		return entities.StageNormalize
	}
}

func stageRecords(instance *saga.SagaInstance) []entities.StageRecord {
	if instance == nil {
		return nil
	}
	records := make([]entities.StageRecord, 0, len(instance.Steps))
	for _, step := range instance.Steps {
		if !step.Executed() {
			continue
		}
		records = append(records, entities.StageRecord{
			Stage:     entities.Stage(step.ID),
			StartedAt: step.StartedAt,
			Duration:  step.Duration,
			Error:     step.Error,
		})
	}
	return records
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
