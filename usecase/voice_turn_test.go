package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/vocalis/server/adapters/llm"
	"github.com/vocalis/server/domain"
	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/domain/repositories"
	"github.com/vocalis/server/internal/artifact"
	"github.com/vocalis/server/internal/audio"
	"github.com/vocalis/server/internal/workerpool"
)

// stubTranscriber returns a fixed transcript, or one derived from the input size
type stubTranscriber struct {
	text    string
	err     error
	delay   time.Duration
	bySize  bool
	calls   atomic.Int32
	sawFile atomic.Bool
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	s.calls.Add(1)
	if _, err := os.Stat(audioPath); err == nil {
		s.sawFile.Store(true)
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", &domain.TranscriptionError{Engine: "stub", Err: ctx.Err()}
		}
	}

	if s.err != nil {
		return "", s.err
	}

	if s.bySize {
		info, err := audio.ReadWAVInfo(audioPath)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("input of %d bytes", info.DataBytes), nil
	}
	return s.text, nil
}

// stubSynthesizer writes the reply text into a file named name next to outPath
type stubSynthesizer struct {
	name string
	err  error
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text, languageCode, outPath string) (repositories.SynthesizedAudio, error) {
	if s.err != nil {
		return repositories.SynthesizedAudio{}, s.err
	}

	name := s.name
	if name == "" {
		name = "resp.wav"
	}
	path := filepath.Join(filepath.Dir(outPath), name)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return repositories.SynthesizedAudio{}, err
	}
	return repositories.SynthesizedAudio{Path: path, ContentType: "audio/wav"}, nil
}

type pipelineFixture struct {
	pipeline *VoiceTurnPipeline
	root     string
	recorder *recordingRecorder
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []entities.TurnRecord
}

func (r *recordingRecorder) Record(ctx context.Context, record entities.TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *recordingRecorder) Stats(ctx context.Context) (entities.TurnStats, error) {
	return entities.NewTurnStats(), nil
}

func newFixture(t *testing.T, transcriber repositories.Transcriber, completion repositories.CompletionClient, synthesizer repositories.Synthesizer, config PipelineConfig) *pipelineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	root := t.TempDir()
	ws, err := artifact.NewWorkspace(root, logger)
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}

	pool, err := workerpool.New(workerpool.Config{Workers: 2, QueueSize: 4}, logger)
	if err != nil {
		t.Fatalf("workerpool.New failed: %v", err)
	}
	pool.Start()
	t.Cleanup(pool.Stop)

	if config.Model == "" {
		config.Model = llm.DefaultMistralModel
	}

	recorder := &recordingRecorder{}
	pipeline, err := NewVoiceTurnPipeline(PipelineDeps{
		Workspace:   ws,
		Normalizer:  audio.NewNormalizer("", logger),
		Transcriber: transcriber,
		Completion:  completion,
		Synthesizer: synthesizer,
		Pool:        pool,
		Recorder:    recorder,
	}, config, logger)
	if err != nil {
		t.Fatalf("NewVoiceTurnPipeline failed: %v", err)
	}

	return &pipelineFixture{pipeline: pipeline, root: root, recorder: recorder}
}

// assertNoArtifacts checks that every turn directory was removed
func (f *pipelineFixture) assertNoArtifacts(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatalf("Failed to read artifact root: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected no artifacts, found %v", names)
	}
}

func pcmInput(samples int) audio.Input {
	return audio.Input{
		Format:     audio.FormatPCM16,
		Data:       make([]byte, samples*2),
		SampleRate: 16000,
		Channels:   1,
	}
}

// newStatusServer returns a Mistral client talking to a server that always answers status/body
func newStatusServer(t *testing.T, status int, body string, calls *atomic.Int32) *llm.MistralClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := llm.NewMistralClient(llm.MistralConfig{APIKey: "test-key", BaseURL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMistralClient failed: %v", err)
	}
	return client
}

func TestVoiceTurnPipeline_ReturnsDisplayTextAndAudio(t *testing.T) {
	completion := llm.NewMockCompletionClient()
	completion.Reply = "Здравствуйте!"
	f := newFixture(t, &stubTranscriber{text: "Привет"}, completion, &stubSynthesizer{name: "resp.wav"}, PipelineConfig{})

	turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-a")

	if turn.Status != entities.TurnStatusSynthesized {
		t.Fatalf("Expected synthesized, got %s (%v)", turn.Status, turn.Failure)
	}
	if got := turn.DisplayText(); got != "You: Привет\nAssistant: Здравствуйте!" {
		t.Errorf("Unexpected display text %q", got)
	}
	if turn.ResponseAudio == nil || turn.ResponseAudio.Name != "resp.wav" {
		t.Fatalf("Expected resp.wav artifact, got %+v", turn.ResponseAudio)
	}
	if string(turn.ResponseAudio.Data) != "Здравствуйте!" {
		t.Errorf("Response audio not read before cleanup: %q", turn.ResponseAudio.Data)
	}

	requests := completion.Requests()
	if len(requests) != 1 {
		t.Fatalf("Expected one completion request, got %d", len(requests))
	}
	msgs := requests[0].Messages
	if len(msgs) != 2 || msgs[0].Role != repositories.SystemRole || msgs[1].Role != repositories.UserRole || msgs[1].Content != "Привет" {
		t.Errorf("Unexpected completion messages %+v", msgs)
	}

	stages := make([]entities.Stage, 0, len(turn.Stages))
	for _, s := range turn.Stages {
		stages = append(stages, s.Stage)
	}
	want := []entities.Stage{entities.StageNormalize, entities.StageTranscribe, entities.StageComplete, entities.StageSynthesize}
	if fmt.Sprint(stages) != fmt.Sprint(want) {
		t.Errorf("Expected stages %v, got %v", want, stages)
	}

	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_ServerErrorHidesBody(t *testing.T) {
	var calls atomic.Int32
	client := newStatusServer(t, http.StatusInternalServerError, "internal error", &calls)
	f := newFixture(t, &stubTranscriber{text: "Привет"}, client, &stubSynthesizer{}, PipelineConfig{})

	turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-b")

	if turn.Status != entities.TurnStatusFailed || turn.FailureKind() != entities.FailureRemoteAPI {
		t.Fatalf("Expected remote_api_error, got %s %s", turn.Status, turn.FailureKind())
	}

	var apiErr *domain.RemoteAPIError
	if !errors.As(turn.Failure, &apiErr) || apiErr.StatusCode != 500 || apiErr.Body != "internal error" {
		t.Errorf("Expected RemoteAPIError 500 with body, got %v", turn.Failure)
	}

	msg := UserMessage(turn, LocaleEN)
	if msg != genericFailure[LocaleEN] {
		t.Errorf("Expected generic failure message, got %q", msg)
	}
	if strings.Contains(msg, "internal error") {
		t.Error("User message must not include the remote body")
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("Expected exactly one completion call, got %d", n)
	}
	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_SynthesisFailureKeepsReply(t *testing.T) {
	completion := llm.NewMockCompletionClient()
	completion.Reply = "Здравствуйте!"
	unsupported := errors.New("unsupported language: xx")
	f := newFixture(t, &stubTranscriber{text: "Привет"}, completion,
		&stubSynthesizer{err: &domain.SynthesisError{Engine: "stub", Language: "xx", Err: unsupported}},
		PipelineConfig{Language: "xx"})

	turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-c")

	if turn.Status != entities.TurnStatusFailed || turn.FailureKind() != entities.FailureSynthesis {
		t.Fatalf("Expected synthesis_error, got %s %s", turn.Status, turn.FailureKind())
	}
	var synthErr *domain.SynthesisError
	if !errors.As(turn.Failure, &synthErr) {
		t.Errorf("Expected SynthesisError in failure chain, got %v", turn.Failure)
	}
	if turn.Transcript != "Привет" || turn.CompletionText != "Здравствуйте!" {
		t.Errorf("Transcript and reply must survive, got %q / %q", turn.Transcript, turn.CompletionText)
	}
	if turn.ResponseAudio != nil {
		t.Error("Expected no response audio")
	}

	result := NewTurnResultMessage(turn, LocaleEN, true)
	if result.Transcript != "Привет" || result.Reply != "Здравствуйте!" || result.DisplayText == "" {
		t.Errorf("Result must expose transcript and reply, got %+v", result)
	}
	if result.Error == nil || result.Error.Kind != string(entities.FailureSynthesis) {
		t.Errorf("Expected synthesis error body, got %+v", result.Error)
	}

	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_StageOrdering(t *testing.T) {
	completion := llm.NewMockCompletionClient()
	var sawTranscript bool
	checker := &orderCheckingCompletion{inner: completion, onCall: func(req repositories.CompletionRequest) {
		sawTranscript = len(req.Messages) == 2 && req.Messages[1].Content == "hello there"
	}}
	f := newFixture(t, &stubTranscriber{text: "hello there"}, checker, &stubSynthesizer{}, PipelineConfig{})

	var progress []entities.Stage
	turn := f.pipeline.Execute(context.Background(), TurnRequest{
		SessionID: "session-order",
		Input:     pcmInput(800),
		Channel:   entities.ChannelWebSocket,
		Progress:  func(s entities.Stage) { progress = append(progress, s) },
	})

	if turn.Status != entities.TurnStatusSynthesized {
		t.Fatalf("Expected synthesized, got %s (%v)", turn.Status, turn.Failure)
	}
	if !sawTranscript {
		t.Error("Completion must be invoked with the transcript already set")
	}
	if len(progress) != 4 || progress[0] != entities.StageNormalize || progress[3] != entities.StageSynthesize {
		t.Errorf("Unexpected progress %v", progress)
	}

	if len(f.recorder.records) != 1 || f.recorder.records[0].Channel != entities.ChannelWebSocket {
		t.Errorf("Expected one websocket record, got %+v", f.recorder.records)
	}
}

type orderCheckingCompletion struct {
	inner  repositories.CompletionClient
	onCall func(repositories.CompletionRequest)
}

func (c *orderCheckingCompletion) Complete(ctx context.Context, req repositories.CompletionRequest) (string, error) {
	c.onCall(req)
	return c.inner.Complete(ctx, req)
}

func (c *orderCheckingCompletion) ListModels(ctx context.Context) ([]string, error) {
	return c.inner.ListModels(ctx)
}

func TestVoiceTurnPipeline_RateLimited(t *testing.T) {
	var calls atomic.Int32
	client := newStatusServer(t, http.StatusTooManyRequests, `{"message":"rate limited"}`, &calls)
	f := newFixture(t, &stubTranscriber{text: "hello"}, client, &stubSynthesizer{}, PipelineConfig{})

	turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-429")

	if turn.FailureKind() != entities.FailureRemoteAPI {
		t.Fatalf("Expected remote_api_error, got %s", turn.FailureKind())
	}
	var apiErr *domain.RemoteAPIError
	if !errors.As(turn.Failure, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %v", turn.Failure)
	}
	if turn.Transcript != "hello" || turn.CompletionText != "" {
		t.Errorf("Completion text must stay empty, got %q", turn.CompletionText)
	}

	records := f.recorder.records
	if len(records) != 1 || records[0].RemoteStatus != http.StatusTooManyRequests {
		t.Errorf("Expected record with remote status 429, got %+v", records)
	}
	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_EmptyTranscript(t *testing.T) {
	completion := llm.NewMockCompletionClient()
	transcriber := &stubTranscriber{text: "   "}
	f := newFixture(t, transcriber, completion, &stubSynthesizer{}, PipelineConfig{})

	turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-silent")

	if turn.FailureKind() != entities.FailureNoSpeech {
		t.Fatalf("Expected no_speech_detected, got %s", turn.FailureKind())
	}
	if !errors.Is(turn.Failure, domain.ErrNoSpeechDetected) {
		t.Errorf("Expected ErrNoSpeechDetected, got %v", turn.Failure)
	}
	if n := completion.Calls(); n != 0 {
		t.Errorf("Completion must not be invoked, got %d calls", n)
	}
	if !transcriber.sawFile.Load() {
		t.Error("Transcriber must receive an existing input file")
	}
	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_Cleanup(t *testing.T) {
	tests := []struct {
		name        string
		transcriber *stubTranscriber
		completion  func() *llm.MockCompletionClient
		synthesizer *stubSynthesizer
		wantKind    entities.FailureKind
	}{
		{
			name:        "transcription error",
			transcriber: &stubTranscriber{err: &domain.TranscriptionError{Engine: "stub", Err: errors.New("model missing")}},
			completion:  llm.NewMockCompletionClient,
			synthesizer: &stubSynthesizer{},
			wantKind:    entities.FailureTranscription,
		},
		{
			name:        "completion transport error",
			transcriber: &stubTranscriber{text: "hi"},
			completion: func() *llm.MockCompletionClient {
				m := llm.NewMockCompletionClient()
				m.Err = errors.New("connection refused")
				return m
			},
			synthesizer: &stubSynthesizer{},
			wantKind:    entities.FailureCompletion,
		},
		{
			name:        "empty completion",
			transcriber: &stubTranscriber{text: "hi"},
			completion: func() *llm.MockCompletionClient {
				m := llm.NewMockCompletionClient()
				m.Err = domain.ErrEmptyCompletion
				return m
			},
			synthesizer: &stubSynthesizer{},
			wantKind:    entities.FailureEmptyCompletion,
		},
		{
			name:        "synthesis error",
			transcriber: &stubTranscriber{text: "hi"},
			completion:  llm.NewMockCompletionClient,
			synthesizer: &stubSynthesizer{err: errors.New("engine down")},
			wantKind:    entities.FailureSynthesis,
		},
		{
			name:        "success",
			transcriber: &stubTranscriber{text: "hi"},
			completion:  llm.NewMockCompletionClient,
			synthesizer: &stubSynthesizer{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.transcriber, tt.completion(), tt.synthesizer, PipelineConfig{})

			turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-cleanup")

			if turn.FailureKind() != tt.wantKind {
				t.Errorf("Expected kind %q, got %q (%v)", tt.wantKind, turn.FailureKind(), turn.Failure)
			}
			if !turn.IsTerminal() {
				t.Errorf("Turn must end terminal, got %s", turn.Status)
			}
			f.assertNoArtifacts(t)
		})
	}
}

func TestVoiceTurnPipeline_InvalidInput(t *testing.T) {
	completion := llm.NewMockCompletionClient()
	transcriber := &stubTranscriber{text: "hi"}
	f := newFixture(t, transcriber, completion, &stubSynthesizer{}, PipelineConfig{})

	for _, tc := range []struct {
		sessionID string
		input     audio.Input
	}{
		{"", pcmInput(100)},
		{"session", audio.Input{}},
	} {
		turn := f.pipeline.Run(context.Background(), tc.input, tc.sessionID)
		if turn.FailureKind() != entities.FailureInvalidInput {
			t.Errorf("Expected invalid_input for %q, got %s", tc.sessionID, turn.FailureKind())
		}
	}

	if transcriber.calls.Load() != 0 {
		t.Error("Transcriber must not run for invalid input")
	}
	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_TranscriptionTimeout(t *testing.T) {
	transcriber := &stubTranscriber{text: "late", delay: time.Second}
	completion := llm.NewMockCompletionClient()
	f := newFixture(t, transcriber, completion, &stubSynthesizer{}, PipelineConfig{TranscriptionTimeout: 30 * time.Millisecond})

	turn := f.pipeline.Run(context.Background(), pcmInput(1600), "session-slow")

	if turn.FailureKind() != entities.FailureTimeout {
		t.Fatalf("Expected timeout, got %s (%v)", turn.FailureKind(), turn.Failure)
	}
	if turn.Failure.Stage != entities.StageTranscribe {
		t.Errorf("Expected transcribe stage, got %s", turn.Failure.Stage)
	}
	if completion.Calls() != 0 {
		t.Error("Completion must not run after a transcription timeout")
	}
	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_ConcurrentSessionsIsolated(t *testing.T) {
	transcriber := &stubTranscriber{bySize: true, delay: 20 * time.Millisecond}
	f := newFixture(t, transcriber, llm.NewMockCompletionClient(), &stubSynthesizer{}, PipelineConfig{})

	sizes := map[string]int{"session-one": 400, "session-two": 900}
	results := make(map[string]*entities.VoiceTurn)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for sessionID, samples := range sizes {
		wg.Add(1)
		go func(sessionID string, samples int) {
			defer wg.Done()
			turn := f.pipeline.Run(context.Background(), pcmInput(samples), sessionID)
			mu.Lock()
			results[sessionID] = turn
			mu.Unlock()
		}(sessionID, samples)
	}
	wg.Wait()

	for sessionID, samples := range sizes {
		turn := results[sessionID]
		if turn.Status != entities.TurnStatusSynthesized {
			t.Fatalf("%s: expected synthesized, got %s (%v)", sessionID, turn.Status, turn.Failure)
		}
		if turn.SessionID != sessionID {
			t.Errorf("Turn session id mixed up: %s vs %s", turn.SessionID, sessionID)
		}
		want := fmt.Sprintf("You said: input of %d bytes", samples*2)
		if turn.CompletionText != want {
			t.Errorf("%s: expected reply %q, got %q", sessionID, want, turn.CompletionText)
		}
		if string(turn.ResponseAudio.Data) != want {
			t.Errorf("%s: response audio mixed up: %q", sessionID, turn.ResponseAudio.Data)
		}
	}

	f.assertNoArtifacts(t)
}

func TestVoiceTurnPipeline_BusyWhenPoolRejects(t *testing.T) {
	logger := zaptest.NewLogger(t)
	root := t.TempDir()
	ws, _ := artifact.NewWorkspace(root, logger)

	pool, err := workerpool.New(workerpool.Config{Workers: 1, QueueSize: 1, Policy: workerpool.PolicyReject}, logger)
	if err != nil {
		t.Fatalf("workerpool.New failed: %v", err)
	}
	pool.Start()
	defer pool.Stop()

	// occupy the worker and the queue slot
	release := make(chan struct{})
	started := make(chan struct{})
	go pool.Do(context.Background(), func(ctx context.Context) error { close(started); <-release; return nil })
	<-started
	go pool.Do(context.Background(), func(ctx context.Context) error { return nil })
	for deadline := time.Now().Add(time.Second); pool.Queued() < 1 && time.Now().Before(deadline); {
		time.Sleep(time.Millisecond)
	}
	defer close(release)

	pipeline, err := NewVoiceTurnPipeline(PipelineDeps{
		Workspace:   ws,
		Normalizer:  audio.NewNormalizer("", logger),
		Transcriber: &stubTranscriber{text: "hi"},
		Completion:  llm.NewMockCompletionClient(),
		Synthesizer: &stubSynthesizer{},
		Pool:        pool,
	}, PipelineConfig{Model: "m"}, logger)
	if err != nil {
		t.Fatalf("NewVoiceTurnPipeline failed: %v", err)
	}

	turn := pipeline.Run(context.Background(), pcmInput(100), "session-busy")
	if turn.FailureKind() != entities.FailureBusy {
		t.Errorf("Expected busy, got %s (%v)", turn.FailureKind(), turn.Failure)
	}
}
