package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap/zaptest"

	"github.com/vocalis/server/adapters"
	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/internal/audio"
	"github.com/vocalis/server/usecase"
)

type fakeSender struct {
	mu      sync.Mutex
	fileURL string
	texts   []string
	voices  []tgbotapi.VoiceConfig
	sendErr error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		f.texts = append(f.texts, v.Text)
	case tgbotapi.VoiceConfig:
		if f.sendErr != nil {
			return tgbotapi.Message{}, f.sendErr
		}
		f.voices = append(f.voices, v)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) GetFileDirectURL(fileID string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("file not found")
	}
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeSender) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// stubPipeline ends every turn with the configured outcome
type stubPipeline struct {
	mu       sync.Mutex
	requests []usecase.TurnRequest
	failure  *entities.TurnFailure
	// failAfterReply fails at synthesis instead of transcription
	failAfterReply bool
}

func (s *stubPipeline) Execute(ctx context.Context, req usecase.TurnRequest) *entities.VoiceTurn {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	turn := entities.NewVoiceTurn(req.SessionID)
	if s.failure != nil && !s.failAfterReply {
		turn.Fail(s.failure)
		return turn
	}
	turn.MarkTranscribed("Как дела?")
	turn.MarkCompleted("Отлично!")
	if s.failure != nil {
		turn.Fail(s.failure)
		return turn
	}
	turn.MarkSynthesized(&entities.ResponseAudio{Name: "response.mp3", ContentType: "audio/mpeg", Data: []byte("mp3")})
	turn.FinishedAt = time.Now()
	return turn
}

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/voice-1") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("OggS-voice"))
	}))
	t.Cleanup(server.Close)
	return server
}

func voiceUpdate(userID int64, fileID string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:  &tgbotapi.User{ID: userID},
		Chat:  &tgbotapi.Chat{ID: userID},
		Voice: &tgbotapi.Voice{FileID: fileID, Duration: 2, MimeType: "audio/ogg"},
	}}
}

func newTestBot(t *testing.T, sender *fakeSender, pipeline usecase.TurnExecutor) (*Bot, *adapters.MemorySessionRepository) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := adapters.NewMemorySessionRepository()
	sessions := usecase.NewSessionService(repo, logger)
	bot := NewBot(sender, pipeline, sessions, nil, BotConfig{SystemPrompt: "persona", Language: "ru"}, logger)
	return bot, repo
}

func TestHandleUpdate_StartCommand(t *testing.T) {
	sender := &fakeSender{}
	bot, _ := newTestBot(t, sender, &stubPipeline{})

	bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/start",
		Chat:     &tgbotapi.Chat{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}})

	texts := sender.Texts()
	if len(texts) != 1 || texts[0] != greeting {
		t.Errorf("Expected greeting, got %v", texts)
	}
}

func TestHandleUpdate_IgnoresPlainText(t *testing.T) {
	sender := &fakeSender{}
	pipeline := &stubPipeline{}
	bot, _ := newTestBot(t, sender, pipeline)

	bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "hello",
		Chat: &tgbotapi.Chat{ID: 7},
	}})
	bot.HandleUpdate(context.Background(), tgbotapi.Update{})

	if len(sender.Texts()) != 0 || len(pipeline.requests) != 0 {
		t.Errorf("Expected no reaction, got texts %v", sender.Texts())
	}
}

func TestHandleUpdate_VoiceTurn(t *testing.T) {
	server := newFileServer(t)
	sender := &fakeSender{fileURL: server.URL}
	pipeline := &stubPipeline{}
	bot, repo := newTestBot(t, sender, pipeline)

	bot.HandleUpdate(context.Background(), voiceUpdate(42, "voice-1"))

	texts := sender.Texts()
	if len(texts) != 2 {
		t.Fatalf("Expected notice and reply, got %v", texts)
	}
	if texts[0] != processingNotice {
		t.Errorf("Expected processing notice first, got %q", texts[0])
	}
	if texts[1] != "Вы сказали: Как дела?\n\nМой ответ: Отлично!" {
		t.Errorf("Unexpected reply %q", texts[1])
	}
	if len(sender.voices) != 1 {
		t.Fatalf("Expected one voice reply, got %d", len(sender.voices))
	}

	req := pipeline.requests[0]
	if req.SessionID != "tg-42" || req.Channel != entities.ChannelTelegram {
		t.Errorf("Unexpected request %+v", req)
	}
	if req.Input.Format != audio.FormatOggOpus || string(req.Input.Data) != "OggS-voice" {
		t.Errorf("Unexpected input %s %q", req.Input.Format, req.Input.Data)
	}
	if req.SystemPrompt != "persona" || req.Language != "ru" {
		t.Errorf("Expected bot persona and language, got %q %q", req.SystemPrompt, req.Language)
	}

	session, err := repo.GetByID(context.Background(), "tg-42")
	if err != nil {
		t.Fatalf("Expected session to exist: %v", err)
	}
	if session.TurnCount != 1 {
		t.Errorf("Expected 1 turn, got %d", session.TurnCount)
	}
}

func TestHandleUpdate_VoiceFailures(t *testing.T) {
	tests := []struct {
		name      string
		pipeline  *stubPipeline
		fileID    string
		sendErr   error
		wantTexts []string
	}{
		{
			name:      "download fails",
			pipeline:  &stubPipeline{},
			fileID:    "missing",
			wantTexts: []string{processingNotice, "Извините, произошла ошибка при обработке голосового сообщения. Попробуйте еще раз."},
		},
		{
			name:      "no speech",
			pipeline:  &stubPipeline{failure: &entities.TurnFailure{Kind: entities.FailureNoSpeech, Stage: entities.StageTranscribe, Err: errors.New("empty")}},
			fileID:    "voice-1",
			wantTexts: []string{processingNotice, "Не удалось распознать речь. Попробуйте еще раз."},
		},
		{
			name: "synthesis fails after reply",
			pipeline: &stubPipeline{
				failure:        &entities.TurnFailure{Kind: entities.FailureSynthesis, Stage: entities.StageSynthesize, Err: errors.New("tts")},
				failAfterReply: true,
			},
			fileID:    "voice-1",
			wantTexts: []string{processingNotice, "Вы сказали: Как дела?\n\nМой ответ: Отлично!", "Не удалось озвучить ответ."},
		},
		{
			name:      "voice upload fails",
			pipeline:  &stubPipeline{},
			fileID:    "voice-1",
			sendErr:   errors.New("telegram down"),
			wantTexts: []string{processingNotice, "Вы сказали: Как дела?\n\nМой ответ: Отлично!", "Не удалось озвучить ответ."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFileServer(t)
			sender := &fakeSender{fileURL: server.URL, sendErr: tt.sendErr}
			bot, _ := newTestBot(t, sender, tt.pipeline)

			bot.HandleUpdate(context.Background(), voiceUpdate(42, tt.fileID))

			texts := sender.Texts()
			if len(texts) != len(tt.wantTexts) {
				t.Fatalf("Expected %d messages, got %v", len(tt.wantTexts), texts)
			}
			for i := range texts {
				if texts[i] != tt.wantTexts[i] {
					t.Errorf("Message %d = %q, want %q", i, texts[i], tt.wantTexts[i])
				}
			}
			if len(sender.voices) != 0 {
				t.Errorf("Expected no voice reply, got %d", len(sender.voices))
			}
		})
	}
}

func TestRun_StopsWhenUpdatesClose(t *testing.T) {
	server := newFileServer(t)
	sender := &fakeSender{fileURL: server.URL}
	pipeline := &stubPipeline{}
	bot, _ := newTestBot(t, sender, pipeline)

	updates := make(chan tgbotapi.Update, 2)
	updates <- voiceUpdate(1, "voice-1")
	updates <- voiceUpdate(2, "voice-1")
	close(updates)

	done := make(chan struct{})
	go func() {
		bot.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after updates closed")
	}

	if len(sender.voices) != 2 {
		t.Errorf("Expected 2 voice replies, got %d", len(sender.voices))
	}
}
