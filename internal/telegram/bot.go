package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/internal/audio"
	"github.com/vocalis/server/usecase"
)

const (
	greeting         = "Привет! Отправь мне голосовое сообщение, и я отвечу тебе тоже голосом!"
	processingNotice = "Обрабатываю ваше сообщение..."
	// Telegram bots may only download files up to 20 MB
	maxVoiceBytes   = 20 << 20
	downloadTimeout = 30 * time.Second
	sessionTimeout  = 5 * time.Second
)

// Sender is the part of the Bot API the bot talks to
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

var _ Sender = (*tgbotapi.BotAPI)(nil)

// BotConfig holds the per-turn settings of the chat bot
type BotConfig struct {
	SystemPrompt string
	Language     string
}

// Bot answers Telegram voice messages with a text and a voice reply
type Bot struct {
	api        Sender
	pipeline   usecase.TurnExecutor
	sessions   *usecase.SessionService
	httpClient *http.Client
	config     BotConfig
	locale     usecase.Locale
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// NewBot creates a bot; httpClient may be nil
func NewBot(api Sender, pipeline usecase.TurnExecutor, sessions *usecase.SessionService, httpClient *http.Client, config BotConfig, logger *zap.Logger) *Bot {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: downloadTimeout}
	}
	return &Bot{
		api:        api,
		pipeline:   pipeline,
		sessions:   sessions,
		httpClient: httpClient,
		config:     config,
		locale:     usecase.ParseLocale(config.Language),
		logger:     logger,
	}
}

// Run handles updates until the channel closes or ctx is done, then waits
// for in-flight messages
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// HandleUpdate answers a single update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			b.reply(msg.Chat.ID, greeting)
		}
		return
	}

	if msg.Voice != nil {
		b.handleVoice(ctx, msg)
	}
}

func (b *Bot) handleVoice(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sessionID := "tg-" + strconv.FormatInt(chatID, 10)
	if msg.From != nil {
		sessionID = "tg-" + strconv.FormatInt(msg.From.ID, 10)
	}

	logger := b.logger.With(
		zap.String("sessionID", sessionID),
		zap.String("fileID", msg.Voice.FileID),
		zap.Int("duration", msg.Voice.Duration))
	logger.Info("Voice message received")

	b.reply(chatID, processingNotice)

	sessionCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	_, err := b.sessions.Ensure(sessionCtx, sessionID, entities.ChannelTelegram, b.config.Language)
	cancel()
	if err != nil {
		// the turn still runs; only the session counters are lost
		logger.Warn("Failed to ensure session", zap.Error(err))
	}

	data, err := b.download(ctx, msg.Voice.FileID)
	if err != nil {
		logger.Error("Failed to download voice message", zap.Error(err))
		b.reply(chatID, usecase.FailureNotice(entities.FailureIO, b.locale))
		return
	}

	turn := b.pipeline.Execute(ctx, usecase.TurnRequest{
		SessionID:    sessionID,
		Input:        audio.Input{Format: audio.FormatOggOpus, Data: data},
		Channel:      entities.ChannelTelegram,
		SystemPrompt: b.config.SystemPrompt,
		Language:     b.config.Language,
	})

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionTimeout)
	b.sessions.RecordTurn(recordCtx, sessionID)
	cancel()

	if turn.HasReply() {
		b.reply(chatID, usecase.BotReply(turn, b.locale))
	}

	if turn.Status != entities.TurnStatusSynthesized {
		logger.Warn("Voice turn failed",
			zap.String("turnID", turn.ID),
			zap.String("kind", string(turn.FailureKind())))
		if turn.HasReply() {
			b.reply(chatID, usecase.FailureNotice(turn.FailureKind(), b.locale))
		} else {
			b.reply(chatID, usecase.UserMessage(turn, b.locale))
		}
		return
	}

	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{
		Name:  turn.ResponseAudio.Name,
		Bytes: turn.ResponseAudio.Data,
	})
	if _, err := b.api.Send(voice); err != nil {
		logger.Error("Failed to send voice reply", zap.Error(err))
		b.reply(chatID, usecase.FailureNotice(entities.FailureSynthesis, b.locale))
		return
	}

	logger.Info("Voice reply sent",
		zap.String("turnID", turn.ID),
		zap.Duration("elapsed", turn.Duration()))
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxVoiceBytes {
		return nil, fmt.Errorf("voice message exceeds %d bytes", maxVoiceBytes)
	}

	return data, nil
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chatID", chatID), zap.Error(err))
	}
}
