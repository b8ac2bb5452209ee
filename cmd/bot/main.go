package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/vocalis/server/internal/bootstrap"
	"github.com/vocalis/server/internal/config"
	"github.com/vocalis/server/internal/telegram"
	"github.com/vocalis/server/usecase"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.TelegramBotToken == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal("Failed to connect to Telegram", zap.Error(err))
	}
	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	app.Start()

	sessions := usecase.NewSessionService(app.Sessions, logger)
	bot := telegram.NewBot(api, app.Pipeline, sessions, nil, telegram.BotConfig{
		SystemPrompt: cfg.BotSystemPrompt,
		Language:     cfg.Pipeline.Language,
	}, logger)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		logger.Info("Bot is shutting down...")
		api.StopReceivingUpdates()
	}()

	bot.Run(ctx, updates)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.Close(closeCtx)

	logger.Info("Bot exited")
}
