// Package main запускает HTTP-сервер и Telegram-бота магазина.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/shopbot/internal/bot"
	"github.com/mmeshcher/shopbot/internal/config"
	"github.com/mmeshcher/shopbot/internal/handler"
	"github.com/mmeshcher/shopbot/internal/middleware"
	"github.com/mmeshcher/shopbot/internal/notify"
	"github.com/mmeshcher/shopbot/internal/repository"
	"github.com/mmeshcher/shopbot/internal/service"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var (
		api        *tgbotapi.BotAPI
		dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
		telegram   *notify.TelegramDispatcher
	)
	if cfg.BotToken != "" {
		api, err = tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			sugar.Fatalw("telegram bot initialization error", "error", err.Error())
		}
		sugar.Infow("authorized on telegram", "account", api.Self.UserName)

		telegram = notify.NewTelegramDispatcher(api, repo, logger)
		dispatcher = telegram
	} else {
		sugar.Warn("BOT_TOKEN is empty, notifications are written to the log only")
	}

	svc := service.NewService(repo, dispatcher, logger)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.EnsureAdmin(ctx, cfg.AdminTelegramID); err != nil {
		sugar.Fatalw("bootstrap admin error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting shop server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if api != nil {
		b := bot.New(api, svc, logger)

		g.Go(func() error {
			u := tgbotapi.NewUpdate(0)
			u.Timeout = 60
			sugar.Info("starting telegram polling")
			return b.Run(ctx, api.GetUpdatesChan(u))
		})
	}

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down...")

		if api != nil {
			api.StopReceivingUpdates()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}

	if telegram != nil {
		telegram.Wait()
	}
}

// openRepository подключается к PostgreSQL или, при пустом DSN, создаёт хранилище в памяти.
func openRepository(dsn string) (service.Repository, error) {
	if dsn == "" {
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(dsn)
}
