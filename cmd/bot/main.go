package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telellm/telellm/internal/bot"
	"github.com/telellm/telellm/internal/config"
	"github.com/telellm/telellm/internal/db"
	"github.com/telellm/telellm/internal/events"
	"github.com/telellm/telellm/internal/httpapi"
	"github.com/telellm/telellm/internal/httpapi/handlers"
	"github.com/telellm/telellm/internal/llm"
	"github.com/telellm/telellm/internal/models"
	"github.com/telellm/telellm/internal/session"
	"github.com/telellm/telellm/internal/settings"
	"github.com/telellm/telellm/internal/telegram"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	st := settings.NewStore(gdb, rdb)

	repo := session.NewRepo(gdb)
	sessions := session.NewService(repo)

	// Provider registry, routed by credential vendor.
	reg := llm.NewRegistry()
	reg.Register("openai", func(cred models.ProviderCredential) (llm.Provider, error) {
		return llm.NewOpenAIProvider(cfg.OpenAIBaseURL, cred.APIKey, cfg.RequestTimeout, logger), nil
	})
	reg.Register("google", func(cred models.ProviderCredential) (llm.Provider, error) {
		return &llm.NotImplementedProvider{Vendor: "google"}, nil
	})
	reg.Register("groq", func(cred models.ProviderCredential) (llm.Provider, error) {
		return &llm.NotImplementedProvider{Vendor: "groq"}, nil
	})

	router := llm.NewRouter(llm.NewCatalog(gdb), reg, st, logger)

	// Turn events feed the stats pipeline; losing them never fails a turn,
	// so a dead broker only logs a warning.
	var sink bot.EventSink
	pub, err := events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		logger.Warn("event publisher unavailable", "error", err)
	} else {
		sink = pub
		defer pub.Close()
	}

	api := telegram.NewClient(nil, cfg.TelegramAPIBaseURL, cfg.TelegramToken)
	handler := bot.NewHandler(api, sessions, repo, router, st, sink, cfg.DialogTokenLimit, logger)

	sup := bot.NewSupervisor(api, handler, bot.SupervisorConfig{
		Token:         cfg.TelegramToken,
		WebhookSecret: cfg.WebhookSecret,
		PollTimeout:   cfg.PollTimeout,
		StopTimeout:   cfg.StopTimeout,
	}, func(err error) {
		logger.Error("bot failure reported", "error", err)
	}, logger)

	httpHandler := handlers.NewHandler(cfg, st, repo, sup, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpHandler),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Menu registration is cosmetic; a failure should not keep the bot down.
	if err := bot.RegisterCommands(ctx, api, repo, logger); err != nil {
		logger.Warn("register command menu", "error", err)
	}

	switch bot.DeliveryMode(cfg.BotMode) {
	case bot.ModeWebhook:
		if cfg.WebhookPublicURL == "" {
			log.Fatalf("webhook mode needs WEBHOOK_PUBLIC_URL")
		}
		if err := sup.StartWebhook(ctx, cfg.WebhookPublicURL); err != nil {
			log.Fatalf("start webhook: %v", err)
		}
	default:
		if err := sup.StartPolling(); err != nil {
			log.Fatalf("start polling: %v", err)
		}
	}

	logger.Info("bot started", "mode", cfg.BotMode, "http", cfg.HTTPAddr)
	<-ctx.Done()
	logger.Info("shutting down")

	if err := sup.Stop(cfg.StopTimeout); err != nil {
		logger.Error("bot stop", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}
