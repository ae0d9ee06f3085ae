package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phoenix-ai/platform/internal/ai"
	"github.com/phoenix-ai/platform/internal/assistant"
	"github.com/phoenix-ai/platform/internal/chat"
	"github.com/phoenix-ai/platform/internal/config"
	"github.com/phoenix-ai/platform/internal/db"
	"github.com/phoenix-ai/platform/internal/httpapi"
	"github.com/phoenix-ai/platform/internal/httpapi/handlers"
	"github.com/phoenix-ai/platform/internal/ledger"
	"github.com/phoenix-ai/platform/internal/moderation"
	"github.com/phoenix-ai/platform/internal/settings"
	"github.com/phoenix-ai/platform/internal/store/rabbitmq"
	"github.com/phoenix-ai/platform/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Settings: redis in front of the settings table. Redis is optional.
	var cache settings.Cache
	rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rs.Ping(pingCtx); err != nil {
		log.Printf("redis unavailable, settings read from db only: %v", err)
		_ = rs.Close()
	} else {
		cache = rs
		defer rs.Close()
	}
	cancel()
	settingsStore := settings.NewStore(gdb, cache, cfg.SettingsCacheTTL)

	apiKey, err := settingsStore.Resolve(ctx, settings.KeyAPIKey, cfg.OpenAIAPIKey)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	fallbackModel := cfg.OpenAIModel
	if cfg.AIProvider == "ollama" {
		fallbackModel = cfg.OllamaModel
	}
	defaults, err := settingsStore.Defaults(ctx, ai.Params{Model: fallbackModel})
	if err != nil {
		log.Fatalf("settings: %v", err)
	}

	reg := ai.NewRegistry()
	reg.Register("openai", func(key string) (ai.Provider, error) {
		return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, key, cfg.OpenAIModel, &http.Client{Timeout: cfg.AITimeout})
	})
	reg.Register("ollama", func(string) (ai.Provider, error) {
		p := ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
		p.Client.Timeout = cfg.AITimeout
		return p, nil
	})
	provider, err := reg.Get(cfg.AIProvider, apiKey)
	if err != nil {
		log.Fatalf("ai provider %q (known: %v): %v", cfg.AIProvider, reg.Names(), err)
	}
	gateway := ai.NewGateway(provider, cfg.AITimeout, defaults)

	led := ledger.New(gdb)
	chatSvc := chat.NewService(
		chat.NewRepo(gdb),
		assistant.NewRepo(gdb),
		led,
		gateway,
		moderation.NewGate(cfg.BlockedTerms),
		chat.Options{
			CreditPerCharacter: cfg.CreditPerCharacter,
			FallbackReply:      cfg.AIFallbackReply,
			DefaultMemoryLimit: cfg.ChatDefaultMemoryLimit,
			FloorForTier:       cfg.FloorForTier,
		},
	)

	var grants handlers.GrantPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitCreditQueue)
	if err != nil {
		log.Printf("rabbitmq unavailable, credit grants disabled: %v", err)
	} else {
		grants = pub
		defer func() {
			if err := pub.Close(); err != nil {
				log.Printf("rabbitmq close: %v", err)
			}
		}()
	}

	h := handlers.NewHandler(cfg, chatSvc, led, grants)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(cfg, h),
		ReadHeaderTimeout: 10 * time.Second,
		// a turn may wait on the provider for the full ai timeout
		WriteTimeout: cfg.AITimeout + 30*time.Second,
	}

	go func() {
		log.Printf("server listening addr=%s provider=%s model=%s", cfg.HTTPAddr, cfg.AIProvider, defaults.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
