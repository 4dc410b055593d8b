// Command shamwari runs the chat backend HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shamwari-labs/shamwari"
	"github.com/shamwari-labs/shamwari/server"
)

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := shamwari.NewZapLogger(zapLogger)

	cfg, err := server.LoadConfig()
	if err != nil {
		logger.WithErr(err).Error("invalid configuration")
		os.Exit(1)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		logger.WithErr(err).Error("failed to build completion provider")
		os.Exit(1)
	}

	sessionStore, err := buildSessionStore(cfg, logger)
	if err != nil {
		logger.WithErr(err).Error("failed to build session store")
		os.Exit(1)
	}

	durableStore, err := buildDurableStore(cfg, logger)
	if err != nil {
		logger.WithErr(err).Error("failed to build durable store")
		os.Exit(1)
	}
	if durableStore == nil {
		logger.Warn("no durable store configured, authenticated history falls back to the session tier")
	}

	trimmer := shamwari.NewTrimmer(cfg.HistoryMaxTokens, cfg.SystemPrompt, nil)

	chat := shamwari.NewChatService(shamwari.ChatServiceConfig{
		Provider:     shamwari.NewTracingLLMProvider(provider),
		SessionStore: sessionStore,
		DurableStore: durableStore,
		Trimmer:      trimmer,
		RequestConfig: shamwari.NewRequestConfig(
			shamwari.WithMaxToken(cfg.MaxOutputTokens),
			shamwari.WithTemperature(cfg.Temperature),
		),
		CompletionTimeout: cfg.CompletionTimeout,
		Logger:            logger,
	})
	defer chat.Close()

	verifier := shamwari.NewJWTVerifier(cfg.JWTSecret)
	srv := server.New(chat, verifier, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithFields(map[string]interface{}{"port": cfg.Port}).Info("server listening")
		return srv.Run()
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithErr(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func buildProvider(cfg *server.Config) (shamwari.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return shamwari.NewAnthropicLLMProvider(shamwari.AnthropicProviderConfig{
			Client: shamwari.NewAnthropicClient(cfg.AnthropicAPIKey),
			Model:  anthropic.Model(cfg.Model),
		}), nil
	default:
		return shamwari.NewOpenAILLMProvider(shamwari.OpenAIProviderConfig{
			Client: shamwari.NewOpenAIClient(cfg.OpenAIAPIKey),
			Model:  cfg.Model,
		}), nil
	}
}

func buildSessionStore(cfg *server.Config, logger shamwari.Logger) (shamwari.HistoryStore, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("no redis address configured, using in-memory session history")
		return shamwari.NewInMemoryHistoryStore(cfg.SystemPrompt), nil
	}
	return shamwari.NewRedisHistoryStore(
		cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		cfg.SystemPrompt, cfg.SessionTTL, logger)
}

func buildDurableStore(cfg *server.Config, logger shamwari.Logger) (shamwari.HistoryStore, error) {
	switch {
	case cfg.DatabaseURL == "":
		return nil, nil
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		return shamwari.NewPostgresHistoryStore(cfg.DatabaseURL, cfg.SystemPrompt, logger)
	default:
		return shamwari.NewSQLiteHistoryStore(cfg.DatabaseURL, cfg.SystemPrompt, logger)
	}
}
