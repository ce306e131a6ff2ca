package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/florawren/clawboard/internal/aggregator"
	"github.com/florawren/clawboard/internal/auth"
	"github.com/florawren/clawboard/internal/config"
	"github.com/florawren/clawboard/internal/db"
	"github.com/florawren/clawboard/internal/gateway"
	"github.com/florawren/clawboard/internal/notify"
	"github.com/florawren/clawboard/internal/realtime"
	"github.com/florawren/clawboard/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	gw := gateway.NewClient(cfg.Gateway, logger)
	authn := auth.NewAuthenticator(cfg.Auth, logger)
	agg := aggregator.New(cfg.Aggregator, gw, nil, logger)

	// The notification store is optional; without a database it answers
	// empty and swallows writes.
	var database *db.DB
	if cfg.Database.DSN != "" {
		var err error
		database, err = db.OpenWithConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
	}
	notifications, err := notify.NewStore(database, logger)
	if err != nil {
		return fmt.Errorf("failed to init notification store: %w", err)
	}

	// Realtime channel: handshakes are minted locally with the same
	// authenticator the HTTP surface uses.
	handshake := func(ctx context.Context) (realtime.Handshake, error) {
		if cfg.Server.WSURL == "" {
			return realtime.Handshake{}, nil
		}
		token, err := authn.IssueHandshake()
		if err != nil {
			return realtime.Handshake{}, err
		}
		return realtime.Handshake{
			Token:     token,
			WSURL:     cfg.Server.WSURL,
			ExpiresIn: int(authn.HandshakeTTL() / time.Second),
		}, nil
	}

	ch := realtime.NewChannel(handshake, nil, logger)
	defer ch.Close()

	unsubscribe := ch.Subscribe(func(ev realtime.Event) {
		switch ev.Event {
		case realtime.EventNeedsRefresh:
			agg.Invalidate()
		case "task:failed":
			var data struct {
				Key   string `json:"key"`
				Error string `json:"error"`
			}
			if len(ev.Data) > 0 {
				json.Unmarshal(ev.Data, &data)
			}
			title := "Task failed"
			if data.Key != "" {
				title = "Task failed: " + data.Key
			}
			if _, err := notifications.Add("task:failed", title, data.Error); err != nil {
				logger.Warn("failed to record notification", "error", err)
			}
			agg.Invalidate()
		}
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch.Start(ctx)

	srv := server.New(cfg.Server, authn, gw, agg, notifications, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
