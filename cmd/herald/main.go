package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/anthropic"
	"github.com/MikeSquared-Agency/herald/internal/api"
	"github.com/MikeSquared-Agency/herald/internal/config"
	"github.com/MikeSquared-Agency/herald/internal/digest"
	"github.com/MikeSquared-Agency/herald/internal/fetcher"
	"github.com/MikeSquared-Agency/herald/internal/hermes"
	"github.com/MikeSquared-Agency/herald/internal/runner"
	"github.com/MikeSquared-Agency/herald/internal/slack"
	"github.com/MikeSquared-Agency/herald/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("herald starting", "port", cfg.Port, "window_hours", cfg.WindowHours)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel roster
	channels, fetchFlags, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		slog.Error("failed to load channel roster", "error", err)
		os.Exit(1)
	}
	slog.Info("channel roster loaded", "channels", len(channels))

	// Database (optional — herald still writes the file artifact without it)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set — digests will not be persisted")
	}

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Slack poster (optional — herald works without it, just no Slack delivery)
	var slackPoster *slack.Poster
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		slackPoster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured — digest delivery is file-only")
	}

	// Channel fetcher — one MCP child process per channel per run
	fetchChannels := make([]fetcher.Channel, 0, len(channels))
	for _, ch := range channels {
		fetchChannels = append(fetchChannels, fetcher.Channel{ID: ch.ID, Name: ch.Name})
	}
	f := fetcher.New(fetcher.Config{
		Command:    cfg.MCPCommand,
		Args:       cfg.MCPArgs,
		Timeout:    cfg.MCPTimeout,
		Tool:       "conversations_history",
		Window:     time.Duration(cfg.WindowHours) * time.Hour,
		Limit:      cfg.FetchLimit,
		FetchFlags: fetchFlags,
	}, slog.Default())

	assembler := digest.NewAssembler(llm, cfg.Temperature, cfg.MaxOutputTokens, slog.Default())

	// HTTP API
	var digestStore api.DigestStore
	if db != nil {
		digestStore = db
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, digestStore)

	var saver runner.Saver
	if db != nil {
		saver = db
	}
	var poster runner.Poster
	if slackPoster != nil {
		poster = slackPoster
	}
	run := runner.New(f, assembler, saver, poster, hermesClient, srv, runner.Options{
		Channels:    fetchChannels,
		OutputDir:   cfg.OutputDir,
		WindowHours: cfg.WindowHours,
		Model:       cfg.AnthropicModel,
	}, slog.Default())

	// On-demand runs via the bus
	if err := hermesClient.Subscribe(hermes.SubjectDigestRequested, run.HandleDigestRequested); err != nil {
		slog.Error("failed to subscribe to digest requests", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish("swarm.agent.herald.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"channels":  len(channels),
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	go run.Start(ctx, cfg.Interval)

	slog.Info("herald ready", "port", cfg.Port, "interval", cfg.Interval)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("herald stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
