package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/modgate/internal/config"
	"github.com/nextlevelbuilder/modgate/internal/engine"
	"github.com/nextlevelbuilder/modgate/internal/inference"
	"github.com/nextlevelbuilder/modgate/internal/moderation"
	"github.com/nextlevelbuilder/modgate/internal/platform/discord"
	"github.com/nextlevelbuilder/modgate/internal/review"
	"github.com/nextlevelbuilder/modgate/internal/scheduler"
	"github.com/nextlevelbuilder/modgate/internal/store/sqlite"
)

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	stores, db, err := sqlite.Open(config.ExpandHome(cfg.Storage.Path))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceShutdown, err := setupTracing(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	history := moderation.NewHistoryCache(cfg.Pipeline.HistoryCap, cfg.Pipeline.HistoryTTL())

	// The collector's flush closure captures eng, assigned below before
	// bot.Start opens the gateway and events begin to flow.
	var eng *engine.Engine
	collector := moderation.NewCollector(cfg.Pipeline.FlushInterval(), func(pending map[string][]moderation.Message) {
		eng.ProcessRound(ctx, pending)
	})

	bot, err := discord.NewBot(cfg.Discord.Token, collector, history)
	if err != nil {
		slog.Error("failed to create discord bot", "error", err)
		os.Exit(1)
	}

	adapter := discord.NewAdapter(bot.Session())
	gate := moderation.NewGate(adapter, bot.BotUserID())

	sched := scheduler.New(stores.Reversals, func(ctx context.Context, guildID, userID, reason string) error {
		if err := adapter.UnbanMember(ctx, guildID, userID, reason); err != nil {
			return err
		}
		if err := adapter.SendDirectMessage(ctx, userID, "Your temporary ban has expired."); err != nil {
			slog.Debug("unban notice undeliverable", "user_id", userID, "error", err)
		}
		return nil
	})
	if err := sched.Recover(ctx); err != nil {
		slog.Error("failed to recover reversals", "error", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Pipeline.ActionsPerSecond), cfg.Pipeline.ActionsPerSecond)
	executor := moderation.NewExecutor(adapter, gate, stores.Actions, sched, limiter)

	client := inference.NewClient(cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Model)
	worker := inference.NewWorker(client, cfg.Pipeline.QueueSize, cfg.Pipeline.BatchSize, cfg.Pipeline.BatchDelay())

	consolidator := review.NewConsolidator(adapter, stores.Guilds)

	eng = engine.New(engine.Options{
		Platform:    adapter,
		Stores:      stores,
		Worker:      worker,
		Executor:    executor,
		Review:      consolidator,
		History:     history,
		Fetcher:     discord.FetchAttachment,
		PastActions: cfg.Pipeline.PastActionsLookback(),
	})

	if err := bot.Start(ctx); err != nil {
		slog.Error("failed to start discord bot", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	slog.Info("modgate running",
		"flush_interval", cfg.Pipeline.FlushInterval().String(),
		"model", cfg.Model.Model)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		slog.Info("shutting down", "signal", s.String())
	case <-gctx.Done():
		slog.Error("background task failed", "error", gctx.Err())
	}

	// Stop ingest first so no new rounds start, then let the pending round
	// drain briefly before tearing the workers down.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := bot.Stop(stopCtx); err != nil {
		slog.Warn("discord shutdown error", "error", err)
	}
	collector.Close()
	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Warn("background tasks exited", "error", err)
	}
	if err := traceShutdown(stopCtx); err != nil {
		slog.Warn("trace export shutdown error", "error", err)
	}
	slog.Info("modgate stopped")
}
