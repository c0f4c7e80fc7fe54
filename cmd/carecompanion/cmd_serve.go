package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/carecompanion/internal/agent"
	"github.com/user/carecompanion/internal/analyzer"
	"github.com/user/carecompanion/internal/coordinator"
	"github.com/user/carecompanion/internal/emergency"
	"github.com/user/carecompanion/internal/ingest"
	"github.com/user/carecompanion/internal/notify"
	"github.com/user/carecompanion/internal/scheduler"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
	"github.com/user/carecompanion/internal/webhook"
	"github.com/user/carecompanion/pkg/llm"
	"github.com/user/carecompanion/pkg/llm/openai"
)

var replayHistory bool

func init() {
	serveCmd.Flags().BoolVar(&replayHistory, "replay", true, "replay the CSV datasets through the ingest path on startup")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the monitoring daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Store, restored from the last snapshot when one exists.
	st := store.New()
	snapshotPath := filepath.Join(cfg.DataDir, cfg.SnapshotPath)
	if _, err := os.Stat(snapshotPath); err == nil {
		if err := st.LoadFromFile(snapshotPath); err != nil {
			slog.Warn("snapshot restore failed", "path", snapshotPath, "error", err)
		} else {
			slog.Info("snapshot restored", "path", snapshotPath)
		}
	}

	// Narrator: template-backed unless an API endpoint is configured.
	llmCfg := llm.Config{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	}
	var narrator types.Narrator
	if cfg.LLM.BaseURL != "" {
		narrator = openai.New(&llmCfg)
		slog.Info("narrator backend", "kind", "openai", "base_url", cfg.LLM.BaseURL)
	} else {
		tn, err := llm.NewTemplateNarrator(llmCfg)
		if err != nil {
			return fmt.Errorf("create narrator: %w", err)
		}
		narrator = tn
		slog.Info("narrator backend", "kind", "template", "model", cfg.LLM.Model)
	}

	// Notification channels.
	registry := notify.NewRegistry()
	retry := notify.DefaultRetryPolicy()
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram channel: %w", err)
		}
		registry.Register("telegram:", retry.WithRetry(tg.Handler))
		slog.Info("telegram notifications enabled")
	} else {
		slog.Warn("telegram notifications disabled (no token)")
	}

	// Agents.
	clock := time.Now
	health := agent.NewHealth(cfg, st, narrator, clock)
	safety := agent.NewSafety(cfg, st, narrator, clock)
	reminder := agent.NewReminder(cfg, st, narrator, clock)
	social := agent.NewSocial(cfg, st, narrator, clock)
	em := emergency.New(cfg, st, narrator, registry, clock)
	coord := coordinator.New(cfg, health, safety, reminder, social, em, narrator, st, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ingest queue.
	queue := ingest.NewQueue(int64(cfg.Agents.MaxConcurrent))
	queue.SetProcessor(coord.HandleIncoming)
	queue.Start(ctx)
	defer queue.Stop()

	// Historical datasets.
	an, err := analyzer.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load datasets: %w", err)
	}
	if replayHistory {
		envs := an.Envelopes()
		for _, env := range envs {
			if err := queue.Enqueue(env); err != nil {
				slog.Warn("replay envelope dropped", "user", env.UserID, "error", err)
			}
		}
		slog.Info("replayed historical data", "envelopes", len(envs))
	}

	// Periodic updates.
	sched := scheduler.New(health, safety, reminder, social, em, coord)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP API.
	srv := webhook.NewServer(queue, coord, em)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	slog.Info("carecompanion started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.Agents.MaxConcurrent,
		"listen", cfg.ListenAddr,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	cancel()
	queue.WaitIdle(5 * time.Second)
	if err := st.SaveToFile(snapshotPath); err != nil {
		slog.Error("snapshot save failed", "path", snapshotPath, "error", err)
	} else {
		slog.Info("snapshot saved", "path", snapshotPath)
	}
	return nil
}
