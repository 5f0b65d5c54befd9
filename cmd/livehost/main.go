// Command livehost is the real-time decision core of the virtual livestream
// host: it consumes classified viewer comments from the message bus, decides
// which ones the host responds to, paces the commercial flow of the session,
// and publishes speak requests for the response generator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lumenstream/livehost/internal/archive"
	"github.com/lumenstream/livehost/internal/brain"
	"github.com/lumenstream/livehost/internal/bus"
	"github.com/lumenstream/livehost/internal/clock"
	"github.com/lumenstream/livehost/internal/config"
	"github.com/lumenstream/livehost/internal/metrics"
	"github.com/lumenstream/livehost/internal/observe"
	"github.com/lumenstream/livehost/internal/orchestrator"
	"github.com/lumenstream/livehost/internal/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		// Environment-only deployments run without a config file.
		cfg, err = config.Load("")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "livehost: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	sessionID := time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8]

	slog.Info("livehost starting",
		"config", *configPath,
		"session_id", sessionID,
		"admin_addr", cfg.Server.AdminAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "livehost",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Core components ───────────────────────────────────────────────────────
	clk := clock.System{}
	machine := state.NewMachine(clk)
	collector := metrics.NewCollector(clk, cfg.Metrics.SalePhrases)
	engine := brain.New(brainConfig(cfg), clk)

	// ── Session log ───────────────────────────────────────────────────────────
	sessLog, err := observe.NewSessionLog(cfg.Metrics.LogDir, sessionID)
	if err != nil {
		slog.Error("failed to open session log", "err", err)
		return 1
	}
	defer sessLog.Close()

	// ── Message bus ───────────────────────────────────────────────────────────
	conn, err := bus.DialAMQP(cfg.Bus.URL)
	if err != nil {
		slog.Error("failed to connect to broker", "url", cfg.Bus.URL, "err", err)
		return 1
	}
	defer conn.Close()
	conn.OnReconnect = func() {
		observe.DefaultMetrics().BusReconnects.Add(context.Background(), 1)
	}
	slog.Info("broker connected", "input_queue", cfg.Bus.InputQueue, "output_queue", cfg.Bus.OutputQueue)

	// ── Archive (optional) ────────────────────────────────────────────────────
	var store *archive.Store
	if cfg.Archive.PostgresDSN != "" {
		store, err = archive.NewStore(ctx, cfg.Archive.PostgresDSN, sessionID)
		if err != nil {
			slog.Error("failed to open archive", "err", err)
			return 1
		}
		defer store.Close()
		slog.Info("archive connected")
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, sessionID)

	orc := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Clock:     clk,
		Brain:     engine,
		Machine:   machine,
		Collector: collector,
		Consumer:  conn,
		Publisher: conn,
		Metrics:   observe.DefaultMetrics(),
		Archive:   store,
		SessLog:   sessLog,
		SessionID: sessionID,
	})

	slog.Info("orchestrator ready — press Ctrl+C to shut down")

	if err := orc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye", "session_id", sessionID)
	return 0
}

// brainConfig maps the file/env configuration onto the brain's policy.
func brainConfig(cfg *config.Config) brain.Config {
	bc := brain.DefaultConfig()
	bc.MinSpeakInterval = secs(cfg.Brain.MinSpeakInterval)
	bc.MaxSpeakInterval = secs(cfg.Brain.MaxSpeakInterval)
	bc.DefaultCooldown = secs(cfg.Brain.DefaultCooldown)
	bc.HighPriorityThreshold = cfg.Brain.HighPriorityThreshold
	bc.AutoSpeakPriority = cfg.Brain.AutoSpeakPriority
	bc.MaxQueueSize = cfg.Brain.MaxQueueSize
	bc.DuplicateWindow = cfg.Brain.DuplicateWindow
	bc.DuplicateSimilarity = cfg.Brain.DuplicateSimilarity
	return bc
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sessionID string) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║        livehost — startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printField("Session", sessionID)
	printField("Input queue", cfg.Bus.InputQueue)
	printField("Output queue", cfg.Bus.OutputQueue)
	printField("Speak interval", fmt.Sprintf("%.1fs–%.1fs", cfg.Brain.MinSpeakInterval, cfg.Brain.MaxSpeakInterval))
	if cfg.State.Enabled {
		printField("Sale flow", "enabled")
	} else {
		printField("Sale flow", "disabled")
	}
	if cfg.Viewer.FeedURL != "" {
		printField("Viewer feed", cfg.Viewer.FeedURL)
	} else {
		printField("Viewer feed", "(disabled)")
	}
	if cfg.Archive.PostgresDSN != "" {
		printField("Archive", "postgres")
	} else {
		printField("Archive", "(disabled)")
	}
	if cfg.Server.AdminAddr != "" {
		printField("Admin addr", cfg.Server.AdminAddr)
	}
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printField(name, value string) {
	if len(value) > 23 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-14s : %-23s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
