package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/diffmpm/config"
	"github.com/pthm-cable/diffmpm/renderer"
	"github.com/pthm-cable/diffmpm/sim"
	"github.com/pthm-cable/diffmpm/stream"
	"github.com/pthm-cable/diffmpm/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and trajectory")
	seed := flag.Int64("seed", 0, "Scene RNG seed (0 = use config)")
	lossName := flag.String("loss", sim.LossCenterOfMass, "Objective: com or height")
	serve := flag.String("serve", "", "Stream frames over websocket on this address (empty = stream.addr from config)")
	replay := flag.String("replay", "", "View a saved trajectory.json instead of simulating")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *replay != "" {
		snap, err := telemetry.LoadSnapshot(*replay)
		if err != nil {
			slog.Error("failed to load trajectory", "path", *replay, "error", err)
			os.Exit(1)
		}
		renderer.NewViewer(snap, cfg.Render, cfg.Sim.Bound).Run(cfg.Render.TargetFPS)
		return
	}

	if *seed != 0 {
		cfg.Scene.Seed = *seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := sim.Options{
		Loss:      *lossName,
		OutputDir: *outputDir,
		LogStats:  *logStats,
	}

	addr := cfg.Stream.Addr
	if *serve != "" {
		addr = *serve
	}
	if addr != "" {
		hub := stream.NewHub(stream.Meta{
			NGrid:      cfg.Sim.NGrid,
			NParticles: cfg.Sim.NParticles,
			Steps:      cfg.Sim.Steps,
			DT:         cfg.Sim.DT,
		})
		bound, err := hub.Start(addr)
		if err != nil {
			slog.Error("failed to start stream", "addr", addr, "error", err)
			os.Exit(1)
		}
		slog.Info("streaming frames", "addr", bound)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			hub.Shutdown(shutdownCtx)
		}()
		opts.Hub = hub
	}

	r, err := sim.NewRunner(cfg, opts)
	if err != nil {
		slog.Error("failed to create runner", "error", err)
		os.Exit(1)
	}

	slog.Info("starting simulation",
		"seed", cfg.Scene.Seed,
		"n_particles", cfg.Sim.NParticles,
		"n_grid", cfg.Sim.NGrid,
		"steps", cfg.Sim.Steps,
		"scatter", cfg.Parallel.Scatter,
		"loss", *lossName,
	)

	start := time.Now()
	grads, err := r.Run(ctx)
	if cerr := r.Close(); cerr != nil {
		slog.Error("failed to close output", "error", cerr)
	}
	if err != nil {
		slog.Error("simulation failed", "error", err, "phase", r.Driver().Phase().String())
		os.Exit(1)
	}
	slog.Info("run complete",
		"loss", grads.Loss,
		"grad_e", grads.E,
		"grad_gravity", grads.Gravity,
		"elapsed", time.Since(start).String(),
	)

	if *headless {
		return
	}
	renderer.NewViewer(r.Snapshot(), cfg.Render, cfg.Sim.Bound).Run(cfg.Render.TargetFPS)
}
