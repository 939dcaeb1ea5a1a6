// Command colonysim runs the gatherer colony simulation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-colony/internal/api"
	"github.com/talgya/mini-colony/internal/config"
	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/persistence"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── Config ────────────────────────────────────────────────────────
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	slog.Info("config loaded", "path", cfgPath, "grid", fmt.Sprintf("%dx%d", cfg.Grid.Width, cfg.Grid.Height))

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DB.Path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := persistence.Open(cfg.DB.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DB.Path)

	stored := cfg
	stored.API.AdminKey = ""
	run, err := db.StartRun(cfg.Generation.Seed, cfg.Grid.Width, cfg.Grid.Height, stored)
	if err != nil {
		slog.Error("failed to register run", "error", err)
		os.Exit(1)
	}
	slog.Info("run started", "run", run.ID)

	// ── Colony (regenerated each run, deterministic from seed) ───────
	sim := engine.NewSimulation(cfg.Setup())
	defer sim.Close()
	seeded, err := sim.Seed(cfg.SeedConfig())
	if err != nil {
		slog.Error("failed to seed colony", "error", err)
		os.Exit(1)
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.TickInterval()
	eng.ReportEvery = cfg.Engine.ReportEvery
	eng.SnapshotEvery = cfg.Engine.SnapshotEvery
	eng.SetSpeed(cfg.Engine.Speed)

	apiServer := &api.Server{
		Sim:           sim,
		Eng:           eng,
		DB:            db,
		RunID:         run.ID,
		Port:          cfg.API.Port,
		AdminKey:      cfg.API.AdminKey,
		RatePerMinute: cfg.API.RatePerMinute,
	}

	eng.OnTick = func(tick uint64, dt time.Duration) {
		sim.Step(tick, dt)
		apiServer.OnTick(tick)
	}
	eng.OnReport = func(tick uint64) {
		sim.Report(tick)
		if err := sim.CheckInvariants(); err != nil {
			slog.Error("colony invariant violated", "tick", tick, "error", err)
		}
	}
	eng.OnSnapshot = func(tick uint64) {
		if err := db.SaveRunState(run.ID, sim); err != nil {
			slog.Error("periodic save failed", "tick", tick, "error", err)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.AdminKey == "" {
		slog.Warn("COLONY_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nColony is up: %d workers, %s nodes, %d depots.\n",
		seeded.Workers, humanize.Comma(int64(seeded.Nodes)), seeded.Storages)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveRunState(run.ID, sim); err != nil {
		slog.Error("final save failed", "error", err)
	}
	st := sim.Report(eng.Tick())
	fmt.Printf("Simulation stopped after %s. Delivered %s units.\n",
		engine.SimTime(sim.Now()), humanize.Comma(int64(st.Delivered.Total())))
}
