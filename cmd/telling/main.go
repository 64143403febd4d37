// Command telling runs the speech-driven bird count entry core: it reads
// utterances, resolves them against the alias index, and buffers accepted
// observations for upload.
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

	"github.com/vogelwacht/telling/internal/aliasstore"
	"github.com/vogelwacht/telling/internal/app"
	"github.com/vogelwacht/telling/internal/config"
	"github.com/vogelwacht/telling/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	importPath := flag.String("import", "", "import a species seed list (YAML) into the master document and exit")
	rebuild := flag.Bool("rebuild", false, "rebuild the alias index cache and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "telling: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "telling: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("telling starting",
		"config", *configPath,
		"shared_dir", cfg.Data.SharedDir,
		"private_dir", cfg.Data.PrivateDir,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "telling",
	})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── One-shot maintenance modes ────────────────────────────────────────────
	if *importPath != "" {
		return importSeed(ctx, cfg, *importPath)
	}
	if *rebuild {
		return rebuildCache(ctx, cfg)
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithSource(newStdinSource(os.Stdin)),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("ready — speak species names, one utterance per line; Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Maintenance modes ─────────────────────────────────────────────────────────

// importSeed merges a seed species list into the master document and rebuilds
// the cache synchronously.
func importSeed(ctx context.Context, cfg *config.Config, path string) int {
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to open document stores", "err", err)
		return 1
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read seed file", "path", path, "err", err)
		return 1
	}
	added, total, err := store.ImportSeed(ctx, data)
	if err != nil {
		slog.Error("seed import failed", "path", path, "err", err)
		return 1
	}
	if err := store.RebuildNow(ctx); err != nil {
		slog.Error("cache rebuild after import failed", "err", err)
		return 1
	}
	slog.Info("seed imported", "path", path, "new_aliases", added, "total_aliases", total)
	return 0
}

// rebuildCache forces a synchronous rebuild of the derived index cache.
func rebuildCache(ctx context.Context, cfg *config.Config) int {
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to open document stores", "err", err)
		return 1
	}
	if err := store.RebuildNow(ctx); err != nil {
		slog.Error("cache rebuild failed", "err", err)
		return 1
	}
	return 0
}

func newStore(cfg *config.Config) (*aliasstore.Store, error) {
	private, shared, err := app.OpenDocStores(cfg)
	if err != nil {
		return nil, err
	}
	return aliasstore.New(private, shared), nil
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
