// Command ctfindexer indexes Polymarket CTF exchange trades from Polygon into
// Postgres and serves them over HTTP. It loads configuration, validates it,
// wires dependencies, sets up signal handling, and runs the selected mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alanyoungcy/ctfindexer/internal/app"
	"github.com/alanyoungcy/ctfindexer/internal/config"
)

func main() {
	var opts app.Options
	configPath := flag.String("config", os.Getenv("CTFIDX_CONFIG"), "path to TOML configuration file (optional)")
	mode := flag.String("mode", "", "override the configured mode: index, discover, server, full, tx, decode-market")
	flag.StringVar(&opts.TxHash, "tx", "", "transaction hash for tx and decode-market modes")
	flag.StringVar(&opts.Slug, "slug", "", "market slug for decode-market, or event slug for discover")
	flag.Func("log-index", "ConditionPreparation log index for decode-market --tx", func(s string) error {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		v := uint(n)
		opts.LogIndex = &v
		return nil
	})
	flag.Func("from", "first block of a one-shot index backfill", uint64Flag(&opts.FromBlock))
	flag.Func("to", "last block of a one-shot index backfill", uint64Flag(&opts.ToBlock))
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("ctfindexer starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	// Results of one-shot modes go to stdout; logs go to stderr.
	application := app.New(cfg, opts, os.Stdout, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("ctfindexer stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func uint64Flag(dst **uint64) func(string) error {
	return func(s string) error {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = &n
		return nil
	}
}
