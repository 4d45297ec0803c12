// Command livescribe is the relay server: it accepts WebSocket connections,
// accumulates the audio chunks each client sends and streams transcriptions
// back.
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

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded into the environment if present")
	watch := flag.Bool("watch", false, "reload the log level when the config file changes or on SIGHUP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livescribe: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("livescribe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Transcription.Backend.Name,
		"fallbacks", len(cfg.Transcription.Fallbacks),
		"max_buffer_bytes", cfg.Server.BufferLimit(),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.Config{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, func(c config.Change) {
			if c.Diff.LogLevelChanged {
				level.Set(slogLevel(c.Diff.NewLogLevel))
				slog.Info("log level changed", "level", c.Diff.NewLogLevel)
			}
			if len(c.Diff.RestartRequired) > 0 {
				slog.Warn("config changes require a restart", "sections", c.Diff.RestartRequired)
			}
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer w.Stop()

		// SIGHUP forces a reload without waiting for the next poll.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if _, err := w.Reload(); err != nil {
						slog.Warn("config reload failed", "err", err)
					}
				}
			}
		}()
	}

	// ── Application ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	application, err := app.New(cfg, reg, app.WithLogger(logger), app.WithTelemetry(tel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
