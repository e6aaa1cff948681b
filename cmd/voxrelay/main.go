package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"voxrelay/internal/config"
	"voxrelay/internal/runtime"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configPath := cli.StringP("config", "c", "", "YAML config file")
	envFile := cli.StringP("env", "e", "", "Env file path (default ./.env when present)")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides config")
	cli.Parse()

	// bootstrap logger until the config says otherwise
	setupLogger("info", "text")

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		if errors.Is(err, config.ErrMissingSecret) {
			log.Error("Missing required secret", "err", err)
		} else {
			log.Error("Failed to load config", "err", err)
		}
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)

	logger.Info("Booting up", "environment", cfg.Environment, "telegram", cfg.Telegram.Enabled, "bus", cfg.Bus.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		logger.Error("Relay failed", "err", err)
		os.Exit(1)
	}
	logger.Info("Bye")
}

func setupLogger(level, format string) *log.Logger {
	lvl, ok := logLevelMap[strings.ToLower(level)]
	if !ok {
		lvl = log.LevelInfo
	}

	var logger *log.Logger
	if strings.EqualFold(format, "json") {
		logger = log.New(log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: lvl}))
	} else {
		logger = log.New(tint.NewHandler(os.Stdout, &tint.Options{Level: lvl}))
	}
	log.SetDefault(logger)
	return logger
}
