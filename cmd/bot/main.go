package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/app"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/config"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml), optional")
	flag.StringVar(&envPath, "env", ".env", "path to env file, optional")
	flag.Parse()

	// Best effort: the env file is a dev convenience, real deployments set
	// the variables directly.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		logSvc.Close()
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("exited with error", logx.Err(err))
		logSvc.Close()
		os.Exit(1)
	}
}
