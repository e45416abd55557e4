package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/term"

	"kpiprogress/internal/backend"
	"kpiprogress/internal/cli"
	applog "kpiprogress/internal/log"
	"kpiprogress/internal/services"
	"kpiprogress/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kpi-tui: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return errors.New("usage: kpi-tui <connection-id>")
	}
	parentRef, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || parentRef <= 0 {
		return fmt.Errorf("invalid connection id %q", os.Args[1])
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("an interactive terminal is required")
	}

	cli.LoadEnvFile()

	// The editor owns the screen, so logs go to KPI_TUI_LOG or nowhere.
	logOut := io.Discard
	if path := os.Getenv("KPI_TUI_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := cli.SetupLogger(logOut, applog.ComponentTUI)

	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return fmt.Errorf("backend configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	}()

	be := result.Backend
	editor := services.NewEditor(
		services.NewSessionLoader(be, be, nil),
		be,
		func() int { return cfg.CurrentYear(time.Now()) },
	)

	logger.Info("Starting KPI editor", "connection_id", parentRef, "backend", cfg.DataBackend)
	return tui.Run(ctx, editor, parentRef, logger)
}
