package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ngoclaw-labs/turncore/internal/application"
	domaintool "github.com/ngoclaw-labs/turncore/internal/domain/tool"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/config"
	"github.com/ngoclaw-labs/turncore/internal/infrastructure/logger"
	infratool "github.com/ngoclaw-labs/turncore/internal/infrastructure/tool"
)

const (
	appName    = "turncore-agentd"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	// Stdout is the JSON-RPC wire; every log line must go to stderr, or
	// it corrupts the newline-delimited protocol a client is reading
	// from stdout.
	if configured, err := logger.NewLogger(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stderr"}); err != nil {
		log.Warn("failed to apply configured log settings, keeping bootstrap logger", zap.Error(err))
	} else {
		log = configured
	}

	// File I/O, shell, search, and fetch tools are external collaborators
	// this core only defines an interface for; a deployment wrapping
	// agentd supplies those. todo_write is the one exception: it is the
	// mechanism behind the CompositeSession's shared TodoList, not an
	// external capability, so it ships built in.
	tools := []domaintool.Tool{
		infratool.NewTodoWriteTool(log),
	}

	app, err := application.NewApp(cfg, log, tools, application.NewStubLLMFactory())
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("received shutdown signal", zap.String("signal", s.String()))
		cancel()
	}()

	log.Info("starting session protocol server", zap.String("name", appName), zap.String("version", appVersion))

	serveErr := app.Serve(ctx, os.Stdin, os.Stdout)

	if err := app.Stop(); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}

	if serveErr != nil {
		log.Error("session protocol server exited with error", zap.Error(serveErr))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s

Speaks newline-delimited JSON-RPC 2.0 over stdin/stdout.

Usage:
  agentd            Start the session protocol server (default)
  agentd version    Show version
  agentd help       Show this help

Environment:
  TURNCORE_*        Configuration overrides (see config.yaml)
`, appName, appVersion)
}
