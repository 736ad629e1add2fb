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

	"github.com/Tyrowin/gochat-line/internal/journal"
	"github.com/Tyrowin/gochat-line/internal/logging"
	"github.com/Tyrowin/gochat-line/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gochat: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gochat", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file path (optional)")
	addr := fs.String("addr", "", "Chat listen address, e.g. :8080")
	httpAddr := fs.String("http", "", "HTTP listen address for status and WebSocket (empty disables)")
	capacity := fs.Int("capacity", 0, "Maximum number of users in the room")
	journalPath := fs.String("journal", "", "SQLite journal path (empty disables)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: text or json")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// Flags given on the command line win over file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Address = *addr
		case "http":
			cfg.HTTP.Address = *httpAddr
		case "capacity":
			cfg.Capacity = *capacity
		case "journal":
			cfg.Journal.Path = *journalPath
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-format":
			cfg.Logging.Format = *logFormat
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting GoChat server", "config", cfg.String())

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Warn("Error closing journal", "error", err)
		}
	}()

	srv := server.New(cfg, server.WithLogger(logger), server.WithJournal(j))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- serve("chat", srv.ListenAndServe, logger) }()
	if cfg.HTTP.Address != "" {
		go func() { errCh <- serve("http", srv.ListenAndServeHTTP, logger) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
		logger.Error("Listener failed", "error", runErr)
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("Server shutdown incomplete", "error", err)
	}
	return runErr
}

// serve runs a listener and treats a clean shutdown as success.
func serve(name string, fn func() error, logger *slog.Logger) error {
	err := fn()
	if errors.Is(err, server.ErrServerClosed) {
		logger.Debug("Listener closed", "listener", name)
		return nil
	}
	return fmt.Errorf("%s listener: %w", name, err)
}
