package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/app"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath   string
		addr      string
		dbPath    string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Real-time chat relay server",
		Long:  "chatrelay serves named chat rooms over WebSocket with persisted history.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(logLevel, logFormat)

			cfg, path, err := config.Load(logger, cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Flags take precedence over file and environment.
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = dbPath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			logger = log.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().
				Str("addr", cfg.Addr).
				Str("config", path).
				Msg("starting chatrelay server")

			if err := application.Run(ctx); err != nil {
				return err
			}

			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", config.Default().Addr, "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", config.Default().DatabasePath, "path to the SQLite database")
	cmd.Flags().StringVar(&logLevel, "log-level", config.Default().LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", config.Default().LogFormat, "log output format (console, json)")

	return cmd
}
