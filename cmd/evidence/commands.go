package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tmcfar/evidence-mcp/internal/config"
	"github.com/tmcfar/evidence-mcp/internal/mcpsrv"
	"github.com/tmcfar/evidence-mcp/internal/store"
)

// newLogger builds the process logger. Logs always go to stderr because
// stdout is reserved for the MCP protocol stream.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			srv, err := mcpsrv.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				logger.Info("server_listening", slog.String("transport", "stdio"))
				errChan <- srv.Serve(ctx)
			}()

			select {
			case sig := <-sigChan:
				logger.Info("shutdown_signal_received", slog.String("signal", sig.String()))
				cancel()
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print engine status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			srv, err := mcpsrv.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			status, err := srv.Engine().Status(cmd.Context())
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every stored chunk and replace the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			srv, err := mcpsrv.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			result, err := srv.Engine().Rebuild(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Rebuilt index: %d chunks embedded, %d total\n", result.Added, result.Total)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("evidence-mcp\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", store.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", store.DriverName)
		},
	}
}
