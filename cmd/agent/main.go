package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wirehole/wirehole/internal/agent"
	"github.com/wirehole/wirehole/internal/config"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "agent",
		Short: "wirehole agent: runs local projects and forwards tunnelled requests to them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "configs/agent.yaml", "path to agent configuration file")

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("agent exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return err
	}

	a := agent.New(cfg.RelayURL, cfg.APIKey, cfg.HeartbeatInterval, cfg.PollInterval, cfg.MaxConsecutiveErrors)

	slog.Info("agent starting", "relay_url", cfg.RelayURL)
	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	slog.Info("agent stopped")
	return nil
}
