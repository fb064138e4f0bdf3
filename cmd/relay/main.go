package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wirehole/wirehole/internal/config"
	"github.com/wirehole/wirehole/internal/control"
	"github.com/wirehole/wirehole/internal/edge"
	"github.com/wirehole/wirehole/internal/firewall"
	"github.com/wirehole/wirehole/internal/ratelimit"
	"github.com/wirehole/wirehole/internal/registry"
	"github.com/wirehole/wirehole/internal/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "relay",
		Short: "wirehole relay: public ingress, control channel, and agent control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/relay.yaml", "path to relay configuration file")
	root.AddCommand(newAgentCmd(&configPath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("relay exited with error", "err", err)
		os.Exit(1)
	}
}

// newAgentCmd returns the "relay agent" subcommand group, used by
// operators to provision new agents out-of-band from the running server.
func newAgentCmd(configPath *string) *cobra.Command {
	agentCmd := &cobra.Command{Use: "agent", Short: "manage registered agents"}

	var owner, name string
	register := &cobra.Command{
		Use:   "register",
		Short: "register a new agent and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelayConfig(*configPath)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer s.Close()

			apiKey := uuid.NewString()
			a, err := s.CreateAgent(owner, name, apiKey)
			if err != nil {
				return err
			}
			slog.Info("agent registered", "id", a.ID, "name", a.Name, "owner", a.Owner)
			cmd.Printf("agent_id=%d api_key=%s\n", a.ID, apiKey)
			return nil
		},
	}
	register.Flags().StringVar(&owner, "owner", "", "owner of the new agent")
	register.Flags().StringVar(&name, "name", "", "display name for the new agent")
	agentCmd.AddCommand(register)

	return agentCmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadRelayConfig(configPath)
	if err != nil {
		return err
	}

	s, err := store.Open(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := registry.New()
	cache := firewall.NewCache()
	evaluator := firewall.NewEvaluator(s, cache, slog.Default())
	limiter := ratelimit.New(cfg.Limits.RateLimitRequests, cfg.Limits.RateLimitWindow)

	baseURL := "https"
	tunnelHandler := edge.NewTunnelHandler(s, reg, cfg.Domain, baseURL)
	router := edge.NewRouter(s, reg, evaluator, limiter, cfg.Domain, cfg.Tunnel.RequestTimeout, cfg.Tunnel.SendTimeout, nil)

	plane := control.New(s)

	mux := http.NewServeMux()
	mux.Handle(cfg.Tunnel.Path, tunnelHandler)
	plane.Mount(mux)
	mux.Handle("/", router)

	stop := make(chan struct{})
	go reg.Run(stop, cfg.Tunnel.RequestTimeout)
	go limiter.Run(stop, cfg.Limits.RateLimitWindow)

	watcher, err := config.NewWatcher(filepath.Dir(configPath), config.WatchTargets{
		OnConfigChange: func() { slog.Info("relay config file changed, restart to apply") },
		OnRulesChange:  func() { cache.Invalidate(nil) },
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Close()
	}

	server := &http.Server{Addr: cfg.Listen.Addr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", cfg.Listen.Addr, "domain", cfg.Domain)
		if cfg.TLS.Enabled {
			serveErr <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serveErr <- server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		close(stop)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serveErr:
		close(stop)
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
