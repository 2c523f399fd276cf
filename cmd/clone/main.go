// Command clone runs one replication engine process against a config
// file: it loads and validates the config, opens the local store,
// wires the configured remotes transport, brings the engine up, and
// blocks until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liveclone/gldb/pkg/config"
	"github.com/liveclone/gldb/pkg/engine"
	"github.com/liveclone/gldb/pkg/kvstore/sqlite"
	"github.com/liveclone/gldb/pkg/logging"
	"github.com/liveclone/gldb/pkg/remotes"
	"github.com/liveclone/gldb/pkg/remotes/libp2pr"
	"github.com/liveclone/gldb/pkg/remotes/wsr"
)

func main() {
	root := &cobra.Command{
		Use:   "clone",
		Short: "Run and inspect a replication engine clone",
	}
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a config file and run the clone until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClone(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the clone's YAML config file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runClone(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	log.ComponentInfo(logging.ComponentGeneral, "starting clone",
		zap.String("id", cfg.ID), zap.String("domain", cfg.Domain), zap.Bool("genesis", cfg.Genesis))

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlite.Open(filepath.Join(cfg.DataDir, "clone.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rem, err := newRemotes(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create remotes: %w", err)
	}
	defer rem.Close()

	c, err := engine.Open(ctx, cfg, store, rem, log)
	if err != nil {
		return fmt.Errorf("open clone: %w", err)
	}
	log.ComponentInfo(logging.ComponentGeneral, "clone is live")

	<-ctx.Done()
	log.ComponentInfo(logging.ComponentGeneral, "shutting down")
	return c.Close()
}

func newLogger(cfg *config.Config) (*logging.ColoredLogger, error) {
	if cfg.Logging.OutputFile != "" {
		return logging.NewFileLogger(logging.ComponentGeneral, cfg.Logging.OutputFile, cfg.Logging.Colors)
	}
	return logging.NewColoredLogger(logging.ComponentGeneral, cfg.Logging.Colors)
}

// newRemotes builds the transport named by cfg.Remotes.Transport, wraps
// it in PubsubRemotes for the clone's domain, and returns the result as
// a remotes.Remotes.
func newRemotes(ctx context.Context, cfg *config.Config, log *logging.ColoredLogger) (remotes.Remotes, error) {
	var transport remotes.Transport
	switch cfg.Remotes.Transport {
	case "libp2p":
		t, err := libp2pr.New(ctx, libp2pr.Options{
			ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/0"},
			BootstrapPeers: cfg.Remotes.BootstrapPeers,
		}, log.Logger)
		if err != nil {
			return nil, err
		}
		transport = t
	case "websocket":
		transport = wsr.New(cfg.Remotes.GatewayURL, log.Logger)
	default:
		return nil, fmt.Errorf("unknown remotes.transport %q", cfg.Remotes.Transport)
	}

	timeout := cfg.NetworkTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return remotes.NewPubsubRemotes(transport, cfg.Domain, cfg.ID, timeout, log.Logger)
}
