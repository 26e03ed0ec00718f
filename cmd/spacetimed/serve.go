package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/config"
	"github.com/spacetimedb/core/pkg/log"
	"github.com/spacetimedb/core/pkg/replica"
	"github.com/spacetimedb/core/pkg/rpcapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open every replica in a configuration file and serve the control RPCs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "spacetimed.yaml", "Path to the spacetimed YAML configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	manager := replica.NewManager()
	defer func() {
		if err := manager.CloseAll(); err != nil {
			log.Logger.Error().Err(err).Msg("spacetimed: error closing replicas")
		}
	}()

	for _, r := range cfg.Replicas {
		replicaID := algebra.ReplicaId(r.ID)
		if _, err := manager.Open(r.Dir, replicaID, r.Engine.Engine()); err != nil {
			return err
		}
		log.Logger.Info().Str("replica", replicaID.String()).Str("dir", r.Dir).Msg("spacetimed: replica opened")
	}

	// Reducer bodies are native Go closures compiled into this binary
	// (see DESIGN.md on pkg/rpcapi.ProgramRegistry), so this generic
	// build serves an empty registry: downstream binaries embedding
	// spacetimed's packages register their own modules before Serve.
	registry := rpcapi.NewProgramRegistry()

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = ":7777"
	}
	healthAddr := cfg.HealthAddr
	if healthAddr == "" {
		healthAddr = ":7778"
	}

	server := rpcapi.NewServer(manager, registry, log.WithComponent("rpcapi"))
	health := rpcapi.NewHealthServer(manager)

	errCh := make(chan error, 2)
	go func() { errCh <- server.Serve(listenAddr) }()
	go func() { errCh <- health.Start(healthAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("spacetimed: shutting down")
		server.Stop()
		return nil
	}
}
