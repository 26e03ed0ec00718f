package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spacetimedb/core/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "spacetimed",
	Short: "spacetimed runs one or more SpacetimeDB replicas",
	Long: `spacetimed hosts a relational database fused with a sandboxed
module host: each replica owns its own MVCC storage engine, content
store and commit log, and runs reducers against a published module.

Replicas are described in a YAML configuration file and served over a
control RPC surface (publish, call, subscribe, logs).`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"spacetimed version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("control-addr", "localhost:7777", "Control RPC address for publish/call/logs subcommands")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(logsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
