package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacetimedb/core/pkg/rpcapi"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish (or hot-swap) a module against a replica",
	Args:  cobra.NoArgs,
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().Uint64("replica", 1, "Replica id to publish against")
	publishCmd.Flags().String("module-hash", "", "Hex content hash of a module registered with the running spacetimed process")
	publishCmd.Flags().String("expected-hash", "", "Hex hash the replica is expected to currently be running; publish fails instead of acting if it doesn't match")
	_ = publishCmd.MarkFlagRequired("module-hash")
}

func runPublish(cmd *cobra.Command, args []string) error {
	controlAddr, _ := cmd.Flags().GetString("control-addr")
	replicaID, _ := cmd.Flags().GetUint64("replica")
	moduleHash, _ := cmd.Flags().GetString("module-hash")
	expectedHash, _ := cmd.Flags().GetString("expected-hash")

	conn, err := dialControl(controlAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := rpcapi.PublishRequest{Replica: replicaID, ModuleHash: moduleHash, ExpectedModuleHash: expectedHash}
	var resp rpcapi.CallResult
	if err := invokeControl(context.Background(), conn, "Publish", &req, &resp); err != nil {
		return err
	}

	fmt.Printf("outcome: %s\n", resp.Outcome)
	if resp.Message != "" {
		fmt.Printf("message: %s\n", resp.Message)
	}
	return nil
}
