package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spacetimedb/core/pkg/rpcapi"
)

var callCmd = &cobra.Command{
	Use:   "call [reducer]",
	Short: "Invoke a reducer against a replica's currently published module",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

func init() {
	callCmd.Flags().Uint64("replica", 1, "Replica id to call against")
	callCmd.Flags().BytesHex("args", nil, "BSATN-encoded reducer arguments, hex-encoded")
}

func runCall(cmd *cobra.Command, args []string) error {
	controlAddr, _ := cmd.Flags().GetString("control-addr")
	replicaID, _ := cmd.Flags().GetUint64("replica")
	reducerArgs, _ := cmd.Flags().GetBytesHex("args")

	conn, err := dialControl(controlAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := rpcapi.CallRequest{Replica: replicaID, Reducer: args[0], Args: reducerArgs}
	var resp rpcapi.CallResult
	if err := invokeControl(context.Background(), conn, "Call", &req, &resp); err != nil {
		return err
	}

	fmt.Printf("outcome: %s\n", resp.Outcome)
	if resp.Message != "" {
		fmt.Printf("message: %s\n", resp.Message)
	}
	fmt.Printf("energy used: %d\n", resp.EnergyUsed)
	return nil
}
