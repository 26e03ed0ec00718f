package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spacetimedb/core/pkg/rpcapi"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show a replica's most recent console_log output",
	Args:  cobra.NoArgs,
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().Uint64("replica", 1, "Replica id to read logs from")
	logsCmd.Flags().Int("limit", 100, "Maximum number of lines to show (0 = no bound)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	controlAddr, _ := cmd.Flags().GetString("control-addr")
	replicaID, _ := cmd.Flags().GetUint64("replica")
	limit, _ := cmd.Flags().GetInt("limit")

	conn, err := dialControl(controlAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := rpcapi.LogsRequest{Replica: replicaID, Limit: limit}
	var resp rpcapi.LogsResponse
	if err := invokeControl(context.Background(), conn, "Logs", &req, &resp); err != nil {
		return err
	}

	for _, line := range resp.Lines {
		ts := time.Unix(0, line.TimestampUnixNano).Format(time.RFC3339)
		fmt.Printf("%s [%s] %s: %s\n", ts, line.Level, line.Reducer, line.Message)
	}
	return nil
}
