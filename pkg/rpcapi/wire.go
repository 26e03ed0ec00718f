package rpcapi

import (
	"encoding/hex"
	"fmt"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/broadcast"
	"github.com/spacetimedb/core/pkg/host"
)

// identityFromHex and connectionFromHex decode the hex wire form of the
// two other fixed-size opaque identifiers CallRequest carries. Empty
// string decodes to the zero value (an anonymous, connectionless call).
// pkg/algebra only exposes String() for these two (used for Hash's
// HashFromHex counterpart too), so parsing lives here rather than
// pulling a wire-format concern into that foundational package.

func identityFromHex(s string) (algebra.Identity, error) {
	var id algebra.Identity
	if s == "" {
		return id, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("rpcapi: invalid identity %q", s)
	}
	copy(id[:], b)
	return id, nil
}

func connectionFromHex(s string) (algebra.ConnectionId, error) {
	var conn algebra.ConnectionId
	if s == "" {
		return conn, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(conn) {
		return conn, fmt.Errorf("rpcapi: invalid connection id %q", s)
	}
	copy(conn[:], b)
	return conn, nil
}

// toCallResult converts a host.ReducerCallResult into its wire form.
func toCallResult(result *host.ReducerCallResult) *CallResult {
	if result == nil {
		return nil
	}
	out := &CallResult{
		Outcome:     result.Outcome.String(),
		Message:     result.Message,
		EnergyUsed:  result.EnergyUsed,
		ExecutionNs: result.ExecutionTime.Nanoseconds(),
	}
	if result.Commit != nil {
		out.CommitOffset = result.Commit.Offset
	}
	return out
}

// toPublishResult converts a host.UpdateDatabaseResult into the same
// wire shape toCallResult produces. Outcome is always the update outcome
// (update_performed, no_update_needed, auto_migrate_error,
// error_executing_migration); when a reducer ran (init, or a hot swap's
// update-lifecycle reducer) its call fills in the energy/execution/commit
// fields and, if the update left none, the message. Those fields stay
// zero when no reducer ran.
func toPublishResult(result *host.UpdateDatabaseResult) *CallResult {
	if result == nil {
		return nil
	}
	out := &CallResult{
		Outcome: result.Outcome.String(),
		Message: result.Message,
	}
	if result.Call != nil {
		if out.Message == "" {
			out.Message = result.Call.Message
		}
		out.EnergyUsed = result.Call.EnergyUsed
		out.ExecutionNs = result.Call.ExecutionTime.Nanoseconds()
		if result.Call.Commit != nil {
			out.CommitOffset = result.Call.Commit.Offset
		}
	}
	return out
}

// toWireChange converts one broadcast.TableChange into its wire form.
func toWireChange(change *broadcast.TableChange) TableChange {
	op := "insert"
	if change.Op == algebra.OpDelete {
		op = "delete"
	}
	return TableChange{
		Table:        uint32(change.Table),
		Op:           op,
		Row:          change.Row,
		CommitOffset: change.CommitOffset,
	}
}
