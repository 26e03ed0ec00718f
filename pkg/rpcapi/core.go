// Package rpcapi exposes the replica's four control RPCs (§6: publish,
// call, subscribe, logs) first as a transport-agnostic Go interface
// (Core), then wired onto google.golang.org/grpc with a hand-rolled
// JSON codec and ServiceDesc rather than protoc-generated stubs — see
// DESIGN.md for why. It is grounded in the teacher's pkg/api: the same
// shape (one service struct wrapping a domain manager, plus a
// side-by-side HTTP health/metrics server), generalized from Warren's
// cluster-management RPCs to SpacetimeDB's four control operations.
package rpcapi

import "context"

// Core is the transport-agnostic control surface every replica
// exposes (§6). rpcapi.Server implements it over gRPC; a CLI in the
// same process can call it directly without going over the wire.
type Core interface {
	// Publish implements publish: install or hot-swap the module
	// identified by req.ModuleHash against req.Replica.
	Publish(ctx context.Context, req PublishRequest) (*CallResult, error)
	// Call implements call: run one reducer against req.Replica's
	// currently loaded module.
	Call(ctx context.Context, req CallRequest) (*CallResult, error)
	// Subscribe implements subscribe: register req.Connection against
	// req.Replica's broadcaster. The returned channel carries every
	// table change until the caller invokes the returned cancel func
	// or the channel is closed by the broker shutting down.
	Subscribe(ctx context.Context, req SubscribeRequest) (<-chan TableChange, func(), error)
	// Logs implements logs: the most recent console_log output from
	// req.Replica's host.
	Logs(ctx context.Context, req LogsRequest) (*LogsResponse, error)
}

// PublishRequest carries a module's content hash rather than its bytes:
// this repository loads native Go reducer bodies registered in a
// ProgramRegistry ahead of time rather than a wasm/JS binary shipped
// over the wire (out of scope, per spec.md's Non-goals).
type PublishRequest struct {
	Replica    uint64 `json:"replica"`
	ModuleHash string `json:"module_hash"`
	// ExpectedModuleHash, when set, is the hex-encoded hash the caller
	// believes is currently running; Publish fails rather than acting if
	// it doesn't match, guarding against a racing publish from another
	// caller (§4.8 init_maybe_update's expected_hash).
	ExpectedModuleHash string `json:"expected_module_hash,omitempty"`
	Args                []byte `json:"args,omitempty"`
}

// CallRequest invokes one reducer by name against an already-published
// module. Sender and Connection are hex-encoded Identity/ConnectionId;
// empty means the zero value (an anonymous, connectionless call).
type CallRequest struct {
	Replica    uint64 `json:"replica"`
	Reducer    string `json:"reducer"`
	Args       []byte `json:"args,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Connection string `json:"connection,omitempty"`
}

// CallResult is the wire form of host.ReducerCallResult.
type CallResult struct {
	Outcome      string `json:"outcome"`
	Message      string `json:"message,omitempty"`
	EnergyUsed   int64  `json:"energy_used"`
	ExecutionNs  int64  `json:"execution_ns"`
	CommitOffset uint64 `json:"commit_offset,omitempty"`
}

// SubscribeRequest registers one connection's interest in a replica's
// committed changes.
type SubscribeRequest struct {
	Replica    uint64 `json:"replica"`
	Connection string `json:"connection"`
}

// TableChange is the wire form of broadcast.TableChange.
type TableChange struct {
	Table        uint32 `json:"table"`
	Op           string `json:"op"`
	Row          []byte `json:"row,omitempty"`
	CommitOffset uint64 `json:"commit_offset"`
}

// LogsRequest asks for a replica's most recent console output. Limit
// <= 0 means no bound.
type LogsRequest struct {
	Replica uint64 `json:"replica"`
	Limit   int    `json:"limit,omitempty"`
}

// LogsResponse is the wire form of a slice of host.ConsoleLine.
type LogsResponse struct {
	Lines []LogLine `json:"lines"`
}

// LogLine is the wire form of one host.ConsoleLine.
type LogLine struct {
	TimestampUnixNano int64  `json:"ts"`
	Level             string `json:"level"`
	Reducer           string `json:"reducer"`
	Message           string `json:"message"`
}
