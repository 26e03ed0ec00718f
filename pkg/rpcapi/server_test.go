package rpcapi

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/engine"
	"github.com/spacetimedb/core/pkg/host"
	"github.com/spacetimedb/core/pkg/replica"
)

func greeterProgram() *host.Program {
	rowSchema := algebra.Product(algebra.NamedType{Name: "n", Type: algebra.Primitive(algebra.KindI64)})
	return &host.Program{
		Hash: algebra.Hash{0x7},
		Description: abi.ModuleDescription{
			Reducers: []abi.ReducerDesc{
				{Name: "init", Lifecycle: abi.LifecycleInit},
				{Name: "greet"},
			},
			Version: abi.Version{Major: 1},
		},
		Reducers: map[string]host.ReducerFunc{
			"init": func(call *host.ReducerContext) error {
				_, err := call.Tx.CreateTable("greetings", rowSchema, catalog.Public, []catalog.ColumnDef{
					{Name: "n", Type: algebra.Primitive(algebra.KindI64)},
				})
				return err
			},
			"greet": func(call *host.ReducerContext) error {
				if err := call.ConsoleLog("info", "hi"); err != nil {
					return err
				}
				id, err := call.Tx.TableIDFromName("greetings")
				if err != nil {
					return err
				}
				row := algebra.Row{Values: []algebra.Value{algebra.Int64(algebra.KindI64, 1)}}
				_, err = call.Tx.Insert(id, bsatn.EncodeRow(rowSchema, row), call.TimestampNs)
				return err
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, algebra.ReplicaId) {
	t.Helper()
	manager := replica.NewManager()
	t.Cleanup(func() { _ = manager.CloseAll() })

	_, err := manager.Open(t.TempDir(), 1, engine.DefaultConfig())
	require.NoError(t, err)

	registry := NewProgramRegistry()
	registry.Register(greeterProgram())

	return NewServer(manager, registry, zerolog.Nop()), 1
}

func TestPublishAndCallRunTheRegisteredModule(t *testing.T) {
	server, replicaID := newTestServer(t)
	ctx := context.Background()

	result, err := server.Publish(ctx, PublishRequest{Replica: uint64(replicaID), ModuleHash: algebra.Hash{0x7}.String()})
	require.NoError(t, err)
	require.Equal(t, "update_performed", result.Outcome)

	result, err = server.Call(ctx, CallRequest{Replica: uint64(replicaID), Reducer: "greet"})
	require.NoError(t, err)
	require.Equal(t, "committed", result.Outcome)
}

func TestPublishRejectsAnUnregisteredModuleHash(t *testing.T) {
	server, replicaID := newTestServer(t)

	_, err := server.Publish(context.Background(), PublishRequest{Replica: uint64(replicaID), ModuleHash: algebra.Hash{0xAB}.String()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no module registered")
}

func TestLogsSurfacesConsoleOutputOverTheWire(t *testing.T) {
	server, replicaID := newTestServer(t)
	ctx := context.Background()

	_, err := server.Publish(ctx, PublishRequest{Replica: uint64(replicaID), ModuleHash: algebra.Hash{0x7}.String()})
	require.NoError(t, err)
	_, err = server.Call(ctx, CallRequest{Replica: uint64(replicaID), Reducer: "greet"})
	require.NoError(t, err)

	resp, err := server.Logs(ctx, LogsRequest{Replica: uint64(replicaID)})
	require.NoError(t, err)
	require.Len(t, resp.Lines, 1)
	require.Equal(t, "hi", resp.Lines[0].Message)
}

func TestSubscribeDeliversACommitTriggeredByCall(t *testing.T) {
	server, replicaID := newTestServer(t)
	ctx := context.Background()

	_, err := server.Publish(ctx, PublishRequest{Replica: uint64(replicaID), ModuleHash: algebra.Hash{0x7}.String()})
	require.NoError(t, err)

	changes, cancel, err := server.Subscribe(ctx, SubscribeRequest{Replica: uint64(replicaID), Connection: ""})
	require.NoError(t, err)
	defer cancel()

	_, err = server.Call(ctx, CallRequest{Replica: uint64(replicaID), Reducer: "greet"})
	require.NoError(t, err)

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no table change delivered to subscriber")
	}
}

func TestIdentityAndConnectionHexRoundTrip(t *testing.T) {
	id := algebra.Identity{1, 2, 3}
	parsed, err := identityFromHex(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	conn := algebra.ConnectionId{9, 9}
	parsedConn, err := connectionFromHex(conn.String())
	require.NoError(t, err)
	require.Equal(t, conn, parsedConn)

	zero, err := identityFromHex("")
	require.NoError(t, err)
	require.True(t, zero.IsZero())
}
