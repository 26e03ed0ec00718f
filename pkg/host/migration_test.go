package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
)

// userProgram builds a Program whose describe_module result declares one
// table ("users") against typespace index 0, for exercising schema
// materialization and auto-migration independent of counterProgram's
// table-less fixture.
func userProgram(hash byte, fields []algebra.NamedType, reducers map[string]ReducerFunc, lifecycle map[string]abi.ReducerLifecycle) *Program {
	rowSchema := algebra.Product(fields...)
	descs := make([]abi.ReducerDesc, 0, len(reducers))
	for name := range reducers {
		descs = append(descs, abi.ReducerDesc{Name: name, Lifecycle: lifecycle[name]})
	}
	return &Program{
		Hash: algebra.Hash{hash},
		Description: abi.ModuleDescription{
			Typespace: algebra.Typespace{Types: []algebra.Type{rowSchema}},
			Tables: []abi.TableDesc{
				{Name: "users", ProductTypeRef: 0},
			},
			Reducers: descs,
			Version:  abi.Version{Major: 1},
		},
		Reducers: reducers,
	}
}

func TestInitDatabaseMaterializesDeclaredTables(t *testing.T) {
	eng := newTestEngine(t)
	usersSchema := algebra.Product(
		algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		algebra.NamedType{Name: "name", Type: algebra.Primitive(algebra.KindString)},
	)
	inserted := false
	program := userProgram(0x10, usersSchema.Elements, map[string]ReducerFunc{
		"__init__": func(call *ReducerContext) error {
			id, err := call.Tx.TableIDFromName("users")
			if err != nil {
				return err
			}
			row := algebra.Row{Values: []algebra.Value{
				algebra.Uint64(algebra.KindU64, 1),
				algebra.Str("alice"),
			}}
			_, err = call.Tx.Insert(id, bsatn.EncodeRow(usersSchema, row), call.TimestampNs)
			inserted = err == nil
			return err
		},
	}, map[string]abi.ReducerLifecycle{"__init__": abi.LifecycleInit})

	h := New(10, NewNativeSandbox(), eng, DefaultConfig())
	result, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, result.Outcome)
	require.True(t, inserted)

	id, ok := eng.Catalog().TableIDFromName("users")
	require.True(t, ok)
	count, err := eng.Begin().RowCount(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestUpdateDatabaseAutoMigratesNullableColumnAddition(t *testing.T) {
	eng := newTestEngine(t)
	v1 := userProgram(0x20, []algebra.NamedType{
		{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		{Name: "name", Type: algebra.Primitive(algebra.KindString)},
	}, map[string]ReducerFunc{
		"insert_user": func(call *ReducerContext) error { return nil },
	}, nil)

	h := New(11, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), v1, nil, time.Now().UnixNano())
	require.NoError(t, err)

	id, ok := eng.Catalog().TableIDFromName("users")
	require.True(t, ok)
	tx := eng.Begin()
	row := algebra.Row{Values: []algebra.Value{algebra.Uint64(algebra.KindU64, 1), algebra.Str("alice")}}
	_, err = tx.Insert(id, bsatn.EncodeRow(algebra.Product(
		algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		algebra.NamedType{Name: "name", Type: algebra.Primitive(algebra.KindString)},
	), row), time.Now().UnixNano())
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	v2 := userProgram(0x21, []algebra.NamedType{
		{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		{Name: "name", Type: algebra.Primitive(algebra.KindString)},
		{Name: "email", Type: algebra.Nullable(algebra.Primitive(algebra.KindString))},
	}, map[string]ReducerFunc{
		"insert_user": func(call *ReducerContext) error { return nil },
	}, nil)

	result, err := h.UpdateDatabase(context.Background(), v2, time.Now().UnixNano())
	require.NoError(t, err)
	require.Equal(t, UpdatePerformed, result.Outcome)

	def, ok := eng.Catalog().TableByID(id)
	require.True(t, ok)
	require.Len(t, def.Columns, 3)

	count, err := eng.Begin().RowCount(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestUpdateDatabaseRejectsNonNullableColumnAddition(t *testing.T) {
	eng := newTestEngine(t)
	v1 := userProgram(0x30, []algebra.NamedType{
		{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
	}, nil, nil)

	h := New(12, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), v1, nil, time.Now().UnixNano())
	require.NoError(t, err)

	v2 := userProgram(0x31, []algebra.NamedType{
		{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		{Name: "age", Type: algebra.Primitive(algebra.KindU32)},
	}, nil, nil)

	result, err := h.UpdateDatabase(context.Background(), v2, time.Now().UnixNano())
	require.NoError(t, err)
	require.Equal(t, UpdateAutoMigrateError, result.Outcome)
	require.Contains(t, result.Message, "non-nullable")
}

func TestUpdateDatabaseIsNoopWhenHashUnchanged(t *testing.T) {
	eng := newTestEngine(t)
	program := userProgram(0x40, []algebra.NamedType{
		{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
	}, nil, nil)

	h := New(13, NewNativeSandbox(), eng, DefaultConfig())
	_, err := h.InitDatabase(context.Background(), program, nil, time.Now().UnixNano())
	require.NoError(t, err)

	result, err := h.UpdateDatabase(context.Background(), program, time.Now().UnixNano())
	require.NoError(t, err)
	require.Equal(t, UpdateNoUpdateNeeded, result.Outcome)
}
