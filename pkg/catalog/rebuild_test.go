package catalog

import (
	"testing"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/stretchr/testify/require"
)

func TestRebuildReconstructsUserTableIndexAndSequence(t *testing.T) {
	src := New()

	rowSchema := algebra.Product(
		algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)},
		algebra.NamedType{Name: "name", Type: algebra.Primitive(algebra.KindString)},
	)
	def, err := src.CreateTable("player", rowSchema, Public, []ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64), IsAutoInc: true},
		{ID: 1, Name: "name", Type: algebra.Primitive(algebra.KindString)},
	})
	require.NoError(t, err)

	idx, err := src.CreateIndex(def.ID, "player_name_idx", []algebra.ColId{1}, true)
	require.NoError(t, err)

	seq, err := src.CreateSequence(def.ID, 0, 1, 1, 1, 1<<62)
	require.NoError(t, err)

	con, err := src.CreateConstraint(def.ID, "player_name_unique", ConstraintUnique, []algebra.ColId{1})
	require.NoError(t, err)

	mod := ModuleRecord{ProgramHash: algebra.Hash{0xAB}, Kind: "reducer-set", Epoch: 3}
	src.SetModule(mod)

	systemRows := map[algebra.TableId][]algebra.Row{
		StTable:       {TableRow(def)},
		StColumns:     {ColumnRow(def.ID, def.Columns[0]), ColumnRow(def.ID, def.Columns[1])},
		StIndexes:     {IndexRow(idx)},
		StSequences:   {SequenceRow(seq)},
		StConstraints: {ConstraintRow(con)},
		StModule:      {ModuleRow(mod)},
	}

	rebuilt := Rebuild(systemRows)

	got, ok := rebuilt.TableByID(def.ID)
	require.True(t, ok)
	require.Equal(t, "player", got.Name)
	require.Len(t, got.Columns, 2)
	require.Equal(t, "name", got.Columns[1].Name)

	foundID, ok := rebuilt.TableIDFromName("player")
	require.True(t, ok)
	require.Equal(t, def.ID, foundID)

	require.Len(t, got.Indexes, 1)
	require.Equal(t, idx.Name, got.Indexes[idx.ID].Name)

	require.Len(t, got.Sequences, 1)
	require.Equal(t, seq.Allocated, got.Sequences[seq.ID].Allocated)

	require.Len(t, got.Constraints, 1)
	require.Equal(t, ConstraintUnique, got.Constraints[con.ID].Kind)

	require.Equal(t, mod, rebuilt.Module())
}

func TestRebuildAllocatesNewIdsAboveRebuiltOnes(t *testing.T) {
	src := New()
	rowSchema := algebra.Product(algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)})
	def, err := src.CreateTable("widget", rowSchema, Public, []ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64)},
	})
	require.NoError(t, err)

	rebuilt := Rebuild(map[algebra.TableId][]algebra.Row{
		StTable:   {TableRow(def)},
		StColumns: {ColumnRow(def.ID, def.Columns[0])},
	})

	next, err := rebuilt.CreateTable("gadget", rowSchema, Public, []ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64)},
	})
	require.NoError(t, err)
	require.Greater(t, uint32(next.ID), uint32(def.ID))
}
