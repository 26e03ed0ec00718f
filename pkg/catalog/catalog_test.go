package catalog

import (
	"testing"

	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/stretchr/testify/require"
)

func TestBootstrapSeedsSystemTables(t *testing.T) {
	c := New()

	for id, name := range map[algebra.TableId]string{
		StTable: "st_table", StColumns: "st_columns", StIndexes: "st_indexes",
		StSequences: "st_sequences", StConstraints: "st_constraints", StModule: "st_module",
	} {
		def, ok := c.TableByID(id)
		require.True(t, ok, "missing system table %d", id)
		require.Equal(t, name, def.Name)
		require.Equal(t, KindSystem, def.Kind)

		found, ok := c.TableIDFromName(name)
		require.True(t, ok)
		require.Equal(t, id, found)
	}

	_, ok := c.IndexIDFromName("st_table_table_name_idx")
	require.True(t, ok)
}

func TestCreateTableAllocatesAboveReservedRange(t *testing.T) {
	c := New()

	rowSchema := algebra.Product(algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)})
	def, err := c.CreateTable("player", rowSchema, Public, []ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64), IsAutoInc: true},
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, uint32(def.ID), uint32(FirstUserTableId))

	_, err = c.CreateTable("player", rowSchema, Public, nil)
	require.Error(t, err)

	found, ok := c.TableIDFromName("player")
	require.True(t, ok)
	require.Equal(t, def.ID, found)
}

func TestCreateIndexRequiresExistingTableAndColumns(t *testing.T) {
	c := New()
	rowSchema := algebra.Product(algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)})
	def, err := c.CreateTable("player", rowSchema, Public, nil)
	require.NoError(t, err)

	_, err = c.CreateIndex(def.ID, "player_id_idx", []algebra.ColId{0}, true)
	require.NoError(t, err)

	_, err = c.CreateIndex(def.ID, "empty_idx", nil, false)
	require.Error(t, err)

	_, err = c.CreateIndex(algebra.TableId(9999), "no_table_idx", []algebra.ColId{0}, false)
	require.Error(t, err)
}

func TestSequenceNextNeverRepeatsOrRegresses(t *testing.T) {
	c := New()
	rowSchema := algebra.Product(algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)})
	def, err := c.CreateTable("player", rowSchema, Public, nil)
	require.NoError(t, err)

	seq, err := c.CreateSequence(def.ID, 0, 1, 1, 1, 100)
	require.NoError(t, err)

	v1, err := seq.Next()
	require.NoError(t, err)
	v2, err := seq.Next()
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)
	require.Equal(t, int64(2), v2)

	seq.Allocated = 100
	_, err = seq.Next()
	require.Error(t, err)
}

func TestSystemRowRoundTrip(t *testing.T) {
	c := New()
	rowSchema := algebra.Product(algebra.NamedType{Name: "id", Type: algebra.Primitive(algebra.KindU64)})
	def, err := c.CreateTable("player", rowSchema, Public, []ColumnDef{
		{ID: 0, Name: "id", Type: algebra.Primitive(algebra.KindU64), IsAutoInc: true},
	})
	require.NoError(t, err)

	row := TableRow(def)
	encoded := bsatn.EncodeRow(SystemRowSchema(StTable), row)
	decoded, n, err := bsatn.DecodeRow(encoded, SystemRowSchema(StTable))
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, def.Name, decoded.Values[1].Str)

	mod := ModuleRecord{ProgramHash: algebra.Hash{1, 2, 3}, Kind: "wasm", Epoch: 7}
	modRow := ModuleRow(mod)
	modEncoded := bsatn.EncodeRow(SystemRowSchema(StModule), modRow)
	modDecoded, _, err := bsatn.DecodeRow(modEncoded, SystemRowSchema(StModule))
	require.NoError(t, err)
	require.Equal(t, mod, ModuleFromRow(modDecoded))
}
