package host

import (
	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/catalog"
	"github.com/spacetimedb/core/pkg/engine"
)

// materializeSchema walks desc's declared tables and creates each one
// against tx's catalog, in the order a freshly published module's
// describe_module result lists them: the table itself, then its indexes,
// sequences, constraints and schedule binding (§4.3's DDL surface).
// InitDatabase calls this before loading the module and running
// __init__; an update's migration creates the tables it adds by calling
// materializeTable directly.
func materializeSchema(tx *engine.Tx, desc abi.ModuleDescription) error {
	for _, t := range desc.Tables {
		if _, err := materializeTable(tx, t, desc); err != nil {
			return err
		}
	}
	return nil
}

// materializeTable creates one table, and everything bound to it, from
// its describe_module entry.
func materializeTable(tx *engine.Tx, t abi.TableDesc, desc abi.ModuleDescription) (*catalog.TableDef, error) {
	rowSchema := desc.Typespace.Resolve(algebra.RefTo(t.ProductTypeRef))
	columns := toColumnDefs(rowSchema, t.Sequences)

	def, err := tx.CreateTable(t.Name, rowSchema, catalog.AccessMode(t.Access), columns)
	if err != nil {
		return nil, err
	}

	for _, idx := range t.Indexes {
		if _, err := tx.CreateIndex(def.ID, idx.Name, toColIds(idx.Columns), idx.Unique); err != nil {
			return nil, err
		}
	}
	for _, seq := range t.Sequences {
		if _, err := tx.CreateSequence(def.ID, algebra.ColId(seq.Column), seq.Start, seq.Increment, seq.Min, seq.Max); err != nil {
			return nil, err
		}
	}
	for _, con := range t.Constraints {
		if _, err := tx.CreateConstraint(def.ID, con.Name, catalog.ConstraintKind(con.Kind), toColIds(con.Columns)); err != nil {
			return nil, err
		}
	}
	if t.Schedule != nil {
		if err := tx.SetSchedule(def.ID, algebra.ColId(t.Schedule.Column), t.Schedule.ReducerName); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// toColumnDefs builds a table's column list from its row product type,
// marking every column bound to a sequence as autoincrement.
func toColumnDefs(rowSchema algebra.Type, sequences []abi.SequenceDesc) []catalog.ColumnDef {
	autoinc := make(map[uint32]bool, len(sequences))
	for _, s := range sequences {
		autoinc[s.Column] = true
	}
	columns := make([]catalog.ColumnDef, len(rowSchema.Elements))
	for i, f := range rowSchema.Elements {
		columns[i] = catalog.ColumnDef{
			ID:        algebra.ColId(i),
			Name:      f.Name,
			Type:      f.Type,
			IsAutoInc: autoinc[uint32(i)],
		}
	}
	return columns
}

func toColIds(cols []uint32) []algebra.ColId {
	out := make([]algebra.ColId, len(cols))
	for i, c := range cols {
		out[i] = algebra.ColId(c)
	}
	return out
}
