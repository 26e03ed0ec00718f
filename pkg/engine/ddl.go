package engine

import (
	"fmt"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/catalog"
)

// TableIDFromName implements table_id_from_name (§4.4).
func (tx *Tx) TableIDFromName(name string) (algebra.TableId, error) {
	id, ok := tx.engine.cat.TableIDFromName(name)
	if !ok {
		return 0, abi.New(abi.ErrNoSuchTable)
	}
	return id, nil
}

// IndexIDFromName implements index_id_from_name (§4.4).
func (tx *Tx) IndexIDFromName(name string) (algebra.IndexId, error) {
	id, ok := tx.engine.cat.IndexIDFromName(name)
	if !ok {
		return 0, abi.New(abi.ErrNoSuchIndex)
	}
	return id, nil
}

// writeSystemRow stages an insert of one catalog metadata row into the
// given system table, through the same Tx write path as user data, so it
// commits atomically with everything else in the transaction (§4.3).
func (tx *Tx) writeSystemRow(sysTable algebra.TableId, schema algebra.Type, row algebra.Row) error {
	encoded := bsatn.EncodeRow(schema, row)
	key, err := tx.engine.makeDataKey(encoded)
	if err != nil {
		return err
	}
	tx.stageInsert(sysTable, key, row)
	return nil
}

// CreateTable implements the table-creation DDL path described in §4.3:
// it allocates the TableId, registers columns/the row schema in the
// catalog, and folds the st_table/st_columns row writes into tx.
func (tx *Tx) CreateTable(name string, rowSchema algebra.Type, access catalog.AccessMode, columns []catalog.ColumnDef) (*catalog.TableDef, error) {
	def, err := tx.engine.cat.CreateTable(name, rowSchema, access, columns)
	if err != nil {
		return nil, err
	}
	tx.engine.tableOrCreate(def.ID)

	if err := tx.writeSystemRow(catalog.StTable, catalog.SystemRowSchema(catalog.StTable), catalog.TableRow(def)); err != nil {
		return nil, err
	}
	for _, c := range columns {
		if err := tx.writeSystemRow(catalog.StColumns, catalog.SystemRowSchema(catalog.StColumns), catalog.ColumnRow(def.ID, c)); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// CreateIndex mirrors CreateTable for an index.
func (tx *Tx) CreateIndex(table algebra.TableId, name string, columns []algebra.ColId, unique bool) (*catalog.IndexDef, error) {
	idx, err := tx.engine.cat.CreateIndex(table, name, columns, unique)
	if err != nil {
		return nil, err
	}
	if err := tx.writeSystemRow(catalog.StIndexes, catalog.SystemRowSchema(catalog.StIndexes), catalog.IndexRow(idx)); err != nil {
		return nil, err
	}
	return idx, nil
}

// CreateSequence mirrors CreateTable for a sequence.
func (tx *Tx) CreateSequence(table algebra.TableId, column algebra.ColId, start, increment, min, max int64) (*catalog.SequenceDef, error) {
	seq, err := tx.engine.cat.CreateSequence(table, column, start, increment, min, max)
	if err != nil {
		return nil, err
	}
	if err := tx.writeSystemRow(catalog.StSequences, catalog.SystemRowSchema(catalog.StSequences), catalog.SequenceRow(seq)); err != nil {
		return nil, err
	}
	return seq, nil
}

// CreateConstraint mirrors CreateTable for a constraint.
func (tx *Tx) CreateConstraint(table algebra.TableId, name string, kind catalog.ConstraintKind, columns []algebra.ColId) (*catalog.ConstraintDef, error) {
	con, err := tx.engine.cat.CreateConstraint(table, name, kind, columns)
	if err != nil {
		return nil, err
	}
	if err := tx.writeSystemRow(catalog.StConstraints, catalog.SystemRowSchema(catalog.StConstraints), catalog.ConstraintRow(con)); err != nil {
		return nil, err
	}
	return con, nil
}

// SetSchedule marks table as scheduled and records nothing further in the
// catalog rows (schedule bindings are part of describe_module, not a
// separate system table); pkg/host's materializeTable calls it for each
// table the module declares as scheduled.
func (tx *Tx) SetSchedule(table algebra.TableId, column algebra.ColId, reducer string) error {
	return tx.engine.cat.SetSchedule(table, column, reducer)
}

// AddColumnNullable implements update_database's auto-migration add_column
// operation (§4.7 @migrate add_column): it appends col, which must be a
// nullable (algebra.Nullable) trailing column, to table's schema, then
// rewrites every row already committed to table so it decodes against the
// new schema, backfilling the added column with "none". This rewrite is
// required rather than optional: bsatn.Decode reads a row's fields
// strictly in schema order, so a row encoded before the column existed
// would otherwise fail to decode at all once the catalog's RowSchema grows
// a trailing field.
func (tx *Tx) AddColumnNullable(table algebra.TableId, col catalog.ColumnDef) error {
	if !algebra.IsNullable(col.Type) {
		return fmt.Errorf("engine: add_column %q: only nullable columns auto-migrate", col.Name)
	}
	if _, ok := tx.engine.cat.TableByID(table); !ok {
		return abi.New(abi.ErrNoSuchTable)
	}

	visible := tx.visibleRows(table)
	newDef, err := tx.engine.cat.AddColumn(table, col)
	if err != nil {
		return err
	}

	for key, row := range visible {
		migrated := algebra.Row{Values: append(append([]algebra.Value{}, row.Values...), algebra.None())}
		encoded := bsatn.EncodeRow(newDef.RowSchema, migrated)
		newKey, err := tx.engine.makeDataKey(encoded)
		if err != nil {
			return err
		}
		tx.stageDelete(table, key)
		tx.stageInsert(table, newKey, migrated)
	}

	return tx.writeSystemRow(catalog.StColumns, catalog.SystemRowSchema(catalog.StColumns), catalog.ColumnRow(table, col))
}

// SetModule stages the st_module row write for a publish or hot-swap.
func (tx *Tx) SetModule(rec catalog.ModuleRecord) error {
	tx.engine.cat.SetModule(rec)
	return tx.writeSystemRow(catalog.StModule, catalog.SystemRowSchema(catalog.StModule), catalog.ModuleRow(rec))
}
