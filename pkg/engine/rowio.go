package engine

import (
	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/bsatn"
	"github.com/spacetimedb/core/pkg/catalog"
)

// makeDataKey stores raw either inline or in the content store, per the
// §4.1 threshold.
func (e *Engine) makeDataKey(raw []byte) (algebra.DataKey, error) {
	if len(raw) <= inlineThreshold {
		return algebra.InlineDataKey(raw), nil
	}
	h, err := e.cas.Put(raw)
	if err != nil {
		return algebra.DataKey{}, err
	}
	return algebra.HashDataKey(h), nil
}

func findSequence(def *catalog.TableDef, col algebra.ColId) *catalog.SequenceDef {
	for _, s := range def.Sequences {
		if s.Column == col {
			return s
		}
	}
	return nil
}

func valueFromInt64(k algebra.Kind, n int64) algebra.Value {
	switch k {
	case algebra.KindU8, algebra.KindU16, algebra.KindU32, algebra.KindU64:
		return algebra.Uint64(k, uint64(n))
	default:
		return algebra.Int64(k, n)
	}
}

// assignAutoinc fills every autoincrement column whose supplied value is
// the type's zero with the next sequence value, returning the generated
// values in column order (§4.4 "Auto-increment & update return"). Each
// advanced sequence's new highwater mark is staged as an st_sequences row
// in tx, so catalog.Rebuild restores it after a restart.
func (tx *Tx) assignAutoinc(def *catalog.TableDef, row *algebra.Row) ([]algebra.Value, []algebra.Type, error) {
	var values []algebra.Value
	var types []algebra.Type
	for _, col := range def.Columns {
		if !col.IsAutoInc {
			continue
		}
		cur := row.Field(col.ID)
		if !algebra.IsZeroOfKind(col.Type.Kind, cur) {
			continue
		}
		seq := findSequence(def, col.ID)
		if seq == nil {
			continue
		}
		next, err := seq.Next()
		if err != nil {
			return nil, nil, err
		}
		if err := tx.writeSystemRow(catalog.StSequences, catalog.SystemRowSchema(catalog.StSequences), catalog.SequenceRow(seq)); err != nil {
			return nil, nil, err
		}
		v := valueFromInt64(col.Type.Kind, next)
		row.Values[col.ID] = v
		values = append(values, v)
		types = append(types, col.Type)
	}
	return values, types, nil
}

func encodeGenerated(values []algebra.Value, types []algebra.Type) []byte {
	fields := make([]algebra.NamedType, len(types))
	for i, t := range types {
		fields[i] = algebra.NamedType{Type: t}
	}
	schema := algebra.Product(fields...)
	return bsatn.EncodeRow(schema, algebra.Row{Values: values})
}

// checkUnique returns UNIQUE_ALREADY_EXISTS if row collides with an
// existing row (other than ignoreKey, used by Update to exempt the row
// being replaced) on any unique index.
func (tx *Tx) checkUnique(table algebra.TableId, def *catalog.TableDef, row algebra.Row, ignoreKey *algebra.DataKey) error {
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		kb := indexKeyBytes(def, idx, row)
		existing, _, found := tx.uniqueIndexLookup(table, idx, kb)
		if found && (ignoreKey == nil || existing != *ignoreKey) {
			return abi.New(abi.ErrUniqueAlreadyExists)
		}
	}
	return nil
}

// checkScheduleDelay enforces SCHEDULE_AT_DELAY_TOO_LONG for scheduled
// tables. nowNanos is the reducer's timestamp input (determinism rule,
// §4.9): the engine never reads the wall clock itself.
func checkScheduleDelay(def *catalog.TableDef, row algebra.Row, cfg Config, nowNanos int64) error {
	if def.Schedule == nil || cfg.MaxScheduleDelayNanos <= 0 {
		return nil
	}
	v := row.Field(def.Schedule.Column)
	if v.Sum == nil {
		return nil
	}
	// Variant 0 = Time(instant): Inner carries an i64 nanosecond timestamp.
	if v.Sum.Tag == 0 {
		if ts, ok := v.Sum.Inner.Int.(int64); ok {
			if ts-nowNanos > cfg.MaxScheduleDelayNanos {
				return abi.New(abi.ErrScheduleAtDelayTooLong)
			}
		}
	}
	return nil
}

// Insert implements insert(table_id, row_bsatn) (§4.4).
func (tx *Tx) Insert(table algebra.TableId, rowBytes []byte, nowNanos int64) ([]byte, error) {
	def, ok := tx.engine.cat.TableByID(table)
	if !ok {
		return nil, abi.New(abi.ErrNoSuchTable)
	}
	val, _, err := bsatn.Decode(rowBytes, def.RowSchema)
	if err != nil {
		return nil, abi.New(abi.ErrBsatnDecodeError)
	}
	row := algebra.Row{Values: val.Product}

	if err := checkScheduleDelay(def, row, tx.engine.cfg, nowNanos); err != nil {
		return nil, err
	}

	generated, types, err := tx.assignAutoinc(def, &row)
	if err != nil {
		return nil, err
	}

	if err := tx.checkUnique(table, def, row, nil); err != nil {
		return nil, err
	}

	encoded := bsatn.EncodeRow(def.RowSchema, row)
	key, err := tx.engine.makeDataKey(encoded)
	if err != nil {
		return nil, err
	}
	tx.stageInsert(table, key, row)

	return encodeGenerated(generated, types), nil
}

// Update implements update(table_id, index_id, row_bsatn) (§4.4).
func (tx *Tx) Update(table algebra.TableId, indexID algebra.IndexId, rowBytes []byte, nowNanos int64) ([]byte, error) {
	def, ok := tx.engine.cat.TableByID(table)
	if !ok {
		return nil, abi.New(abi.ErrNoSuchTable)
	}
	idx, ok := def.Indexes[indexID]
	if !ok {
		return nil, abi.New(abi.ErrNoSuchIndex)
	}
	if !idx.Unique {
		return nil, abi.New(abi.ErrIndexNotUnique)
	}

	val, _, err := bsatn.Decode(rowBytes, def.RowSchema)
	if err != nil {
		return nil, abi.New(abi.ErrBsatnDecodeError)
	}
	row := algebra.Row{Values: val.Product}

	kb := indexKeyBytes(def, idx, row)
	oldKey, _, found := tx.uniqueIndexLookup(table, idx, kb)
	if !found {
		return nil, abi.New(abi.ErrNoSuchRow)
	}

	if err := checkScheduleDelay(def, row, tx.engine.cfg, nowNanos); err != nil {
		return nil, err
	}

	generated, types, err := tx.assignAutoinc(def, &row)
	if err != nil {
		return nil, err
	}

	if err := tx.checkUnique(table, def, row, &oldKey); err != nil {
		return nil, err
	}

	encoded := bsatn.EncodeRow(def.RowSchema, row)
	newKey, err := tx.engine.makeDataKey(encoded)
	if err != nil {
		return nil, err
	}

	tx.stageDelete(table, oldKey)
	tx.stageInsert(table, newKey, row)

	return encodeGenerated(generated, types), nil
}

// DeleteAllByEq implements delete_all_by_eq(table_id, rows_bsatn): rows
// holds the already-decoded full rows; each present row is deleted by
// content match.
func (tx *Tx) DeleteAllByEq(table algebra.TableId, rows []algebra.Row) (int, error) {
	def, ok := tx.engine.cat.TableByID(table)
	if !ok {
		return 0, abi.New(abi.ErrNoSuchTable)
	}
	visible := tx.visibleRows(table)
	count := 0
	for _, r := range rows {
		encoded := bsatn.EncodeRow(def.RowSchema, r)
		key, err := tx.engine.makeDataKey(encoded)
		if err != nil {
			return count, err
		}
		if _, ok := visible[key]; ok {
			tx.stageDelete(table, key)
			count++
		}
	}
	return count, nil
}
