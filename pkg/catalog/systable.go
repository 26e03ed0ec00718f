package catalog

import "github.com/spacetimedb/core/pkg/algebra"

// SystemRowSchema returns the fixed row type for one of the six system
// tables (§4.3). System tables only ever hold primitive-typed columns, so
// unlike user tables their schema can be a plain Product of primitives
// rather than going through the general typespace.
func SystemRowSchema(id algebra.TableId) algebra.Type {
	switch id {
	case StTable:
		return algebra.Product(
			algebra.NamedType{Name: "table_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "table_name", Type: algebra.Primitive(algebra.KindString)},
			algebra.NamedType{Name: "kind", Type: algebra.Primitive(algebra.KindU8)},
			algebra.NamedType{Name: "access", Type: algebra.Primitive(algebra.KindU8)},
		)
	case StColumns:
		return algebra.Product(
			algebra.NamedType{Name: "table_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "col_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "col_name", Type: algebra.Primitive(algebra.KindString)},
			algebra.NamedType{Name: "col_kind", Type: algebra.Primitive(algebra.KindU8)},
			algebra.NamedType{Name: "is_autoinc", Type: algebra.Primitive(algebra.KindBool)},
		)
	case StIndexes:
		return algebra.Product(
			algebra.NamedType{Name: "table_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "index_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "index_name", Type: algebra.Primitive(algebra.KindString)},
			algebra.NamedType{Name: "unique", Type: algebra.Primitive(algebra.KindBool)},
			algebra.NamedType{Name: "columns", Type: algebra.ArrayOf(algebra.Primitive(algebra.KindU32))},
		)
	case StSequences:
		return algebra.Product(
			algebra.NamedType{Name: "sequence_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "table_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "column", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "start", Type: algebra.Primitive(algebra.KindI64)},
			algebra.NamedType{Name: "increment", Type: algebra.Primitive(algebra.KindI64)},
			algebra.NamedType{Name: "min", Type: algebra.Primitive(algebra.KindI64)},
			algebra.NamedType{Name: "max", Type: algebra.Primitive(algebra.KindI64)},
			algebra.NamedType{Name: "allocated", Type: algebra.Primitive(algebra.KindI64)},
		)
	case StConstraints:
		return algebra.Product(
			algebra.NamedType{Name: "constraint_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "table_id", Type: algebra.Primitive(algebra.KindU32)},
			algebra.NamedType{Name: "name", Type: algebra.Primitive(algebra.KindString)},
			algebra.NamedType{Name: "kind", Type: algebra.Primitive(algebra.KindU8)},
			algebra.NamedType{Name: "columns", Type: algebra.ArrayOf(algebra.Primitive(algebra.KindU32))},
		)
	case StModule:
		return algebra.Product(
			algebra.NamedType{Name: "program_hash", Type: algebra.Primitive(algebra.KindBytes)},
			algebra.NamedType{Name: "kind", Type: algebra.Primitive(algebra.KindString)},
			algebra.NamedType{Name: "epoch", Type: algebra.Primitive(algebra.KindU64)},
		)
	default:
		return algebra.Type{Kind: algebra.KindProduct}
	}
}

func colsToInts(cols []algebra.ColId) []algebra.Value {
	out := make([]algebra.Value, len(cols))
	for i, c := range cols {
		out[i] = algebra.Uint64(algebra.KindU32, uint64(c))
	}
	return out
}

func intsToCols(vs []algebra.Value) []algebra.ColId {
	out := make([]algebra.ColId, len(vs))
	for i, v := range vs {
		out[i] = algebra.ColId(v.Int.(uint64))
	}
	return out
}

// TableRow encodes a TableDef's st_table row.
func TableRow(t *TableDef) algebra.Row {
	return algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU32, uint64(t.ID)),
		algebra.Str(t.Name),
		algebra.Uint64(algebra.KindU8, uint64(t.Kind)),
		algebra.Uint64(algebra.KindU8, uint64(t.Access)),
	}}
}

// ColumnRow encodes one st_columns row.
func ColumnRow(table algebra.TableId, c ColumnDef) algebra.Row {
	return algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU32, uint64(table)),
		algebra.Uint64(algebra.KindU32, uint64(c.ID)),
		algebra.Str(c.Name),
		algebra.Uint64(algebra.KindU8, uint64(c.Type.Kind)),
		algebra.Bool(c.IsAutoInc),
	}}
}

// IndexRow encodes one st_indexes row.
func IndexRow(idx *IndexDef) algebra.Row {
	return algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU32, uint64(idx.Table)),
		algebra.Uint64(algebra.KindU32, uint64(idx.ID)),
		algebra.Str(idx.Name),
		algebra.Bool(idx.Unique),
		{Kind: algebra.KindArray, Array: colsToInts(idx.Columns)},
	}}
}

// SequenceRow encodes one st_sequences row.
func SequenceRow(s *SequenceDef) algebra.Row {
	return algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU32, uint64(s.ID)),
		algebra.Uint64(algebra.KindU32, uint64(s.Table)),
		algebra.Uint64(algebra.KindU32, uint64(s.Column)),
		algebra.Int64(algebra.KindI64, s.Start),
		algebra.Int64(algebra.KindI64, s.Increment),
		algebra.Int64(algebra.KindI64, s.Min),
		algebra.Int64(algebra.KindI64, s.Max),
		algebra.Int64(algebra.KindI64, s.Allocated),
	}}
}

// ConstraintRow encodes one st_constraints row.
func ConstraintRow(c *ConstraintDef) algebra.Row {
	return algebra.Row{Values: []algebra.Value{
		algebra.Uint64(algebra.KindU32, uint64(c.ID)),
		algebra.Uint64(algebra.KindU32, uint64(c.Table)),
		algebra.Str(c.Name),
		algebra.Uint64(algebra.KindU8, uint64(c.Kind)),
		{Kind: algebra.KindArray, Array: colsToInts(c.Columns)},
	}}
}

// ModuleRow encodes the single st_module row.
func ModuleRow(m ModuleRecord) algebra.Row {
	return algebra.Row{Values: []algebra.Value{
		algebra.Bin(m.ProgramHash[:]),
		algebra.Str(m.Kind),
		algebra.Uint64(algebra.KindU64, m.Epoch),
	}}
}

// ModuleFromRow decodes a ModuleRecord back out of a decoded st_module row.
func ModuleFromRow(r algebra.Row) ModuleRecord {
	var rec ModuleRecord
	copy(rec.ProgramHash[:], r.Values[0].Bytes)
	rec.Kind = r.Values[1].Str
	rec.Epoch = r.Values[2].Int.(uint64)
	return rec
}
