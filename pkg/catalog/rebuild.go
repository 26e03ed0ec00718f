package catalog

import (
	"sort"

	"github.com/spacetimedb/core/pkg/algebra"
)

// Rebuild reconstructs a Catalog's schema from the decoded contents of
// the six system tables, as replayed from the commit log. This is the
// counterpart to Engine's row replay: Engine rebuilds committed row
// data, Rebuild rebuilds the schema those rows are interpreted against,
// so a replica can come back up with both in agreement after a restart.
//
// systemRows is keyed by system table id (StTable, StColumns, ...); each
// slice holds the rows still present in that table after replaying every
// insert and delete, in insertion order. Where several st_sequences rows
// carry the same sequence id, the last one wins.
func Rebuild(systemRows map[algebra.TableId][]algebra.Row) *Catalog {
	c := New()

	for _, row := range systemRows[StTable] {
		id := algebra.TableId(row.Values[0].Int.(uint64))
		if id < FirstUserTableId {
			continue // system tables are already bootstrapped by New
		}
		def := &TableDef{
			ID:          id,
			Name:        row.Values[1].Str,
			Access:      AccessMode(row.Values[3].Int.(uint64)),
			Kind:        TableKind(row.Values[2].Int.(uint64)),
			Indexes:     map[algebra.IndexId]*IndexDef{},
			Sequences:   map[algebra.SequenceId]*SequenceDef{},
			Constraints: map[algebra.ConstraintId]*ConstraintDef{},
		}
		c.tables[id] = def
		c.nameIndex[def.Name] = id
		c.advanceTableSeq(id)
	}

	for _, row := range systemRows[StColumns] {
		def, ok := c.tables[algebra.TableId(row.Values[0].Int.(uint64))]
		if !ok {
			continue
		}
		def.Columns = append(def.Columns, ColumnDef{
			ID:        algebra.ColId(row.Values[1].Int.(uint64)),
			Name:      row.Values[2].Str,
			Type:      algebra.Primitive(algebra.Kind(row.Values[3].Int.(uint64))),
			IsAutoInc: row.Values[4].Bool,
		})
	}
	for _, def := range c.tables {
		if def.Kind != KindUser {
			continue
		}
		sort.Slice(def.Columns, func(i, j int) bool { return def.Columns[i].ID < def.Columns[j].ID })
		named := make([]algebra.NamedType, len(def.Columns))
		for i, col := range def.Columns {
			named[i] = algebra.NamedType{Name: col.Name, Type: col.Type}
		}
		def.RowSchema = algebra.Product(named...)
	}

	for _, row := range systemRows[StIndexes] {
		def, ok := c.tables[algebra.TableId(row.Values[0].Int.(uint64))]
		if !ok {
			continue
		}
		id := algebra.IndexId(row.Values[1].Int.(uint64))
		idx := &IndexDef{
			ID:      id,
			Table:   def.ID,
			Name:    row.Values[2].Str,
			Unique:  row.Values[3].Bool,
			Columns: intsToCols(row.Values[4].Array),
		}
		def.Indexes[id] = idx
		c.idxNameIdx[idx.Name] = id
		c.advanceIndexSeq(id)
	}

	for _, row := range systemRows[StSequences] {
		def, ok := c.tables[algebra.TableId(row.Values[1].Int.(uint64))]
		if !ok {
			continue
		}
		id := algebra.SequenceId(row.Values[0].Int.(uint64))
		def.Sequences[id] = &SequenceDef{
			ID:        id,
			Table:     def.ID,
			Column:    algebra.ColId(row.Values[2].Int.(uint64)),
			Start:     row.Values[3].Int.(int64),
			Increment: row.Values[4].Int.(int64),
			Min:       row.Values[5].Int.(int64),
			Max:       row.Values[6].Int.(int64),
			Allocated: row.Values[7].Int.(int64),
		}
		c.advanceSequenceSeq(id)
	}

	for _, row := range systemRows[StConstraints] {
		def, ok := c.tables[algebra.TableId(row.Values[1].Int.(uint64))]
		if !ok {
			continue
		}
		id := algebra.ConstraintId(row.Values[0].Int.(uint64))
		def.Constraints[id] = &ConstraintDef{
			ID:      id,
			Table:   def.ID,
			Name:    row.Values[2].Str,
			Kind:    ConstraintKind(row.Values[3].Int.(uint64)),
			Columns: intsToCols(row.Values[4].Array),
		}
		c.advanceConstraintSeq(id)
	}

	if rows := systemRows[StModule]; len(rows) > 0 {
		c.module = ModuleFromRow(rows[len(rows)-1])
	}

	return c
}

func (c *Catalog) advanceTableSeq(id algebra.TableId) {
	if v := int64(id); v > c.seqTableID {
		c.seqTableID = v
	}
}

func (c *Catalog) advanceIndexSeq(id algebra.IndexId) {
	if v := int64(id); v > c.seqIndexID {
		c.seqIndexID = v
	}
}

func (c *Catalog) advanceSequenceSeq(id algebra.SequenceId) {
	if v := int64(id); v > c.seqSequenceID {
		c.seqSequenceID = v
	}
}

func (c *Catalog) advanceConstraintSeq(id algebra.ConstraintId) {
	if v := int64(id); v > c.seqConstraintID {
		c.seqConstraintID = v
	}
}
