// Package catalog implements the bootstrapped system catalog described in
// §4.3: the six fixed-id system tables, the table-name index, and the
// bootstrap sequences that allocate TableId/IndexId/SequenceId/
// ConstraintId values into the user range above the reserved block.
package catalog

import (
	"fmt"
	"sync"

	"github.com/spacetimedb/core/pkg/algebra"
)

// Reserved system table ids. These occupy the first contiguous range of
// TableIds and must never move: their field positions and types form
// part of the on-disk compatibility contract.
const (
	StTable       algebra.TableId = 0
	StColumns     algebra.TableId = 1
	StIndexes     algebra.TableId = 2
	StSequences   algebra.TableId = 3
	StConstraints algebra.TableId = 4
	StModule      algebra.TableId = 5

	// FirstUserTableId is the first TableId available for user tables.
	FirstUserTableId algebra.TableId = 16
)

// Bootstrap sequence ids backing the allocators below.
const (
	SeqTableID      algebra.SequenceId = 0
	SeqIndexID      algebra.SequenceId = 1
	SeqSequenceID   algebra.SequenceId = 2
	SeqConstraintID algebra.SequenceId = 3

	// stTableNameIndex is the fixed index id for the st_table.table_name
	// lookup index required by §4.3.
	stTableNameIndex algebra.IndexId = 0
)

// AccessMode is a table's visibility to clients.
type AccessMode uint8

const (
	Public AccessMode = iota
	Private
)

// TableKind distinguishes system catalog tables from user tables.
type TableKind uint8

const (
	KindSystem TableKind = iota
	KindUser
)

// ConstraintKind is the tagged predicate kind for a Constraint.
type ConstraintKind uint8

const (
	ConstraintUnset ConstraintKind = iota
	ConstraintUnique
	ConstraintPrimaryKey
	ConstraintIndexed
	ConstraintIdentity
)

// ColumnDef is one column of a table: dense zero-based ColId, a name
// unique within the table, an algebraic type, and an autoinc flag.
type ColumnDef struct {
	ID        algebra.ColId
	Name      string
	Type      algebra.Type
	IsAutoInc bool
}

// IndexDef is built over a non-empty ordered list of columns.
type IndexDef struct {
	ID      algebra.IndexId
	Name    string
	Table   algebra.TableId
	Columns []algebra.ColId
	Unique  bool
}

// SequenceDef is a monotonic counter attached to one autoincrement column.
type SequenceDef struct {
	ID        algebra.SequenceId
	Table     algebra.TableId
	Column    algebra.ColId
	Start     int64
	Increment int64
	Min       int64
	Max       int64
	Allocated int64 // highwater mark; never repeats or regresses across restarts
}

// Next allocates and returns the next value from the sequence, advancing
// its highwater mark. Never repeats or regresses, including across
// restarts, because Allocated is itself replayed from the commit log
// (§8 crash-recovery property).
func (s *SequenceDef) Next() (int64, error) {
	next := s.Allocated + s.Increment
	if next > s.Max || next < s.Min {
		return 0, fmt.Errorf("catalog: sequence %d exhausted at %d", s.ID, s.Allocated)
	}
	s.Allocated = next
	return next, nil
}

// ConstraintDef is a tagged predicate over a column list.
type ConstraintDef struct {
	ID      algebra.ConstraintId
	Name    string
	Table   algebra.TableId
	Kind    ConstraintKind
	Columns []algebra.ColId
}

// ScheduleSpec records that a table is scheduled: its schedule_at column
// and the reducer the scheduler should invoke (§4.6 / SPEC_FULL §3).
type ScheduleSpec struct {
	Column      algebra.ColId
	ReducerName string
}

// TableDef is the full schema of one table.
type TableDef struct {
	ID          algebra.TableId
	Name        string
	RowSchema   algebra.Type
	Access      AccessMode
	Kind        TableKind
	Columns     []ColumnDef
	Indexes     map[algebra.IndexId]*IndexDef
	Sequences   map[algebra.SequenceId]*SequenceDef
	Constraints map[algebra.ConstraintId]*ConstraintDef
	Schedule    *ScheduleSpec
}

// ModuleRecord is the single row of st_module: the program hash, module
// kind, and epoch fencing token for hot-swap.
type ModuleRecord struct {
	ProgramHash algebra.Hash
	Kind        string
	Epoch       uint64
}

// Catalog is the in-memory, bootstrapped system catalog. It is mutated
// only through CreateTable/DropTable/CreateIndex etc., each of which the
// engine wraps in a transaction so catalog rows and sequence allocations
// commit atomically with the rest of the write set (§4.3).
type Catalog struct {
	mu sync.RWMutex

	tables     map[algebra.TableId]*TableDef
	nameIndex  map[string]algebra.TableId
	idxNameIdx map[string]algebra.IndexId

	seqTableID      int64
	seqIndexID      int64
	seqSequenceID   int64
	seqConstraintID int64

	module ModuleRecord
}

// New returns a freshly bootstrapped catalog with the six system tables
// materialized at their fixed ids.
func New() *Catalog {
	c := &Catalog{
		tables:     make(map[algebra.TableId]*TableDef),
		nameIndex:  make(map[string]algebra.TableId),
		idxNameIdx: make(map[string]algebra.IndexId),
		seqTableID: int64(FirstUserTableId) - 1,
	}
	c.bootstrapSystemTables()
	return c
}

func (c *Catalog) bootstrapSystemTables() {
	for id, name := range map[algebra.TableId]string{
		StTable:       "st_table",
		StColumns:     "st_columns",
		StIndexes:     "st_indexes",
		StSequences:   "st_sequences",
		StConstraints: "st_constraints",
		StModule:      "st_module",
	} {
		def := &TableDef{
			ID:          id,
			Name:        name,
			RowSchema:   SystemRowSchema(id),
			Access:      Private,
			Kind:        KindSystem,
			Indexes:     map[algebra.IndexId]*IndexDef{},
			Sequences:   map[algebra.SequenceId]*SequenceDef{},
			Constraints: map[algebra.ConstraintId]*ConstraintDef{},
		}
		c.tables[id] = def
		c.nameIndex[name] = id
	}
	nameIdx := &IndexDef{ID: stTableNameIndex, Name: "st_table_table_name_idx", Table: StTable, Columns: []algebra.ColId{1}, Unique: true}
	c.tables[StTable].Indexes[stTableNameIndex] = nameIdx
	c.idxNameIdx[nameIdx.Name] = stTableNameIndex
}

// TableByID returns the table definition for id, if any.
func (c *Catalog) TableByID(id algebra.TableId) (*TableDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[id]
	return t, ok
}

// TableIDFromName implements table_id_from_name (§4.4): NO_SUCH_TABLE if
// absent.
func (c *Catalog) TableIDFromName(name string) (algebra.TableId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.nameIndex[name]
	return id, ok
}

// IndexIDFromName implements index_id_from_name (§4.4).
func (c *Catalog) IndexIDFromName(name string) (algebra.IndexId, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.idxNameIdx[name]
	return id, ok
}

// CreateTable allocates a TableId and registers def's schema. Columns,
// indexes, sequences and constraints embedded in def are registered too.
// The caller (the engine) is responsible for recording the corresponding
// system-table writes in the active transaction so the mutation commits
// atomically with everything else (§4.3).
func (c *Catalog) CreateTable(name string, rowSchema algebra.Type, access AccessMode, columns []ColumnDef) (*TableDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nameIndex[name]; exists {
		return nil, fmt.Errorf("catalog: table %q already exists", name)
	}
	c.seqTableID++
	id := algebra.TableId(c.seqTableID)
	def := &TableDef{
		ID:          id,
		Name:        name,
		RowSchema:   rowSchema,
		Access:      access,
		Kind:        KindUser,
		Columns:     columns,
		Indexes:     map[algebra.IndexId]*IndexDef{},
		Sequences:   map[algebra.SequenceId]*SequenceDef{},
		Constraints: map[algebra.ConstraintId]*ConstraintDef{},
	}
	c.tables[id] = def
	c.nameIndex[name] = id
	return def, nil
}

// DropTable removes a table and all of its indexes/sequences/constraints
// from the catalog.
func (c *Catalog) DropTable(id algebra.TableId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[id]
	if !ok {
		return fmt.Errorf("catalog: no such table %d", id)
	}
	for _, idx := range def.Indexes {
		delete(c.idxNameIdx, idx.Name)
	}
	delete(c.nameIndex, def.Name)
	delete(c.tables, id)
	return nil
}

// CreateIndex allocates an IndexId and attaches it to table.
func (c *Catalog) CreateIndex(table algebra.TableId, name string, columns []algebra.ColId, unique bool) (*IndexDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[table]
	if !ok {
		return nil, fmt.Errorf("catalog: no such table %d", table)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("catalog: index %q must cover at least one column", name)
	}
	if _, exists := c.idxNameIdx[name]; exists {
		return nil, fmt.Errorf("catalog: index %q already exists", name)
	}
	c.seqIndexID++
	id := algebra.IndexId(c.seqIndexID)
	idx := &IndexDef{ID: id, Name: name, Table: table, Columns: columns, Unique: unique}
	def.Indexes[id] = idx
	c.idxNameIdx[name] = id
	return idx, nil
}

// CreateSequence allocates a SequenceId and attaches it to a column.
func (c *Catalog) CreateSequence(table algebra.TableId, column algebra.ColId, start, increment, min, max int64) (*SequenceDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[table]
	if !ok {
		return nil, fmt.Errorf("catalog: no such table %d", table)
	}
	c.seqSequenceID++
	id := algebra.SequenceId(c.seqSequenceID)
	seq := &SequenceDef{ID: id, Table: table, Column: column, Start: start, Increment: increment, Min: min, Max: max, Allocated: start - increment}
	def.Sequences[id] = seq
	return seq, nil
}

// CreateConstraint allocates a ConstraintId and attaches it to a table.
func (c *Catalog) CreateConstraint(table algebra.TableId, name string, kind ConstraintKind, columns []algebra.ColId) (*ConstraintDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[table]
	if !ok {
		return nil, fmt.Errorf("catalog: no such table %d", table)
	}
	c.seqConstraintID++
	id := algebra.ConstraintId(c.seqConstraintID)
	con := &ConstraintDef{ID: id, Name: name, Table: table, Kind: kind, Columns: columns}
	def.Constraints[id] = con
	return con, nil
}

// AddColumn appends col as a new trailing column of table and rebuilds
// its RowSchema to match, for update_database's auto-migration path
// (§4.7 @migrate add_column). col.ID must equal the table's current
// column count; the caller (engine.Tx.AddColumnNullable) is responsible
// for rewriting already-committed rows to the new schema.
func (c *Catalog) AddColumn(table algebra.TableId, col ColumnDef) (*TableDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[table]
	if !ok {
		return nil, fmt.Errorf("catalog: no such table %d", table)
	}
	if int(col.ID) != len(def.Columns) {
		return nil, fmt.Errorf("catalog: table %d: AddColumn expects trailing column id %d, got %d", table, len(def.Columns), col.ID)
	}
	def.Columns = append(def.Columns, col)
	named := make([]algebra.NamedType, len(def.Columns))
	for i, c := range def.Columns {
		named[i] = algebra.NamedType{Name: c.Name, Type: c.Type}
	}
	def.RowSchema = algebra.Product(named...)
	return def, nil
}

// SetSchedule marks table as a scheduled table bound to reducer.
func (c *Catalog) SetSchedule(table algebra.TableId, column algebra.ColId, reducer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("catalog: no such table %d", table)
	}
	def.Schedule = &ScheduleSpec{Column: column, ReducerName: reducer}
	return nil
}

// Module returns the current st_module row.
func (c *Catalog) Module() ModuleRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.module
}

// SetModule overwrites the st_module row (called at publish/hot-swap
// time). The caller is responsible for bumping Epoch monotonically.
func (c *Catalog) SetModule(rec ModuleRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.module = rec
}

// IndexByID finds an index and its owning table by index id, scanning
// every table (index lookups are rare relative to row scans, so a
// reverse index is not maintained).
func (c *Catalog) IndexByID(id algebra.IndexId) (*IndexDef, *TableDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tables {
		if idx, ok := t.Indexes[id]; ok {
			return idx, t, true
		}
	}
	return nil, nil, false
}

// AllTables returns every registered table definition, system and user.
func (c *Catalog) AllTables() []*TableDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableDef, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}
