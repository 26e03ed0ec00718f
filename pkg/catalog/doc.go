/*
Package catalog implements the bootstrapped system catalog (§4.3): the six
fixed-id system tables (st_table, st_columns, st_indexes, st_sequences,
st_constraints, st_module), the table-name index, and the bootstrap
sequences that allocate new TableId/IndexId/SequenceId/ConstraintId values.

The in-memory Catalog is the authoritative schema view consulted by
pkg/engine on every operation. Catalog mutations are never committed on
their own: pkg/engine folds the corresponding system-table row writes
(TableRow, ColumnRow, IndexRow, SequenceRow, ConstraintRow, ModuleRow) into
the same transaction as the user-visible writes that triggered the schema
change, so a crash between the two can never leave the catalog and the
commit log disagreeing about which tables exist.
*/
package catalog
