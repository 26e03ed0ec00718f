/*
Package algebra defines the core data model shared by every other package
in this module: the closed algebraic type system (primitives, product,
sum, array, map, ref), the runtime Value representation, and the opaque
identifier types (TableId, ColId, IndexId, SequenceId, ConstraintId,
ReplicaId, Identity, ConnectionId, Hash) that name entities across the
storage engine, the module ABI, and the commit log.

# Algebraic types

A Type is one of:

  - a primitive (bool, signed/unsigned integers 8..256 bits, float32/64,
    string, bytes)
  - Product: a named tuple of fields — a table's row schema is a Product
  - Sum: a tagged union of named variants, each carrying one inner type
  - Array: a homogeneous sequence of one element type
  - Map: a mapping from one key type to one value type
  - Ref: an index into a per-module Typespace, resolved with Resolve

Values are the runtime counterpart: one Value per Type, carrying exactly
the fields that apply to its Kind. A Row is a Product Value whose type is
a table's row schema.
*/
package algebra
