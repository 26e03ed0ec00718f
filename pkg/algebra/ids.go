// Package algebra defines the closed algebraic type system and the opaque
// identifier types that the rest of the core shares: table/column/index/
// sequence/constraint ids, replica and connection handles, and the fixed
// width identity/hash types used for content addressing.
package algebra

import (
	"encoding/hex"
	"fmt"
)

// TableId, ColId, IndexId, SequenceId and ConstraintId are distinct opaque
// integer types assigned by sequences; they are stable for the lifetime of
// the database.
type TableId uint32

// ColId is dense and zero-based within its table.
type ColId uint32

// IndexId names one index, built over an ordered list of columns.
type IndexId uint32

// SequenceId names one autoincrement counter.
type SequenceId uint32

// ConstraintId names one constraint attached to a table.
type ConstraintId uint32

// ReplicaId names a database instance on a host.
type ReplicaId uint64

func (r ReplicaId) String() string { return fmt.Sprintf("replica-%d", uint64(r)) }

// Identity is a 256-bit hash identifying a user or program.
type Identity [32]byte

func (i Identity) String() string { return hex.EncodeToString(i[:]) }

// IsZero reports whether the identity is the unset all-zero value.
func (i Identity) IsZero() bool { return i == Identity{} }

// ConnectionId is a 128-bit per-connection handle.
type ConnectionId [16]byte

func (c ConnectionId) String() string { return hex.EncodeToString(c[:]) }

// Hash is a fixed-width cryptographic digest used for content addressing
// and module program identity.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is the unset all-zero value.
func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromHex parses a hex-encoded hash, as used on the wire and in file
// names under object_store/.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
