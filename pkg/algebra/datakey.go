package algebra

// DataKey identifies one row's storage location: either the row bytes
// themselves (for short rows) or a Hash referencing the content store.
// DataKey values are comparable with == and so are safe as map keys,
// which the engine's write-set/read-set tracking depends on.
type DataKey struct {
	Inline bool
	Bytes  string // valid when Inline; string so DataKey stays comparable
	Hash   Hash   // valid when !Inline
}

// InlineDataKey builds a DataKey carrying the row bytes directly.
func InlineDataKey(b []byte) DataKey {
	return DataKey{Inline: true, Bytes: string(b)}
}

// HashDataKey builds a DataKey referencing a CAS blob.
func HashDataKey(h Hash) DataKey {
	return DataKey{Inline: false, Hash: h}
}

// Operation discriminates the two write kinds recorded in a commit.
type Operation uint8

const (
	OpDelete Operation = 0
	OpInsert Operation = 1
)

// Write is one (Operation, TableId, DataKey) triple, as framed in a commit.
type Write struct {
	Op      Operation
	Table   TableId
	Key     DataKey
}

// Transaction is an ordered list of writes, as framed in a commit.
type Transaction struct {
	Writes []Write
}

// Commit is a durable frame containing one or more transactions, chained
// to its parent by hash.
type Commit struct {
	ParentHash   *Hash
	CommitOffset uint64
	MinTxOffset  uint64
	Transactions []Transaction
}
