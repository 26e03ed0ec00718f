package algebra

// BoundKind discriminates the three-variant Bound sum used by range scans.
type BoundKind uint8

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is `Unbounded | Included(value) | Excluded(value)` over one column
// of an index key, as required by the range-scan operations in §4.4.
type Bound struct {
	Kind  BoundKind
	Value Value
}

func NewUnbounded() Bound { return Bound{Kind: Unbounded} }

func NewIncluded(v Value) Bound { return Bound{Kind: Included, Value: v} }

func NewExcluded(v Value) Bound { return Bound{Kind: Excluded, Value: v} }
