package algebra

// Value is the runtime representation of an algebraic value. Exactly the
// fields matching Kind are meaningful; this mirrors the closed sum in
// spec's data model without resorting to `interface{}` for every case.
type Value struct {
	Kind Kind

	Bool    bool
	Int     interface{} // int64 for signed kinds, uint64 for unsigned kinds
	Float   float64
	Str     string
	Bytes   []byte
	Product []Value // KindProduct: one Value per field, in declared order
	Sum     *SumValue
	Array   []Value
	Map     []MapEntry
}

// SumValue is a tagged union value: Tag selects which variant of the
// declaring Type's Elements the Inner value belongs to.
type SumValue struct {
	Tag   uint32
	Inner Value
}

// MapEntry is one key/value pair of a KindMap value. Entries are encoded
// in the order they appear in Value.Map; the encoder does not sort them.
type MapEntry struct {
	Key Value
	Val Value
}

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Int64(k Kind, v int64) Value { return Value{Kind: k, Int: v} }

func Uint64(k Kind, v uint64) Value { return Value{Kind: k, Int: v} }

func Str(s string) Value { return Value{Kind: KindString, Str: s} }

func Bin(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// None builds the "none" variant of a Nullable column's value, suitable
// for backfilling a row that predates the column's addition.
func None() Value {
	return Value{Kind: KindSum, Sum: &SumValue{Tag: 0, Inner: Value{Kind: KindProduct, Product: []Value{}}}}
}

// Row is a product value whose declared type is a table's row schema.
type Row struct {
	Values []Value
}

// Field returns the value of column col within the row.
func (r Row) Field(col ColId) Value {
	return r.Values[int(col)]
}
