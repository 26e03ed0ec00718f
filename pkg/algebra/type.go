package algebra

import "fmt"

// Kind discriminates the closed sum of algebraic types.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindI128
	KindU128
	KindI256
	KindU256
	KindF32
	KindF64
	KindString
	KindBytes
	KindProduct
	KindSum
	KindArray
	KindMap
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindI8:
		return "I8"
	case KindU8:
		return "U8"
	case KindI16:
		return "I16"
	case KindU16:
		return "U16"
	case KindI32:
		return "I32"
	case KindU32:
		return "U32"
	case KindI64:
		return "I64"
	case KindU64:
		return "U64"
	case KindI128:
		return "I128"
	case KindU128:
		return "U128"
	case KindI256:
		return "I256"
	case KindU256:
		return "U256"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindProduct:
		return "Product"
	case KindSum:
		return "Sum"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindRef:
		return "Ref"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Type is a closed algebraic type: a primitive, a product (named tuple),
// a sum (tagged union), an array, a map, or a ref into a per-module
// typespace.
type Type struct {
	Kind Kind

	// Product / Sum
	Elements []NamedType

	// Array / Map
	Elem *Type
	Key  *Type

	// Ref
	RefIndex uint32
}

// NamedType is one field of a product or one variant of a sum.
type NamedType struct {
	Name string
	Type Type
}

func Primitive(k Kind) Type { return Type{Kind: k} }

func Product(fields ...NamedType) Type {
	return Type{Kind: KindProduct, Elements: fields}
}

func Sum(variants ...NamedType) Type {
	return Type{Kind: KindSum, Elements: variants}
}

func ArrayOf(elem Type) Type {
	return Type{Kind: KindArray, Elem: &elem}
}

func MapOf(key, val Type) Type {
	return Type{Kind: KindMap, Key: &key, Elem: &val}
}

func RefTo(index uint32) Type {
	return Type{Kind: KindRef, RefIndex: index}
}

// Nullable wraps inner in the two-variant sum a schema uses to mark a
// column optional: tag 0 ("none") carries no value, tag 1 ("some")
// carries inner. Auto-migration's add_column operation only accepts
// columns of this shape, since an existing row can be backfilled with
// "none" without knowing a real value for it.
func Nullable(inner Type) Type {
	return Sum(
		NamedType{Name: "none", Type: Product()},
		NamedType{Name: "some", Type: inner},
	)
}

// IsNullable reports whether t is the two-variant sum Nullable builds.
func IsNullable(t Type) bool {
	return t.Kind == KindSum && len(t.Elements) == 2 &&
		t.Elements[0].Name == "none" && t.Elements[1].Name == "some"
}

// Typespace is a per-module table of named types, resolved by Ref.
type Typespace struct {
	Types []Type
}

func (ts *Typespace) Resolve(t Type) Type {
	for t.Kind == KindRef {
		t = ts.Types[t.RefIndex]
	}
	return t
}

// IsNumeric reports whether the type is one of the integer or float kinds.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindI8, KindU8, KindI16, KindU16, KindI32, KindU32, KindI64, KindU64,
		KindI128, KindU128, KindI256, KindU256, KindF32, KindF64:
		return true
	default:
		return false
	}
}

// IsZeroOfKind reports whether raw (as decoded into a Value) equals the
// additive identity for the given integer kind. Used by the engine to
// decide whether an autoincrement column should be assigned a new value.
func IsZeroOfKind(k Kind, v Value) bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64:
		i, ok := v.Int.(int64)
		return ok && i == 0
	case KindU8, KindU16, KindU32, KindU64:
		u, ok := v.Int.(uint64)
		return ok && u == 0
	default:
		return false
	}
}
