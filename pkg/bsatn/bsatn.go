// Package bsatn implements the binary algebraic-type notation: the fixed,
// self-describing wire format used to encode every Value passed across the
// module ABI and stored in the commit log. Primitives are little-endian,
// sums are prefixed with a 4-byte little-endian u32 tag, and
// arrays/strings/byte-arrays are
// length-prefixed. This is a bespoke, fully-specified format rather than a
// general-purpose serialization scheme, so it is built on encoding/binary
// rather than an ecosystem codec (see DESIGN.md).
package bsatn

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spacetimedb/core/pkg/algebra"
)

// ErrDecode is wrapped into algebra-level callers as BSATN_DECODE_ERROR.
type ErrDecode struct {
	Reason string
}

func (e *ErrDecode) Error() string { return "bsatn: decode error: " + e.Reason }

func decodeErrorf(format string, args ...interface{}) error {
	return &ErrDecode{Reason: fmt.Sprintf(format, args...)}
}

// Encode appends the BSATN encoding of v (whose shape must match t) to buf
// and returns the extended slice.
func Encode(buf []byte, t algebra.Type, v algebra.Value) []byte {
	switch t.Kind {
	case algebra.KindBool:
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case algebra.KindI8:
		return append(buf, byte(int8(v.Int.(int64))))
	case algebra.KindU8:
		return append(buf, byte(v.Int.(uint64)))
	case algebra.KindI16:
		return appendUint16(buf, uint16(int16(v.Int.(int64))))
	case algebra.KindU16:
		return appendUint16(buf, uint16(v.Int.(uint64)))
	case algebra.KindI32:
		return appendUint32(buf, uint32(int32(v.Int.(int64))))
	case algebra.KindU32:
		return appendUint32(buf, uint32(v.Int.(uint64)))
	case algebra.KindI64:
		return appendUint64(buf, uint64(v.Int.(int64)))
	case algebra.KindU64:
		return appendUint64(buf, v.Int.(uint64))
	case algebra.KindI128, algebra.KindU128:
		return appendWideInt(buf, v, 16)
	case algebra.KindI256, algebra.KindU256:
		return appendWideInt(buf, v, 32)
	case algebra.KindF32:
		return appendUint32(buf, math.Float32bits(float32(v.Float)))
	case algebra.KindF64:
		return appendUint64(buf, math.Float64bits(v.Float))
	case algebra.KindString:
		b := []byte(v.Str)
		buf = appendUint32(buf, uint32(len(b)))
		return append(buf, b...)
	case algebra.KindBytes:
		buf = appendUint32(buf, uint32(len(v.Bytes)))
		return append(buf, v.Bytes...)
	case algebra.KindProduct:
		for i, f := range t.Elements {
			buf = Encode(buf, f.Type, v.Product[i])
		}
		return buf
	case algebra.KindSum:
		buf = appendUint32(buf, v.Sum.Tag)
		return Encode(buf, t.Elements[v.Sum.Tag].Type, v.Sum.Inner)
	case algebra.KindArray:
		buf = appendUint32(buf, uint32(len(v.Array)))
		for _, e := range v.Array {
			buf = Encode(buf, *t.Elem, e)
		}
		return buf
	case algebra.KindMap:
		buf = appendUint32(buf, uint32(len(v.Map)))
		for _, e := range v.Map {
			buf = Encode(buf, *t.Key, e.Key)
			buf = Encode(buf, *t.Elem, e.Val)
		}
		return buf
	default:
		panic(fmt.Sprintf("bsatn: encode: unhandled kind %v", t.Kind))
	}
}

// EncodeValue is a convenience wrapper that allocates a fresh buffer.
func EncodeValue(t algebra.Type, v algebra.Value) []byte {
	return Encode(nil, t, v)
}

// Decode reads one Value of type t from buf, returning the value and the
// number of bytes consumed.
func Decode(buf []byte, t algebra.Type) (algebra.Value, int, error) {
	switch t.Kind {
	case algebra.KindBool:
		if len(buf) < 1 {
			return algebra.Value{}, 0, decodeErrorf("bool: need 1 byte, have %d", len(buf))
		}
		return algebra.Value{Kind: t.Kind, Bool: buf[0] != 0}, 1, nil
	case algebra.KindI8:
		if len(buf) < 1 {
			return algebra.Value{}, 0, decodeErrorf("i8: need 1 byte")
		}
		return algebra.Value{Kind: t.Kind, Int: int64(int8(buf[0]))}, 1, nil
	case algebra.KindU8:
		if len(buf) < 1 {
			return algebra.Value{}, 0, decodeErrorf("u8: need 1 byte")
		}
		return algebra.Value{Kind: t.Kind, Int: uint64(buf[0])}, 1, nil
	case algebra.KindI16:
		u, n, err := readUint16(buf)
		return algebra.Value{Kind: t.Kind, Int: int64(int16(u))}, n, err
	case algebra.KindU16:
		u, n, err := readUint16(buf)
		return algebra.Value{Kind: t.Kind, Int: uint64(u)}, n, err
	case algebra.KindI32:
		u, n, err := readUint32(buf)
		return algebra.Value{Kind: t.Kind, Int: int64(int32(u))}, n, err
	case algebra.KindU32:
		u, n, err := readUint32(buf)
		return algebra.Value{Kind: t.Kind, Int: uint64(u)}, n, err
	case algebra.KindI64:
		u, n, err := readUint64(buf)
		return algebra.Value{Kind: t.Kind, Int: int64(u)}, n, err
	case algebra.KindU64:
		u, n, err := readUint64(buf)
		return algebra.Value{Kind: t.Kind, Int: u}, n, err
	case algebra.KindI128, algebra.KindU128:
		return readWideInt(buf, t.Kind, 16)
	case algebra.KindI256, algebra.KindU256:
		return readWideInt(buf, t.Kind, 32)
	case algebra.KindF32:
		u, n, err := readUint32(buf)
		return algebra.Value{Kind: t.Kind, Float: float64(math.Float32frombits(u))}, n, err
	case algebra.KindF64:
		u, n, err := readUint64(buf)
		return algebra.Value{Kind: t.Kind, Float: math.Float64frombits(u)}, n, err
	case algebra.KindString:
		b, n, err := readBytes(buf)
		if err != nil {
			return algebra.Value{}, 0, err
		}
		return algebra.Value{Kind: t.Kind, Str: string(b)}, n, nil
	case algebra.KindBytes:
		b, n, err := readBytes(buf)
		if err != nil {
			return algebra.Value{}, 0, err
		}
		return algebra.Value{Kind: t.Kind, Bytes: b}, n, nil
	case algebra.KindProduct:
		vals := make([]algebra.Value, len(t.Elements))
		total := 0
		for i, f := range t.Elements {
			v, n, err := Decode(buf[total:], f.Type)
			if err != nil {
				return algebra.Value{}, 0, err
			}
			vals[i] = v
			total += n
		}
		return algebra.Value{Kind: t.Kind, Product: vals}, total, nil
	case algebra.KindSum:
		tag, n, err := readUint32(buf)
		if err != nil {
			return algebra.Value{}, 0, err
		}
		if int(tag) >= len(t.Elements) {
			return algebra.Value{}, 0, decodeErrorf("sum: tag %d out of range (%d variants)", tag, len(t.Elements))
		}
		inner, n2, err := Decode(buf[n:], t.Elements[tag].Type)
		if err != nil {
			return algebra.Value{}, 0, err
		}
		return algebra.Value{Kind: t.Kind, Sum: &algebra.SumValue{Tag: tag, Inner: inner}}, n + n2, nil
	case algebra.KindArray:
		count, n, err := readUint32(buf)
		if err != nil {
			return algebra.Value{}, 0, err
		}
		elems := make([]algebra.Value, count)
		total := n
		for i := range elems {
			v, m, err := Decode(buf[total:], *t.Elem)
			if err != nil {
				return algebra.Value{}, 0, err
			}
			elems[i] = v
			total += m
		}
		return algebra.Value{Kind: t.Kind, Array: elems}, total, nil
	case algebra.KindMap:
		count, n, err := readUint32(buf)
		if err != nil {
			return algebra.Value{}, 0, err
		}
		entries := make([]algebra.MapEntry, count)
		total := n
		for i := range entries {
			k, m, err := Decode(buf[total:], *t.Key)
			if err != nil {
				return algebra.Value{}, 0, err
			}
			total += m
			val, m2, err := Decode(buf[total:], *t.Elem)
			if err != nil {
				return algebra.Value{}, 0, err
			}
			total += m2
			entries[i] = algebra.MapEntry{Key: k, Val: val}
		}
		return algebra.Value{Kind: t.Kind, Map: entries}, total, nil
	default:
		return algebra.Value{}, 0, decodeErrorf("unhandled kind %v", t.Kind)
	}
}

// DecodeRow decodes a full product value (a row) given its schema.
func DecodeRow(buf []byte, schema algebra.Type) (algebra.Row, int, error) {
	v, n, err := Decode(buf, schema)
	if err != nil {
		return algebra.Row{}, 0, err
	}
	return algebra.Row{Values: v.Product}, n, nil
}

// EncodeRow encodes a row given its schema.
func EncodeRow(schema algebra.Type, row algebra.Row) []byte {
	return EncodeValue(schema, algebra.Value{Kind: algebra.KindProduct, Product: row.Values})
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// appendWideInt encodes a 128/256-bit integer as its raw little-endian byte
// representation, already materialized in v.Bytes by the caller.
func appendWideInt(buf []byte, v algebra.Value, width int) []byte {
	b := make([]byte, width)
	copy(b, v.Bytes)
	return append(buf, b...)
}

func readWideInt(buf []byte, kind algebra.Kind, width int) (algebra.Value, int, error) {
	if len(buf) < width {
		return algebra.Value{}, 0, decodeErrorf("wide int: need %d bytes, have %d", width, len(buf))
	}
	b := make([]byte, width)
	copy(b, buf[:width])
	return algebra.Value{Kind: kind, Bytes: b}, width, nil
}

func readUint16(buf []byte) (uint16, int, error) {
	if len(buf) < 2 {
		return 0, 0, decodeErrorf("u16: need 2 bytes, have %d", len(buf))
	}
	return binary.LittleEndian.Uint16(buf), 2, nil
}

func readUint32(buf []byte) (uint32, int, error) {
	if len(buf) < 4 {
		return 0, 0, decodeErrorf("u32: need 4 bytes, have %d", len(buf))
	}
	return binary.LittleEndian.Uint32(buf), 4, nil
}

func readUint64(buf []byte) (uint64, int, error) {
	if len(buf) < 8 {
		return 0, 0, decodeErrorf("u64: need 8 bytes, have %d", len(buf))
	}
	return binary.LittleEndian.Uint64(buf), 8, nil
}

func readBytes(buf []byte) ([]byte, int, error) {
	n32, n, err := readUint32(buf)
	if err != nil {
		return nil, 0, err
	}
	total := int(n32)
	if len(buf) < n+total {
		return nil, 0, decodeErrorf("bytes: need %d bytes, have %d", total, len(buf)-n)
	}
	out := make([]byte, total)
	copy(out, buf[n:n+total])
	return out, n + total, nil
}
