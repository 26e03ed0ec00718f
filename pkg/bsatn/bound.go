package bsatn

import "github.com/spacetimedb/core/pkg/algebra"

// EncodeBound appends the BSATN encoding of a Bound<value> over a column
// of type t: a tag byte (0=Unbounded, 1=Included, 2=Excluded) followed by
// the encoded value for the two non-unbounded variants.
func EncodeBound(buf []byte, t algebra.Type, b algebra.Bound) []byte {
	switch b.Kind {
	case algebra.Unbounded:
		return append(buf, 0)
	case algebra.Included:
		buf = append(buf, 1)
		return Encode(buf, t, b.Value)
	case algebra.Excluded:
		buf = append(buf, 2)
		return Encode(buf, t, b.Value)
	default:
		return append(buf, 0)
	}
}

// DecodeBound mirrors EncodeBound.
func DecodeBound(buf []byte, t algebra.Type) (algebra.Bound, int, error) {
	if len(buf) < 1 {
		return algebra.Bound{}, 0, decodeErrorf("bound: need 1 tag byte")
	}
	switch buf[0] {
	case 0:
		return algebra.NewUnbounded(), 1, nil
	case 1:
		v, n, err := Decode(buf[1:], t)
		if err != nil {
			return algebra.Bound{}, 0, err
		}
		return algebra.NewIncluded(v), 1 + n, nil
	case 2:
		v, n, err := Decode(buf[1:], t)
		if err != nil {
			return algebra.Bound{}, 0, err
		}
		return algebra.NewExcluded(v), 1 + n, nil
	default:
		return algebra.Bound{}, 0, decodeErrorf("bound: bad tag %d", buf[0])
	}
}
