package algebra

import "bytes"

// Compare orders two values of the same kind, returning -1, 0 or 1. It
// backs index range-scan ordering and Bound comparisons (§4.4).
func Compare(a, b Value) int {
	switch a.Kind {
	case KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case KindString:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case KindBytes:
		return bytes.Compare(a.Bytes, b.Bytes)
	case KindF32, KindF64:
		if a.Float < b.Float {
			return -1
		}
		if a.Float > b.Float {
			return 1
		}
		return 0
	default:
		if a.Kind.IsNumeric() {
			if ai, ok := a.Int.(int64); ok {
				bi := b.Int.(int64)
				if ai < bi {
					return -1
				}
				if ai > bi {
					return 1
				}
				return 0
			}
			if au, ok := a.Int.(uint64); ok {
				bu := b.Int.(uint64)
				if au < bu {
					return -1
				}
				if au > bu {
					return 1
				}
				return 0
			}
		}
		return 0
	}
}

// SatisfiesLower reports whether v satisfies the lower Bound b.
func SatisfiesLower(b Bound, v Value) bool {
	switch b.Kind {
	case Unbounded:
		return true
	case Included:
		return Compare(v, b.Value) >= 0
	case Excluded:
		return Compare(v, b.Value) > 0
	default:
		return false
	}
}

// SatisfiesUpper reports whether v satisfies the upper Bound b.
func SatisfiesUpper(b Bound, v Value) bool {
	switch b.Kind {
	case Unbounded:
		return true
	case Included:
		return Compare(v, b.Value) <= 0
	case Excluded:
		return Compare(v, b.Value) < 0
	default:
		return false
	}
}
