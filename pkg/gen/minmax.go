package gen

import "cmp"

// Clamp v to the inclusive range [lo, hi]
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InRange returns true if lo <= v <= hi
func InRange[T cmp.Ordered](v, lo, hi T) bool {
	return v >= lo && v <= hi
}
