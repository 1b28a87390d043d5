package economy

import "math"

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func NonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Real clamps a stored real to a finite value no lower than floor.
// Non-finite input yields fallback.
func Real(v, floor, fallback float64) float64 {
	if !finite(v) {
		return fallback
	}
	if v < floor {
		return floor
	}
	return v
}

func SaturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

// SaturatingMul multiplies non-negative values; anything else yields 0.
func SaturatingMul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
