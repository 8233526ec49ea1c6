// Package shared provides shared helpers used across all modules in ctdr-go.
package shared

import "math"

// CloneVector returns a detached copy of v. A nil input stays nil so
// callers can distinguish "absent" from "empty".
func CloneVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// ZeroVector returns a fresh all-zero vector of length n.
func ZeroVector(n int) []float64 {
	return make([]float64, n)
}

// OnesVector returns a fresh all-ones vector of length n.
func OnesVector(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// AllFinite reports whether every entry of v is finite.
func AllFinite(v []float64) bool {
	for _, x := range v {
		if !IsFinite(x) {
			return false
		}
	}
	return true
}

// SameLen reports whether all vectors share one length. An empty
// argument list is trivially consistent.
func SameLen(vs ...[]float64) bool {
	if len(vs) == 0 {
		return true
	}
	n := len(vs[0])
	for _, v := range vs[1:] {
		if len(v) != n {
			return false
		}
	}
	return true
}

// AddVectors returns a + b elementwise. Lengths must already be
// validated by the caller.
func AddVectors(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// ArgMax returns the index of the largest entry, or -1 for an empty
// vector. Ties resolve to the lowest index.
func ArgMax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
