package oc

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// IndexAlpha locates a query time within a time grid: the value lies
// between samples Index and Index+1 with interpolation weight Alpha on
// the left sample.
type IndexAlpha struct {
	Index int
	Alpha float64
}

// TimeSegment finds the interpolation segment of t in the non-decreasing
// grid times. Queries outside the grid clamp to the first or last sample.
func TimeSegment(t float64, times []float64) IndexAlpha {
	n := len(times)
	if n == 0 {
		return IndexAlpha{Index: 0, Alpha: 1}
	}
	if t <= times[0] {
		return IndexAlpha{Index: 0, Alpha: 1}
	}
	if t >= times[n-1] {
		return IndexAlpha{Index: n - 2, Alpha: 0}
	}
	// first index with times[i] > t
	hi := sort.Search(n, func(i int) bool { return times[i] > t })
	lo := hi - 1
	dt := times[hi] - times[lo]
	if dt <= 0 {
		// repeated timestamp at an event: take the post-event sample
		return IndexAlpha{Index: lo, Alpha: 0}
	}
	return IndexAlpha{Index: lo, Alpha: (times[hi] - t) / dt}
}

// InterpScalar linearly interpolates a scalar trajectory.
func InterpScalar(ia IndexAlpha, vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	if len(vals) == 1 || ia.Index+1 >= len(vals) {
		return vals[len(vals)-1]
	}
	return ia.Alpha*vals[ia.Index] + (1-ia.Alpha)*vals[ia.Index+1]
}

// Interp linearly interpolates a vector trajectory.
func Interp[T ~[]float64](ia IndexAlpha, vals []T) T {
	if len(vals) == 0 {
		return nil
	}
	if len(vals) == 1 || ia.Index+1 >= len(vals) {
		last := vals[len(vals)-1]
		out := make(T, len(last))
		copy(out, last)
		return out
	}
	lo, hi := vals[ia.Index], vals[ia.Index+1]
	out := make(T, len(lo))
	for i := range out {
		out[i] = ia.Alpha*lo[i] + (1-ia.Alpha)*hi[i]
	}
	return out
}

// InterpMat linearly interpolates a matrix trajectory.
func InterpMat(ia IndexAlpha, vals []*mat.Dense) *mat.Dense {
	if len(vals) == 0 {
		return nil
	}
	if len(vals) == 1 || ia.Index+1 >= len(vals) {
		return mat.DenseCopyOf(vals[len(vals)-1])
	}
	lo, hi := vals[ia.Index], vals[ia.Index+1]
	r, c := lo.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, ia.Alpha*lo.At(i, j)+(1-ia.Alpha)*hi.At(i, j))
		}
	}
	return out
}

// FindActivePartition returns the index of the partition containing t,
// clamped to [0, len(boundaries)-2]. Partitions are half-open
// [boundaries[i], boundaries[i+1]); the final partition is closed.
func FindActivePartition(boundaries []float64, t float64) int {
	n := len(boundaries)
	if n < 2 {
		return 0
	}
	if t <= boundaries[0] {
		return 0
	}
	if t >= boundaries[n-1] {
		return n - 2
	}
	hi := sort.Search(n, func(i int) bool { return boundaries[i] > t })
	return hi - 1
}
