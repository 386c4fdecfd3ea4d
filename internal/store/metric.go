package store

import (
	"cmp"
	"math"
	"slices"
)

// Score computes m between a and b. Both must have the same length.
func (m Metric) Score(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		return cosine(a, b)
	case MetricEuclidean:
		return euclidean(a, b)
	default:
		return dot(a, b)
	}
}

// Better reports whether score a ranks ahead of score b.
func (m Metric) Better(a, b float32) bool {
	if m == MetricEuclidean {
		return a < b
	}
	return a > b
}

// compare orders scores best first, for slices.SortStableFunc.
func (m Metric) compare(a, b float32) int {
	if m == MetricEuclidean {
		return cmp.Compare(a, b)
	}
	return cmp.Compare(b, a)
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

func cosine(a, b []float32) float32 {
	var ab, aa, bb float64
	for i := range a {
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return float32(ab / (math.Sqrt(aa) * math.Sqrt(bb)))
}

func euclidean(a, b []float32) float32 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return float32(math.Sqrt(s))
}

// normalizeVectorInPlace scales v to unit length. Zero vectors are left alone.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// rank sorts matches best first and keeps k. Ties keep their input order.
func rank(m Metric, matches []Match, k int) []Match {
	slices.SortStableFunc(matches, func(a, b Match) int {
		return m.compare(a.Score, b.Score)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
