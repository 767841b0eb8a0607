package ann

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects how Search scores candidates. Every metric yields a
// score where higher means more similar.
type Metric int

const (
	Cosine Metric = iota
	Dot
	Euclidean
)

func (m Metric) String() string {
	switch m {
	case Dot:
		return "dot"
	case Euclidean:
		return "euclidean"
	default:
		return "cosine"
	}
}

func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "dot", "dot_product":
		return Dot, nil
	case "euclidean", "l2":
		return Euclidean, nil
	default:
		return Cosine, fmt.Errorf("ann: unknown metric %q", s)
	}
}

// score converts a pair of vectors into a similarity under m.
func (m Metric) score(a, b []float32) float32 {
	switch m {
	case Dot:
		return dot(a, b)
	case Euclidean:
		return 1 / (1 + euclidean(a, b))
	default:
		return 1 - cosineDistance(a, b)
	}
}

// cosineDistance is 1 - cos(a, b), in [0, 2]. Zero vectors are maximally
// distant from everything.
func cosineDistance(a, b []float32) float32 {
	var d, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		d += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return float32(1 - d/(math.Sqrt(na)*math.Sqrt(nb)))
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

func euclidean(a, b []float32) float32 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return float32(math.Sqrt(s))
}
