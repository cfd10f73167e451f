// Package objectives provides ready-made objective and constraint
// functions: standard benchmarks for tests and the named objectives the
// service exposes.
package objectives

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/AMOEBA/internal/optimization"
)

// Sphere returns the quadratic bowl sum((x[i]-center[i])^2) with its
// minimum of 0 at center. The returned function accepts points of the
// same dimension as center.
func Sphere(center ...float64) optimization.ObjectiveFunc {
	c := append([]float64(nil), center...)
	return func(x []float64) float64 {
		d := floats.Distance(x, c, 2)
		return d * d
	}
}

// Rosenbrock is the classic banana-valley benchmark, defined for two or
// more dimensions with its minimum of 0 at (1, ..., 1).
func Rosenbrock(x []float64) float64 {
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

// CurveDistance measures how far a 2D point is from lying on both of two
// implicit parabolas at once: it returns the Euclidean distance between
// the residuals of y = x0^2 - x1 against b^2 - a and of w = x1^2 - x0
// against a^2 - b. Its minima are the intersection points of the curves,
// where the value is 0.
func CurveDistance(x []float64) float64 {
	const (
		a = -1.23456
		b = 6.54321
	)

	v := b*b - a - (x[0]*x[0] - x[1])
	w := a*a - b - (x[1]*x[1] - x[0])

	return math.Hypot(v, w)
}

// Clamp returns a constraint that clamps every coordinate into [lo, hi].
func Clamp(lo, hi float64) optimization.ConstraintFunc {
	return func(x []float64) {
		for i := range x {
			if x[i] < lo {
				x[i] = lo
			}
			if x[i] > hi {
				x[i] = hi
			}
		}
	}
}

// registry maps the objective names accepted by the service surface to
// their implementations. Entries must work for any dimension the caller's
// start vector has, so "sphere" is the origin-centered bowl.
var registry = map[string]optimization.ObjectiveFunc{
	"sphere":         func(x []float64) float64 { return floats.Dot(x, x) },
	"rosenbrock":     Rosenbrock,
	"curve_distance": CurveDistance,
}

// ByName looks up a named objective. The boolean reports whether the name
// is known.
func ByName(name string) (optimization.ObjectiveFunc, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the registered objective names in no particular order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
