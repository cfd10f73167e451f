// Package simplex implements derivative-free minimization of a scalar
// multivariate function with the Nelder-Mead downhill simplex method.
//
// The optimizer keeps a simplex of dim+1 vertices and repeatedly replaces
// the worst one through reflection, expansion and contraction moves,
// shrinking the whole simplex toward the best vertex when none of those
// improve it. It needs no gradients, which makes it suitable for noisy or
// discontinuous objectives.
package simplex

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/AMOEBA/internal/optimization"
)

// Default configuration values, overridable per instance through the
// setters before a run.
const (
	DefaultMaxIterations = 1000
	DefaultReflection    = 1.0
	DefaultExpansion     = 2.0
	DefaultContraction   = 0.5
)

// Optimizer owns the simplex state for a fixed problem dimension. The
// dimension and callbacks are set at construction and never change; if
// they need to, allocate a new instance. An Optimizer may execute many
// independent runs over its lifetime, but its internal buffers are reused,
// so concurrent Run calls on the same instance are not safe.
type Optimizer struct {
	dim        int
	objective  optimization.ObjectiveFunc
	constraint optimization.ConstraintFunc

	// Configuration, read-only during a run. The conventional ranges are
	// reflection > 0, expansion > 1 and 0 < contraction < 1; values
	// outside them are the caller's problem and are not validated.
	maxIterations int
	reflection    float64
	expansion     float64
	contraction   float64

	// The simplex arena: dim+1 rows of dim coordinates in one contiguous
	// matrix, a parallel value table, and four scratch vertices reused
	// every iteration so the hot loop never allocates.
	verts *mat.Dense
	fvals []float64
	vr    []float64 // reflection candidate
	ve    []float64 // expansion candidate
	vc    []float64 // contraction candidate
	vm    []float64 // centroid

	// Role indexes into the simplex, recomputed every iteration.
	vs int // vertex with the smallest value
	vh int // vertex with the second-largest value
	vg int // vertex with the largest value

	evals int

	last    optimization.Result
	hasLast bool

	logger *zap.Logger
}

// New creates an Optimizer for a dim-dimensional problem. The objective is
// required; constraint may be nil, meaning no constraints. A dimension
// below 1 is rejected here rather than left to fail later: a
// zero-dimensional simplex has nothing to optimize.
func New(dim int, objective optimization.ObjectiveFunc, constraint optimization.ConstraintFunc) (*Optimizer, error) {
	if dim < 1 {
		return nil, optimization.NewErrorf("dimension must be at least 1, got %d", dim).
			WithComponent("simplex").WithOperation("new")
	}
	if objective == nil {
		return nil, optimization.NewError("objective function is required").
			WithComponent("simplex").WithOperation("new")
	}

	return &Optimizer{
		dim:           dim,
		objective:     objective,
		constraint:    constraint,
		maxIterations: DefaultMaxIterations,
		reflection:    DefaultReflection,
		expansion:     DefaultExpansion,
		contraction:   DefaultContraction,
		verts:         mat.NewDense(dim+1, dim, nil),
		fvals:         make([]float64, dim+1),
		vr:            make([]float64, dim),
		ve:            make([]float64, dim),
		vc:            make([]float64, dim),
		vm:            make([]float64, dim),
		logger:        zap.NewNop(),
	}, nil
}

// SetMaxIterations sets the iteration cap for subsequent runs.
func (o *Optimizer) SetMaxIterations(n int) { o.maxIterations = n }

// SetReflectionCoefficient sets the reflection coefficient.
func (o *Optimizer) SetReflectionCoefficient(c float64) { o.reflection = c }

// SetExpansionCoefficient sets the expansion coefficient.
func (o *Optimizer) SetExpansionCoefficient(c float64) { o.expansion = c }

// SetContractionCoefficient sets the contraction coefficient.
func (o *Optimizer) SetContractionCoefficient(c float64) { o.contraction = c }

// SetLogger installs a logger for per-run debug tracing. Passing nil
// disables tracing. Tracing never changes the optimization itself.
func (o *Optimizer) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o.logger = logger
}

// LastResult returns the result of the most recent Run, or nil if no run
// has completed. The returned value is owned by the optimizer and is
// overwritten by the next Run.
func (o *Optimizer) LastResult() *optimization.Result {
	if !o.hasLast {
		return nil
	}
	return &o.last
}

// evaluate is the single entry point for objective calls. It is the only
// place the evaluation counter moves.
func (o *Optimizer) evaluate(x []float64) float64 {
	o.evals++
	return o.objective(x)
}

// constrain applies the constraint function to x in place, if one was
// supplied.
func (o *Optimizer) constrain(x []float64) {
	if o.constraint != nil {
		o.constraint(x)
	}
}

// initialize builds a regular simplex of characteristic size scale around
// start: vertex 0 is start itself, and vertex i shifts start by p along
// coordinate i-1 and by q along every other coordinate.
func (o *Optimizer) initialize(start []float64, scale float64) {
	o.evals = 0
	o.vs, o.vh, o.vg = 0, 0, 0

	n := float64(o.dim)
	p := scale * (math.Sqrt(n+1) - 1 + n) / (n * math.Sqrt2)
	q := scale * (math.Sqrt(n+1) - 1) / (n * math.Sqrt2)

	o.verts.SetRow(0, start)
	for i := 1; i <= o.dim; i++ {
		row := o.verts.RawRowView(i)
		for j := 0; j < o.dim; j++ {
			if i-1 == j {
				row[j] = start[j] + p
			} else {
				row[j] = start[j] + q
			}
		}
	}
}

// indexes recomputes vs, vg and then vh (the largest value strictly below
// the maximum) by linear scan. Ties keep the first index encountered, so
// results are reproducible for identical inputs.
func (o *Optimizer) indexes() {
	for j := 0; j <= o.dim; j++ {
		if o.fvals[j] > o.fvals[o.vg] {
			o.vg = j
		}
		if o.fvals[j] < o.fvals[o.vs] {
			o.vs = j
		}
	}
	o.vh = o.vs
	for j := 0; j <= o.dim; j++ {
		if o.fvals[j] > o.fvals[o.vh] && o.fvals[j] < o.fvals[o.vg] {
			o.vh = j
		}
	}
}

// centroid computes the per-coordinate mean of every vertex except the
// worst into vm. With dim+1 >= 2 vertices it is always defined.
func (o *Optimizer) centroid() {
	for j := 0; j < o.dim; j++ {
		sum := 0.0
		for m := 0; m <= o.dim; m++ {
			if m != o.vg {
				sum += o.verts.At(m, j)
			}
		}
		o.vm[j] = sum / float64(o.dim)
	}
}

// accept replaces the worst vertex with the candidate x and its value fx.
func (o *Optimizer) accept(x []float64, fx float64) {
	copy(o.verts.RawRowView(o.vg), x)
	o.fvals[o.vg] = fx
}

// shrink pulls every vertex except the best halfway toward it, then
// re-evaluates the whole simplex and recomputes the role indexes. The new
// worst and second-worst vertices get one more constrain+evaluate pass on
// top of that; the extra evaluations are counted like any other.
func (o *Optimizer) shrink() {
	best := o.verts.RawRowView(o.vs)
	for row := 0; row <= o.dim; row++ {
		if row == o.vs {
			continue
		}
		v := o.verts.RawRowView(row)
		for j := 0; j < o.dim; j++ {
			v[j] = best[j] + (v[j]-best[j])/2.0
		}
	}

	for j := 0; j <= o.dim; j++ {
		o.fvals[j] = o.evaluate(o.verts.RawRowView(j))
	}
	o.indexes()

	o.constrain(o.verts.RawRowView(o.vg))
	o.fvals[o.vg] = o.evaluate(o.verts.RawRowView(o.vg))
	o.constrain(o.verts.RawRowView(o.vh))
	o.fvals[o.vh] = o.evaluate(o.verts.RawRowView(o.vh))
}

// spread is the convergence statistic: the sample standard deviation of
// the dim+1 vertex values, i.e. sqrt(sum((f[j]-mean)^2)/dim).
func (o *Optimizer) spread() float64 {
	return stat.StdDev(o.fvals, nil)
}

// Run executes one full minimization starting from start, stopping when
// the spread of vertex values falls below tolerance or after the
// configured maximum number of iterations. scale sets the characteristic
// size of the initial simplex.
//
// Run blocks until it finishes and is deterministic for identical inputs,
// configuration and callback behavior. Hitting the iteration cap is not an
// error; callers can tell exhaustion from convergence by comparing
// Result.Iterations against the configured maximum.
func (o *Optimizer) Run(start []float64, tolerance, scale float64) *optimization.Result {
	o.initialize(start, scale)

	// The starting point is not trusted to satisfy the constraints, so
	// every vertex is clamped before its first evaluation.
	for j := 0; j <= o.dim; j++ {
		o.constrain(o.verts.RawRowView(j))
	}
	for j := 0; j <= o.dim; j++ {
		o.fvals[j] = o.evaluate(o.verts.RawRowView(j))
	}

	o.logger.Debug("starting simplex run",
		zap.Int("dim", o.dim),
		zap.Float64("tolerance", tolerance),
		zap.Float64("scale", scale),
		zap.Int("max_iterations", o.maxIterations),
	)

	iterations := 0
	for iterations < o.maxIterations {
		iterations++

		o.indexes()
		o.centroid()

		// Reflect the worst vertex through the centroid.
		worst := o.verts.RawRowView(o.vg)
		for j := 0; j < o.dim; j++ {
			o.vr[j] = o.vm[j] + o.reflection*(o.vm[j]-worst[j])
		}
		o.constrain(o.vr)
		fr := o.evaluate(o.vr)

		switch {
		case fr >= o.fvals[o.vs] && fr < o.fvals[o.vh]:
			o.accept(o.vr, fr)

		case fr < o.fvals[o.vs]:
			// The reflection beat the current best vertex; try a
			// further step in the same direction and keep whichever
			// of the two is better.
			for j := 0; j < o.dim; j++ {
				o.ve[j] = o.vm[j] + o.expansion*(o.vr[j]-o.vm[j])
			}
			o.constrain(o.ve)
			fe := o.evaluate(o.ve)
			if fe < fr {
				o.accept(o.ve, fe)
			} else {
				o.accept(o.vr, fr)
			}

		default:
			// fr >= f[vh]: the reflection is no better than the
			// second-worst vertex, so contract.
			if fr < o.fvals[o.vg] {
				// Outside contraction, between centroid and reflection.
				for j := 0; j < o.dim; j++ {
					o.vc[j] = o.vm[j] + o.contraction*(o.vr[j]-o.vm[j])
				}
			} else {
				// Inside contraction, between centroid and worst vertex.
				for j := 0; j < o.dim; j++ {
					o.vc[j] = o.vm[j] - o.contraction*(o.vm[j]-worst[j])
				}
			}
			o.constrain(o.vc)
			fc := o.evaluate(o.vc)
			if fc < o.fvals[o.vg] {
				o.accept(o.vc, fc)
			} else {
				o.shrink()
			}
		}

		if o.spread() < tolerance {
			break
		}
	}

	o.indexes()
	best := o.verts.RawRowView(o.vs)

	// Report the minimum from a fresh evaluation at the winning vertex.
	// This call is counted like any other.
	o.last.Iterations = iterations
	o.last.Min = o.evaluate(best)
	o.last.Evaluations = o.evals
	if o.last.X == nil {
		o.last.X = make([]float64, o.dim)
	}
	copy(o.last.X, best)
	o.hasLast = true

	o.logger.Debug("simplex run finished",
		zap.Int("iterations", o.last.Iterations),
		zap.Int("evaluations", o.last.Evaluations),
		zap.Float64("min", o.last.Min),
	)

	return &o.last
}
