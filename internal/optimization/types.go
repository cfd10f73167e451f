// Package optimization defines the shared contracts between the
// optimization algorithms and the code that drives them.
package optimization

// ObjectiveFunc maps a point in variable space to the scalar value being
// minimized. Implementations are expected to be total: they must return a
// finite value for every point they are handed and must not panic. They
// should also be deterministic if reproducible results matter; nothing
// here enforces that.
type ObjectiveFunc func(x []float64) float64

// ConstraintFunc clamps or projects a candidate point in place so that it
// satisfies caller-defined feasibility, e.g. a coordinate box. A nil
// ConstraintFunc means the identity transform.
type ConstraintFunc func(x []float64)

// Result holds the outcome of the most recent optimizer run.
type Result struct {
	// Iterations actually performed. Equal to the configured maximum
	// when the run stopped without converging.
	Iterations int `json:"iterations"`

	// Evaluations is the total number of objective calls made during
	// the run, including the final re-evaluation at the best vertex.
	Evaluations int `json:"evaluations"`

	// Min is the objective value at X.
	Min float64 `json:"min"`

	// X holds the coordinates of the best point found.
	X []float64 `json:"x"`
}

// Optimizer is implemented by minimization algorithms that refine a
// starting point into a local minimum.
type Optimizer interface {
	// Run executes one full optimization from start and returns the
	// result. The returned Result is owned by the optimizer and stays
	// valid until the next Run call.
	Run(start []float64, tolerance, scale float64) *Result

	// LastResult returns the result of the most recent Run, or nil if
	// no run has completed yet.
	LastResult() *Result
}
