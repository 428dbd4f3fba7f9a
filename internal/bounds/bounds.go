// Package bounds implements the pluggable leaf-value bound-estimator family
// of spec.md §4.3: Constant, Function, full/partially-observable rollout and
// value estimators, and the semi-PO rollout. Each "Solved" estimator caches
// whatever policy, RNG and scratch buffers it needs for its lifetime (one
// planner construction), matching the teacher's "solved" scorer idiom
// (internal/ai.BatchBoardScorerWrapper and friends adapting a narrow
// interface into the one the searcher actually calls).
package bounds

import (
	"math/rand"

	"github.com/janpfeifer/despot/internal/model"
	"gonum.org/v1/gonum/floats"
)

// Estimator evaluates the leaf value of a single belief, given as a
// (particles, weights) pair at tree depth depth, bounded by maxDepth.
type Estimator[S, A, O comparable] interface {
	Bound(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int) float32
}

// BatchEstimator is the optional vectorized form (spec.md §4.3/§6): it
// evaluates several sibling beliefs that share the same particle set P but
// differ in weight vector W[i] and incoming observation obs[i]. V is filled
// in place (len(V) == len(W) == len(obs)) and must have been cleared by the
// caller. Only Constant and the estimators whose per-particle value depends
// on state alone (FORollout, FOValue) implement this; PO-conditioned
// estimators do not, and
// callers fall back to calling Bound once per sibling.
type BatchEstimator[S, A, O comparable] interface {
	Estimator[S, A, O]
	BoundBatch(V []float32, pomdp model.POMDP[S, A, O], particles []S, W [][]float32, obs []O, depth, maxDepth int)
}

// Constant always returns a fixed value, e.g. a known min/max return bound.
type Constant[S, A, O comparable] struct {
	Value float32
}

func (c Constant[S, A, O]) Bound(model.POMDP[S, A, O], []S, []float32, int, int) float32 {
	return c.Value
}

func (c Constant[S, A, O]) BoundBatch(V []float32, _ model.POMDP[S, A, O], _ []S, W [][]float32, _ []O, _, _ int) {
	for i := range W {
		V[i] = c.Value
	}
}

var (
	_ BatchEstimator[int, int, int] = Constant[int, int, int]{}
)

// Function evaluates a user-supplied callback f(pomdp, particles, weights).
type Function[S, A, O comparable] struct {
	F func(pomdp model.POMDP[S, A, O], particles []S, weights []float32) float32
}

func (fn Function[S, A, O]) Bound(pomdp model.POMDP[S, A, O], particles []S, weights []float32, _, _ int) float32 {
	return fn.F(pomdp, particles, weights)
}

var _ Estimator[int, int, int] = Function[int, int, int]{}

// weightedMean returns sum(weights[i]*values[i]) / sum(weights), or 0 if the
// weight sum is non-positive (spec.md's "denominator-zero paths collapse to
// zero bounds by convention"). The reduction itself is gonum's, not
// hand-rolled: values/weights are float32 throughout (the float32 convention
// the rest of this package follows) so they're widened once into scratch
// float64 buffers for floats.Dot/floats.Sum.
func weightedMean(values, weights []float32) float32 {
	den64 := widenInto(scratchDen(len(weights)), weights)
	den := floats.Sum(den64)
	if den <= 0 {
		return 0
	}
	num64 := widenInto(scratchNum(len(values)), values)
	num := floats.Dot(num64, den64)
	return float32(num / den)
}

// scratchNum/scratchDen avoid a fresh allocation on every weightedMean call;
// each goroutine-free estimator call path reuses the same package-level
// buffer, which is safe because the planner drives bound evaluation from a
// single goroutine per Solver.
var (
	scratchNumBuf []float64
	scratchDenBuf []float64
)

func scratchNum(n int) []float64 {
	if cap(scratchNumBuf) < n {
		scratchNumBuf = make([]float64, n)
	}
	return scratchNumBuf[:n]
}

func scratchDen(n int) []float64 {
	if cap(scratchDenBuf) < n {
		scratchDenBuf = make([]float64, n)
	}
	return scratchDenBuf[:n]
}

func widenInto(dst []float64, src []float32) []float64 {
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

// rngOrNew returns rng if non-nil, else a fresh default source. Estimators
// always thread the planner's single RNG explicitly (SPEC_FULL.md ambient
// stack: "no global RNG"); this is only a defensive fallback for tests that
// construct an estimator directly.
func rngOrNew(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(1))
}
