package bounds

import (
	"math"

	"github.com/janpfeifer/despot/internal/model"
	"k8s.io/klog/v2"
)

// Independent bundles a lower and an upper bound estimator (spec.md §4.3).
type Independent[S, A, O comparable] struct {
	Lower Estimator[S, A, O]
	Upper Estimator[S, A, O]

	// ConsistencyFixThresh is the tolerance within which a harmless
	// upper < lower disagreement between independently-evaluated estimators
	// is silently corrected rather than flagged (spec.md §4.3/§7).
	ConsistencyFixThresh float32

	// Warnings, if false, silences the klog diagnostic emitted on rejected
	// NaN/Inf bounds or unresolvable l > u gaps (still returns sane values).
	Warnings bool
}

// NewIndependent constructs an Independent bound bundle.
func NewIndependent[S, A, O comparable](lower, upper Estimator[S, A, O], consistencyFixThresh float32) *Independent[S, A, O] {
	return &Independent[S, A, O]{Lower: lower, Upper: upper, ConsistencyFixThresh: consistencyFixThresh, Warnings: true}
}

// Evaluate computes (l, u) for one belief, applying the fix-up rule.
func (ind *Independent[S, A, O]) Evaluate(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int) (l, u float32) {
	l = ind.Lower.Bound(pomdp, particles, weights, depth, maxDepth)
	u = ind.Upper.Bound(pomdp, particles, weights, depth, maxDepth)
	return ind.fixup(l, u)
}

// EvaluateBatch computes (L, U) for several sibling beliefs sharing
// particles P, using the batch form when both estimators support it.
func (ind *Independent[S, A, O]) EvaluateBatch(pomdp model.POMDP[S, A, O], particles []S, W [][]float32, obs []O, depth, maxDepth int) (L, U []float32) {
	n := len(W)
	L = make([]float32, n)
	U = make([]float32, n)
	if be, ok := ind.Lower.(BatchEstimator[S, A, O]); ok {
		be.BoundBatch(L, pomdp, particles, W, obs, depth, maxDepth)
	} else {
		for i, w := range W {
			L[i] = ind.Lower.Bound(pomdp, particles, w, depth, maxDepth)
		}
	}
	if be, ok := ind.Upper.(BatchEstimator[S, A, O]); ok {
		be.BoundBatch(U, pomdp, particles, W, obs, depth, maxDepth)
	} else {
		for i, w := range W {
			U[i] = ind.Upper.Bound(pomdp, particles, w, depth, maxDepth)
		}
	}
	for i := range L {
		L[i], U[i] = ind.fixup(L[i], U[i])
	}
	return
}

// fixup implements spec.md §4.3's diagnostic/repair rule: if u < l but
// u >= l - ConsistencyFixThresh, set u = l (harmless estimator disagreement);
// otherwise emit a diagnostic. Infinite or NaN bounds are rejected (clamped
// to 0 and logged) rather than propagated.
func (ind *Independent[S, A, O]) fixup(l, u float32) (float32, float32) {
	if isBad(l) {
		ind.warn("lower bound is NaN/Inf (%v), collapsing to 0", l)
		l = 0
	}
	if isBad(u) {
		ind.warn("upper bound is NaN/Inf (%v), collapsing to 0", u)
		u = 0
	}
	if u < l {
		if u >= l-ind.ConsistencyFixThresh {
			u = l
		} else {
			ind.warn("bound estimators disagree beyond tolerance: l=%v > u=%v (consistency_fix_thresh=%v)", l, u, ind.ConsistencyFixThresh)
			u = l
		}
	}
	return l, u
}

func (ind *Independent[S, A, O]) warn(format string, args ...any) {
	if ind.Warnings {
		klog.Warningf(format, args...)
	}
}

func isBad(x float32) bool {
	f := float64(x)
	return math.IsNaN(f) || math.IsInf(f, 0)
}
