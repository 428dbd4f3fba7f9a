// Package belief implements the weighted particle belief container described
// in spec.md §3/§4.1: an ordered sequence of states paired with a weight
// vector of equal length, plus a cached weight sum.
package belief

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Belief is a weighted particle belief over states of type S. The weight
// cache (sum) is authoritative: every mutator refreshes it, and pdf/support
// results are invalidated on mutation.
type Belief[S comparable] struct {
	particles []S
	weights   []float32
	sum       float32

	// depth is metadata carried for bound evaluation (spec.md §3, b-node
	// attributes); zero value for beliefs not tied to a tree node. The
	// incoming observation is not stored here (see View).
	depth int

	pdfCache     map[S]float32
	pdfCacheSum  float32
	supportCache []S
}

// New constructs a belief from parallel states/weights slices, computing the
// weight sum. Panics if the lengths disagree -- a programmer error, not a
// runtime condition (see SPEC_FULL.md's error-handling design: internal
// assertions, not user-facing errors).
func New[S comparable](states []S, weights []float32) *Belief[S] {
	if len(states) != len(weights) {
		panic(errors.Errorf("belief.New: %d states but %d weights", len(states), len(weights)))
	}
	b := &Belief[S]{particles: states, weights: weights}
	b.RecomputeSum()
	return b
}

// NewWithSum constructs a belief from a pre-computed weight sum, skipping the
// O(n) recomputation. Used when the caller (e.g. the expansion pipeline)
// already tracked the running sum while building the particle vector.
func NewWithSum[S comparable](states []S, weights []float32, sum float32) *Belief[S] {
	return &Belief[S]{particles: states, weights: weights, sum: sum}
}

// RecomputeSum refreshes the cached weight sum and invalidates the pdf/support
// caches. Call after any direct mutation of the weights slice.
func (b *Belief[S]) RecomputeSum() {
	var sum float32
	for _, w := range b.weights {
		sum += w
	}
	b.sum = sum
	b.pdfCache = nil
	b.supportCache = nil
}

// NParticles returns the number of (state, weight) pairs.
func (b *Belief[S]) NParticles() int { return len(b.particles) }

// Particles returns the underlying particle slice. Callers must not mutate
// it without calling RecomputeSum afterward.
func (b *Belief[S]) Particles() []S { return b.particles }

// Particle returns the i-th particle's state.
func (b *Belief[S]) Particle(i int) S { return b.particles[i] }

// Weights returns the underlying weight slice.
func (b *Belief[S]) Weights() []float32 { return b.weights }

// Weight returns the weight of the i-th particle.
func (b *Belief[S]) Weight(i int) float32 { return b.weights[i] }

// WeightSum returns the cached sum of weights.
func (b *Belief[S]) WeightSum() float32 { return b.sum }

// Depth returns the tree depth this belief is associated with, if any.
func (b *Belief[S]) Depth() int { return b.depth }

// SetDepth sets the tree depth metadata (see spec.md §3 b-node attributes).
func (b *Belief[S]) SetDepth(depth int) { b.depth = depth }

// Rand draws a state with probability proportional to its weight.
// Panics if the weight sum is non-positive -- callers must check WeightSum
// first (the zero-weight case is handled explicitly by the expansion
// pipeline per spec.md §4.4 step 1, not by this method).
func (b *Belief[S]) Rand(rng *rand.Rand) S {
	if b.sum <= 0 {
		panic(errors.New("belief.Rand: called on a belief with zero weight sum"))
	}
	target := rng.Float32() * b.sum
	var acc float32
	for i, w := range b.weights {
		acc += w
		if acc >= target {
			return b.particles[i]
		}
	}
	return b.particles[len(b.particles)-1]
}

// ensurePDFCache lazily builds the per-distinct-state cumulative weight map.
func (b *Belief[S]) ensurePDFCache() {
	if b.pdfCache != nil {
		return
	}
	b.pdfCache = make(map[S]float32, len(b.particles))
	for i, s := range b.particles {
		b.pdfCache[s] += b.weights[i]
	}
	b.pdfCacheSum = b.sum
}

// PDF returns the cumulative weight of particles equal to s divided by the
// weight sum. Computed lazily and cached until the next mutation.
func (b *Belief[S]) PDF(s S) float32 {
	if b.pdfCacheSum == 0 && b.sum == 0 {
		return 0
	}
	b.ensurePDFCache()
	if b.sum == 0 {
		return 0
	}
	return b.pdfCache[s] / b.sum
}

// Support enumerates the distinct states present in the belief (weight > 0
// particles only are meaningful, but all distinct states are returned; the
// caller is expected to consult PDF/Weight for mass).
func (b *Belief[S]) Support() []S {
	b.ensurePDFCache()
	if b.supportCache != nil {
		return b.supportCache
	}
	support := make([]S, 0, len(b.pdfCache))
	for s := range b.pdfCache {
		support = append(support, s)
	}
	b.supportCache = support
	return support
}

// Mode returns the state with the highest total weight in the belief.
func (b *Belief[S]) Mode() S {
	b.ensurePDFCache()
	var best S
	bestW := float32(-1)
	for s, w := range b.pdfCache {
		if w > bestW {
			best, bestW = s, w
		}
	}
	return best
}

// Mean returns the weighted mean of the belief's particles under the given
// projection, e.g. Mean(b, func(s int) float32 { return float32(s) }).
// Generic over the projected numeric type is unnecessary here: callers that
// need a mean over a non-scalar state space compute it themselves from
// Particles()/Weights().
func Mean[S comparable](b *Belief[S], project func(S) float32) float32 {
	if b.sum == 0 {
		return 0
	}
	var acc float32
	for i, s := range b.particles {
		acc += b.weights[i] * project(s)
	}
	return acc / b.sum
}

// EffectiveSampleSize returns ESS = (sum w)^2 / sum w^2, the design-effect
// denominator used by the in-tree resampling gate (spec.md §4.4 step 1).
func (b *Belief[S]) EffectiveSampleSize() float32 {
	var sumSq float32
	for _, w := range b.weights {
		sumSq += w * w
	}
	if sumSq == 0 {
		return 0
	}
	return b.sum * b.sum / sumSq
}

// DesignEffect returns n / ESS, clamped to be >= 1 (an ESS of 0 -- an
// all-zero-weight belief -- is not a valid input; callers must have already
// handled the zero-weight short-circuit of spec.md §4.4 step 1).
func (b *Belief[S]) DesignEffect() float32 {
	ess := b.EffectiveSampleSize()
	if ess <= 0 {
		return math32.MaxFloat32
	}
	return float32(len(b.particles)) / ess
}
