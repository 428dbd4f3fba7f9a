package bounds

import (
	"math/rand"

	"github.com/janpfeifer/despot/internal/model"
)

// MDPValueFn evaluates a state-value function over the full-observability
// (underlying MDP) state space, e.g. a pre-trained critic.
type MDPValueFn[S comparable] interface {
	Value(s S) float32
}

// BeliefValueFn evaluates a value function directly over a belief, used by
// SolvedPOValue.
type BeliefValueFn[S comparable] interface {
	Value(particles []S, weights []float32) float32
}

// BeliefPolicy selects an action from a belief, used by PO-rollout and
// semi-PO-rollout estimators.
type BeliefPolicy[S, A comparable] interface {
	Action(particles []S, weights []float32, rng *rand.Rand) A
}

// SolvedFORollout estimates E[V] by simulating the underlying MDP from each
// particle for maxDepth-depth steps with a supplied policy and RNG,
// returning the weighted mean over particles (spec.md §4.3). The value
// scratch buffer is sized to mMax once and reused across calls.
type SolvedFORollout[S, A, O comparable] struct {
	Policy model.Policy[S, A]
	Rng    *rand.Rand

	scratch []float32 // reused across Bound/BoundBatch calls, sized to mMax
}

// NewSolvedFORollout constructs a rollout estimator with a scratch buffer
// pre-sized to mMax particles (spec.md §4.3's "reusable value-scratch
// buffer sized to m_max").
func NewSolvedFORollout[S, A, O comparable](policy model.Policy[S, A], rng *rand.Rand, mMax int) *SolvedFORollout[S, A, O] {
	return &SolvedFORollout[S, A, O]{Policy: policy, Rng: rngOrNew(rng), scratch: make([]float32, 0, mMax)}
}

func (r *SolvedFORollout[S, A, O]) simulate(pomdp model.POMDP[S, A, O], s S, steps int) float32 {
	if pomdp.IsTerminal(s) {
		return 0
	}
	gamma := pomdp.Discount()
	var total float32
	discount := float32(1)
	cur := s
	for i := 0; i < steps; i++ {
		if pomdp.IsTerminal(cur) {
			break
		}
		a := r.Policy.Action(cur, r.Rng)
		next, _, reward := pomdp.Step(cur, a, r.Rng)
		total += discount * reward
		discount *= gamma
		cur = next
	}
	return total
}

func (r *SolvedFORollout[S, A, O]) perParticleValues(pomdp model.POMDP[S, A, O], particles []S, depth, maxDepth int) []float32 {
	steps := maxDepth - depth
	if cap(r.scratch) < len(particles) {
		r.scratch = make([]float32, len(particles))
	}
	r.scratch = r.scratch[:len(particles)]
	for i, s := range particles {
		r.scratch[i] = r.simulate(pomdp, s, steps)
	}
	return r.scratch
}

func (r *SolvedFORollout[S, A, O]) Bound(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int) float32 {
	values := r.perParticleValues(pomdp, particles, depth, maxDepth)
	return weightedMean(values, weights)
}

// BoundBatch exploits that the per-particle rollout value depends only on
// the (shared) state, not on the sibling-specific weight vector: it is
// computed once per particle and reduced against each sibling's weights in
// a single inner pass (spec.md §4.3's vectorized-form rationale).
func (r *SolvedFORollout[S, A, O]) BoundBatch(V []float32, pomdp model.POMDP[S, A, O], particles []S, W [][]float32, _ []O, depth, maxDepth int) {
	values := r.perParticleValues(pomdp, particles, depth, maxDepth)
	for i, w := range W {
		V[i] = weightedMean(values, w)
	}
}

var _ BatchEstimator[int, int, int] = (*SolvedFORollout[int, int, int])(nil)

// SolvedFOValue is the weighted mean of value(policy, s) over particles.
type SolvedFOValue[S, A, O comparable] struct {
	ValueFn MDPValueFn[S]
	scratch []float32
}

func NewSolvedFOValue[S, A, O comparable](valueFn MDPValueFn[S], mMax int) *SolvedFOValue[S, A, O] {
	return &SolvedFOValue[S, A, O]{ValueFn: valueFn, scratch: make([]float32, 0, mMax)}
}

func (v *SolvedFOValue[S, A, O]) perParticleValues(particles []S) []float32 {
	if cap(v.scratch) < len(particles) {
		v.scratch = make([]float32, len(particles))
	}
	v.scratch = v.scratch[:len(particles)]
	for i, s := range particles {
		v.scratch[i] = v.ValueFn.Value(s)
	}
	return v.scratch
}

func (v *SolvedFOValue[S, A, O]) Bound(_ model.POMDP[S, A, O], particles []S, weights []float32, _, _ int) float32 {
	return weightedMean(v.perParticleValues(particles), weights)
}

func (v *SolvedFOValue[S, A, O]) BoundBatch(V []float32, _ model.POMDP[S, A, O], particles []S, W [][]float32, _ []O, _, _ int) {
	values := v.perParticleValues(particles)
	for i, w := range W {
		V[i] = weightedMean(values, w)
	}
}

var _ BatchEstimator[int, int, int] = (*SolvedFOValue[int, int, int])(nil)

// SolvedPORollout simulates the POMDP (not just the underlying MDP) with a
// supplied belief-policy and belief-updater from each particle, returning
// the weighted mean of the obtained (discounted) returns. Unlike the FO
// estimators, its per-particle value depends on the belief trajectory, not
// just the state, so no batch form is offered (spec.md §4.3).
type SolvedPORollout[S, A, O comparable] struct {
	Policy  BeliefPolicy[S, A]
	Updater model.BeliefUpdater[S, A, O]
	Rng     *rand.Rand
}

func NewSolvedPORollout[S, A, O comparable](policy BeliefPolicy[S, A], updater model.BeliefUpdater[S, A, O], rng *rand.Rand) *SolvedPORollout[S, A, O] {
	return &SolvedPORollout[S, A, O]{Policy: policy, Updater: updater, Rng: rngOrNew(rng)}
}

// pointBelief is a trivial single-particle model.Belief used to seed each
// per-particle POMDP rollout at its starting state.
type pointBelief[S comparable] struct{ s S }

func (p pointBelief[S]) NParticles() int   { return 1 }
func (p pointBelief[S]) Particle(int) S    { return p.s }
func (p pointBelief[S]) Weight(int) float32 { return 1 }

func (r *SolvedPORollout[S, A, O]) simulate(pomdp model.POMDP[S, A, O], s S, steps int) float32 {
	if pomdp.IsTerminal(s) {
		return 0
	}
	gamma := pomdp.Discount()
	var b model.Belief[S] = pointBelief[S]{s}
	cur := s
	var total float32
	discount := float32(1)
	particles := make([]S, 0, 1)
	weights := make([]float32, 0, 1)
	for i := 0; i < steps; i++ {
		if pomdp.IsTerminal(cur) {
			break
		}
		particles = particles[:0]
		weights = weights[:0]
		for p := 0; p < b.NParticles(); p++ {
			particles = append(particles, b.Particle(p))
			weights = append(weights, b.Weight(p))
		}
		a := r.Policy.Action(particles, weights, r.Rng)
		next, o, reward := pomdp.Step(cur, a, r.Rng)
		total += discount * reward
		discount *= gamma
		nb, err := r.Updater.Update(pomdp, b, a, o, r.Rng)
		if err != nil {
			break
		}
		b = nb
		cur = next
	}
	return total
}

func (r *SolvedPORollout[S, A, O]) Bound(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int) float32 {
	steps := maxDepth - depth
	values := make([]float32, len(particles))
	for i, s := range particles {
		values[i] = r.simulate(pomdp, s, steps)
	}
	return weightedMean(values, weights)
}

var _ Estimator[int, int, int] = (*SolvedPORollout[int, int, int])(nil)

// SolvedPOValue evaluates value(policy, b) directly over the belief as a
// whole, rather than reducing per-particle values (spec.md §4.3).
type SolvedPOValue[S, A, O comparable] struct {
	ValueFn BeliefValueFn[S]
}

func NewSolvedPOValue[S, A, O comparable](valueFn BeliefValueFn[S]) *SolvedPOValue[S, A, O] {
	return &SolvedPOValue[S, A, O]{ValueFn: valueFn}
}

func (v *SolvedPOValue[S, A, O]) Bound(_ model.POMDP[S, A, O], particles []S, weights []float32, _, _ int) float32 {
	return v.ValueFn.Value(particles, weights)
}

var _ Estimator[int, int, int] = (*SolvedPOValue[int, int, int])(nil)
