// Package model defines the narrow capability contract a POMDP must satisfy
// to be searched by the despot planner. The planner never imports a concrete
// model: it only imports this package and is handed a model.POMDP by the
// caller.
package model

import "math/rand"

// POMDP is the generative model contract required by the planner (see
// spec.md §6). S, A and O are the state, action and observation types of the
// model; they are typically small value types (comparable, so they can be
// used as map keys during observation packing and grid binning).
type POMDP[S, A, O comparable] interface {
	// Actions returns the belief-conditioned action set available at b.
	// Most models ignore b and return a fixed action set; the belief is
	// passed so models with conditional legal-action sets can use it.
	Actions(b Belief[S]) []A

	// Step is the generative model G(pomdp, s, a, rng) -> (s', o, r).
	Step(s S, a A, rng *rand.Rand) (sNext S, o O, r float32)

	// ObservationProbability returns pdf(observation(pomdp, a, sNext), o),
	// the density of observing o having taken a and landed on sNext.
	ObservationProbability(a A, sNext S, o O) float32

	// IsTerminal reports whether s is a terminal state of the underlying MDP.
	IsTerminal(s S) bool

	// Discount returns gamma in (0, 1].
	Discount() float32

	// InitialState samples a state from the initial-state distribution.
	// Callers use it to build the particle belief they hand the planner; the
	// planner itself never calls it and draws its root particles from that
	// belief.
	InitialState(rng *rand.Rand) S
}

// Belief is the minimal read-only view over a belief that model
// implementations may need to condition Actions on. internal/belief.Belief
// and internal/belief.View both satisfy it.
type Belief[S comparable] interface {
	NParticles() int
	Particle(i int) S
	Weight(i int) float32
}

// Policy is a deterministic or randomized action-selection function used by
// rollout-based bound estimators (see internal/bounds), e.g. a fixed
// heuristic policy over full-observability states.
type Policy[S, A comparable] interface {
	Action(s S, rng *rand.Rand) A
}

// BeliefUpdater advances a belief across one step, consuming a generative
// transition (a, o). Used by the partially-observable rollout/value bound
// estimators, which must walk a belief forward rather than a bare state.
type BeliefUpdater[S, A, O comparable] interface {
	Update(pomdp POMDP[S, A, O], b Belief[S], a A, o O, rng *rand.Rand) (Belief[S], error)
}
