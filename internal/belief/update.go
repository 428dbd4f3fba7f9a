package belief

import (
	"math/rand"

	"github.com/janpfeifer/despot/internal/model"
	"github.com/pkg/errors"
)

// BootstrapUpdater is a generic particle-filter belief updater (spec.md §1's
// "generic particle-filter belief updaters used between decision epochs"):
// each particle is advanced through the model's own generative step
// (discarding its sampled observation), reweighted by the density of the
// actually-observed o, and the resulting weighted set is reduced back to N
// particles by stratified resampling.
type BootstrapUpdater[S, A, O comparable] struct {
	N int // target particle count after resampling; <= 0 means "keep input count"
}

// Update implements model.BeliefUpdater.
func (u BootstrapUpdater[S, A, O]) Update(pomdp model.POMDP[S, A, O], b model.Belief[S], a A, o O, rng *rand.Rand) (model.Belief[S], error) {
	n := b.NParticles()
	if n == 0 {
		return nil, errors.New("cannot update an empty belief")
	}
	propagated := make([]S, n)
	weights := make([]float32, n)
	var sum float32
	for i := 0; i < n; i++ {
		s := b.Particle(i)
		w := b.Weight(i)
		if w <= 0 || pomdp.IsTerminal(s) {
			propagated[i] = s
			continue
		}
		sNext, _, _ := pomdp.Step(s, a, rng)
		propagated[i] = sNext
		weights[i] = w * pomdp.ObservationProbability(a, sNext, o)
		sum += weights[i]
	}
	if sum <= 0 {
		return nil, errors.Errorf("belief update collapsed to zero weight for observation %v", o)
	}

	m := u.N
	if m <= 0 {
		m = n
	}
	resampled := StratifiedResample(propagated, weights, sum, m, rng, nil)
	outWeights := make([]float32, m)
	each := float32(1) / float32(m)
	for i := range outWeights {
		outWeights[i] = each
	}
	return New(resampled, outWeights), nil
}

var _ model.BeliefUpdater[int, int, int] = BootstrapUpdater[int, int, int]{}
