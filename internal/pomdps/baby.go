package pomdps

import (
	"math/rand"

	"github.com/janpfeifer/despot/internal/model"
)

// BabyState is whether the baby is currently hungry.
type BabyState bool

const (
	Full   BabyState = false
	Hungry BabyState = true
)

// BabyAction is feed or ignore.
type BabyAction int

const (
	Feed BabyAction = iota
	Ignore
)

func (a BabyAction) String() string {
	if a == Feed {
		return "feed"
	}
	return "ignore"
}

// BabyObs is the noisy crying signal.
type BabyObs bool

const (
	Quiet  BabyObs = false
	Crying BabyObs = true
)

// BabyPOMDP is the classic crying-baby problem: a hungry baby that isn't fed
// stays hungry and cries with high probability; feeding always satiates it
// at a cost. Per spec.md §8 scenario 2, the discount is 1 (undiscounted,
// finite-horizon use).
type BabyPOMDP struct {
	PCryWhenHungry float32
	PCryWhenFull   float32
	PBecomeHungry  float32 // probability a full baby becomes hungry if ignored
	HungryCost     float32
	FeedCost       float32
	Gamma          float32
}

// NewBabyPOMDP returns the textbook-parameterized crying baby problem.
func NewBabyPOMDP() *BabyPOMDP {
	return &BabyPOMDP{
		PCryWhenHungry: 0.9,
		PCryWhenFull:   0.1,
		PBecomeHungry:  0.1,
		HungryCost:     -10,
		FeedCost:       -5,
		Gamma:          1.0,
	}
}

func (b *BabyPOMDP) Actions(model.Belief[BabyState]) []BabyAction {
	return []BabyAction{Feed, Ignore}
}

func (b *BabyPOMDP) obsProb(s BabyState, o BabyObs) float32 {
	pCry := b.PCryWhenFull
	if s == Hungry {
		pCry = b.PCryWhenHungry
	}
	if o == Crying {
		return pCry
	}
	return 1 - pCry
}

func (b *BabyPOMDP) sampleObs(s BabyState, rng *rand.Rand) BabyObs {
	pCry := b.PCryWhenFull
	if s == Hungry {
		pCry = b.PCryWhenHungry
	}
	if rng.Float32() < pCry {
		return Crying
	}
	return Quiet
}

func (b *BabyPOMDP) Step(s BabyState, a BabyAction, rng *rand.Rand) (BabyState, BabyObs, float32) {
	var r float32
	if s == Hungry {
		r += b.HungryCost
	}
	var sNext BabyState
	switch a {
	case Feed:
		r += b.FeedCost
		sNext = Full
	case Ignore:
		if s == Hungry {
			sNext = Hungry
		} else if rng.Float32() < b.PBecomeHungry {
			sNext = Hungry
		} else {
			sNext = Full
		}
	}
	return sNext, b.sampleObs(sNext, rng), r
}

func (b *BabyPOMDP) ObservationProbability(_ BabyAction, sNext BabyState, o BabyObs) float32 {
	return b.obsProb(sNext, o)
}

func (b *BabyPOMDP) IsTerminal(BabyState) bool { return false }

func (b *BabyPOMDP) Discount() float32 { return b.Gamma }

func (b *BabyPOMDP) InitialState(rng *rand.Rand) BabyState {
	return rng.Float32() < 0.5
}

// BabyOraclePolicy feeds iff the baby is actually hungry; used to drive the
// FO-rollout lower bound.
type BabyOraclePolicy struct{}

func (BabyOraclePolicy) Action(s BabyState, _ *rand.Rand) BabyAction {
	if s == Hungry {
		return Feed
	}
	return Ignore
}

// BabyBeliefPolicy feeds iff the weighted fraction of hungry particles
// exceeds half; used to drive semi-PO and PO-rollout bound estimators and
// referenced directly by spec.md §8 scenario 3 ("fixed heuristic policy").
type BabyBeliefPolicy struct{}

func (BabyBeliefPolicy) Action(particles []BabyState, weights []float32, _ *rand.Rand) BabyAction {
	var sum, hungryMass float32
	for i, s := range particles {
		sum += weights[i]
		if s == Hungry {
			hungryMass += weights[i]
		}
	}
	if sum > 0 && hungryMass/sum > 0.5 {
		return Feed
	}
	return Ignore
}

var _ model.Policy[BabyState, BabyAction] = BabyOraclePolicy{}
var _ model.POMDP[BabyState, BabyAction, BabyObs] = (*BabyPOMDP)(nil)
