// Package pomdps provides small reference POMDP models (Tiger, Baby,
// LightDark1D) used to exercise and test the planner end to end (spec.md
// §8's literal scenarios), plus the heuristic policies the bound estimators
// need as rollout drivers.
package pomdps

import (
	"math/rand"

	"github.com/janpfeifer/despot/internal/model"
)

// TigerState is the hidden tiger location.
type TigerState int

const (
	TigerLeft TigerState = iota
	TigerRight
)

// TigerAction is one of the three classic tiger actions.
type TigerAction int

const (
	Listen TigerAction = iota
	OpenLeft
	OpenRight
)

func (a TigerAction) String() string {
	switch a {
	case Listen:
		return "listen"
	case OpenLeft:
		return "open-left"
	case OpenRight:
		return "open-right"
	default:
		return "unknown"
	}
}

// TigerObs is the noisy growl direction.
type TigerObs int

const (
	HearLeft TigerObs = iota
	HearRight
)

// TigerPOMDP is the classic two-state, three-action tiger problem: listening
// gives a noisy cue toward the tiger's location; opening the correct door
// pays off, the wrong door costs heavily, and either reveal resets the
// tiger's position uniformly at random.
type TigerPOMDP struct {
	// CorrectObsProb is P(hear correctly | listen), 0.85 in the textbook
	// formulation.
	CorrectObsProb float32
	ListenCost     float32
	OpenCorrect    float32
	OpenWrong      float32
	Gamma          float32
}

// NewTigerPOMDP returns the textbook-parameterized tiger problem.
func NewTigerPOMDP() *TigerPOMDP {
	return &TigerPOMDP{CorrectObsProb: 0.85, ListenCost: -1, OpenCorrect: 10, OpenWrong: -100, Gamma: 0.95}
}

func (t *TigerPOMDP) Actions(model.Belief[TigerState]) []TigerAction {
	return []TigerAction{Listen, OpenLeft, OpenRight}
}

func (t *TigerPOMDP) obsProb(s TigerState, o TigerObs) float32 {
	correct := (s == TigerLeft && o == HearLeft) || (s == TigerRight && o == HearRight)
	if correct {
		return t.CorrectObsProb
	}
	return 1 - t.CorrectObsProb
}

func (t *TigerPOMDP) sampleObs(s TigerState, rng *rand.Rand) TigerObs {
	if rng.Float32() < t.CorrectObsProb {
		if s == TigerLeft {
			return HearLeft
		}
		return HearRight
	}
	if s == TigerLeft {
		return HearRight
	}
	return HearLeft
}

func (t *TigerPOMDP) Step(s TigerState, a TigerAction, rng *rand.Rand) (TigerState, TigerObs, float32) {
	switch a {
	case Listen:
		return s, t.sampleObs(s, rng), t.ListenCost
	case OpenLeft, OpenRight:
		var r float32
		opened := OpenLeft
		if a == OpenRight {
			opened = OpenRight
		}
		tigerBehindOpened := (opened == OpenLeft && s == TigerLeft) || (opened == OpenRight && s == TigerRight)
		if tigerBehindOpened {
			r = t.OpenWrong
		} else {
			r = t.OpenCorrect
		}
		sNext := TigerLeft
		if rng.Float32() < 0.5 {
			sNext = TigerRight
		}
		return sNext, t.sampleObs(sNext, rng), r
	default:
		return s, HearLeft, 0
	}
}

func (t *TigerPOMDP) ObservationProbability(_ TigerAction, sNext TigerState, o TigerObs) float32 {
	return t.obsProb(sNext, o)
}

func (t *TigerPOMDP) IsTerminal(TigerState) bool { return false }

func (t *TigerPOMDP) Discount() float32 { return t.Gamma }

func (t *TigerPOMDP) InitialState(rng *rand.Rand) TigerState {
	if rng.Float32() < 0.5 {
		return TigerLeft
	}
	return TigerRight
}

// TigerOraclePolicy is a full-observability policy that always opens the
// door the tiger isn't behind; used to drive the FO-rollout lower bound.
type TigerOraclePolicy struct{}

func (TigerOraclePolicy) Action(s TigerState, _ *rand.Rand) TigerAction {
	if s == TigerLeft {
		return OpenRight
	}
	return OpenLeft
}

var _ model.Policy[TigerState, TigerAction] = TigerOraclePolicy{}
var _ model.POMDP[TigerState, TigerAction, TigerObs] = (*TigerPOMDP)(nil)
