package bounds

import (
	"math/rand"

	"github.com/janpfeifer/despot/internal/model"
)

// semiPOScratchLevel holds the per-depth scratch for SolvedSemiPORollout: an
// observation-to-group-index map and the per-observation state/weight lists
// it indexes into. Reused across calls at the same recursion depth to avoid
// reallocating on every expansion (spec.md §4.3 / design notes).
type semiPOScratchLevel[S, O comparable] struct {
	index   map[O]int
	states  [][]S
	weights [][]float32
	obs     []O
}

func (lvl *semiPOScratchLevel[S, O]) reset() {
	if lvl.index == nil {
		lvl.index = make(map[O]int)
	} else {
		clear(lvl.index)
	}
	lvl.states = lvl.states[:0]
	lvl.weights = lvl.weights[:0]
	lvl.obs = lvl.obs[:0]
}

// group appends (s, w) to the bucket for o, creating one if needed.
func (lvl *semiPOScratchLevel[S, O]) group(o O, s S, w float32) {
	idx, ok := lvl.index[o]
	if !ok {
		idx = len(lvl.states)
		lvl.index[o] = idx
		lvl.states = append(lvl.states, nil)
		lvl.weights = append(lvl.weights, nil)
		lvl.obs = append(lvl.obs, o)
	}
	lvl.states[idx] = append(lvl.states[idx], s)
	lvl.weights[idx] = append(lvl.weights[idx], w)
}

// SolvedSemiPORollout implements spec.md §4.3's semi-PO rollout: a
// recursive, bounded-depth simulation that at each step picks one action by
// the policy, groups sampled next-observations, and recurses into each
// group weighted by its summed probability mass; single-particle groups
// fall through to a cheap single-path (FO-style) rollout instead of
// recursing further.
type SolvedSemiPORollout[S, A, O comparable] struct {
	Policy BeliefPolicy[S, A]
	Rng    *rand.Rand

	levels []semiPOScratchLevel[S, O] // indexed by recursion depth
}

func NewSolvedSemiPORollout[S, A, O comparable](policy BeliefPolicy[S, A], rng *rand.Rand) *SolvedSemiPORollout[S, A, O] {
	return &SolvedSemiPORollout[S, A, O]{Policy: policy, Rng: rngOrNew(rng)}
}

func (r *SolvedSemiPORollout[S, A, O]) levelAt(depth int) *semiPOScratchLevel[S, O] {
	for len(r.levels) <= depth {
		r.levels = append(r.levels, semiPOScratchLevel[S, O]{})
	}
	lvl := &r.levels[depth]
	lvl.reset()
	return lvl
}

// singlePathRollout is the cheap fallback for single-particle groups and for
// beliefs that have hit maxDepth: a plain policy-driven simulation from one
// representative state with no further branching.
func (r *SolvedSemiPORollout[S, A, O]) singlePathRollout(pomdp model.POMDP[S, A, O], s S, steps int) float32 {
	if pomdp.IsTerminal(s) {
		return 0
	}
	gamma := pomdp.Discount()
	cur := s
	var total float32
	discount := float32(1)
	for i := 0; i < steps; i++ {
		if pomdp.IsTerminal(cur) {
			break
		}
		a := r.Policy.Action([]S{cur}, []float32{1}, r.Rng)
		next, _, reward := pomdp.Step(cur, a, r.Rng)
		total += discount * reward
		discount *= gamma
		cur = next
	}
	return total
}

// Bound runs the recursive semi-PO rollout from the belief (particles,
// weights) at the given tree depth down to maxDepth, satisfying the
// Estimator interface. Use BoundWithLeafCount to also recover the number of
// single-path leaves the recursion bottomed out at.
func (r *SolvedSemiPORollout[S, A, O]) Bound(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int) float32 {
	v, _ := r.BoundWithLeafCount(pomdp, particles, weights, depth, maxDepth)
	return v
}

// BoundWithLeafCount is Bound plus the count of single-path leaves the
// recursion reached (the out-parameter counter called for by spec.md's
// open-question resolution, replacing the original's shared mutable
// leaf_ind).
func (r *SolvedSemiPORollout[S, A, O]) BoundWithLeafCount(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int) (value float32, leafCount int) {
	count := new(int)
	value = r.recurse(pomdp, particles, weights, depth, maxDepth, count)
	return value, *count
}

func (r *SolvedSemiPORollout[S, A, O]) recurse(pomdp model.POMDP[S, A, O], particles []S, weights []float32, depth, maxDepth int, leafCount *int) float32 {
	sum := weightedSum(weights)
	if sum <= 0 {
		return 0
	}
	if depth >= maxDepth || len(particles) == 1 {
		*leafCount++
		// Representative particle: the highest-weight one.
		best := 0
		for i, w := range weights {
			if w > weights[best] {
				best = i
			}
		}
		return r.singlePathRollout(pomdp, particles[best], maxDepth-depth)
	}

	a := r.Policy.Action(particles, weights, r.Rng)
	lvl := r.levelAt(depth)
	var rsum float32
	for i, s := range particles {
		w := weights[i]
		if w <= 0 {
			continue
		}
		next, o, reward := pomdp.Step(s, a, r.Rng)
		rsum += w * reward
		lvl.group(o, next, w)
	}
	rbar := rsum / sum
	gamma := pomdp.Discount()

	var future float32
	for gi, obsStates := range lvl.states {
		groupWeights := lvl.weights[gi]
		groupSum := weightedSum(groupWeights)
		if groupSum <= 0 {
			continue
		}
		prob := groupSum / sum
		var groupValue float32
		if len(obsStates) == 1 {
			*leafCount++
			groupValue = r.singlePathRollout(pomdp, obsStates[0], maxDepth-depth-1)
		} else {
			groupValue = r.recurse(pomdp, obsStates, groupWeights, depth+1, maxDepth, leafCount)
		}
		future += prob * groupValue
	}
	return rbar + gamma*future
}

func weightedSum(weights []float32) float32 {
	var sum float32
	for _, w := range weights {
		sum += w
	}
	return sum
}

var _ Estimator[int, int, int] = (*SolvedSemiPORollout[int, int, int])(nil)
