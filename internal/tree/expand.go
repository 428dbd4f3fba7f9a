package tree

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/janpfeifer/despot/internal/belief"
	"github.com/janpfeifer/despot/internal/bounds"
	"github.com/janpfeifer/despot/internal/grid"
	"github.com/janpfeifer/despot/internal/model"
)

// ExpandConfig carries the solver knobs the expansion pipeline needs from
// spec.md §6 (a subset of despot.SolverConfig, passed down rather than
// imported wholesale to keep this package independent of the solver).
type ExpandConfig struct {
	MMin, MMax int
	Delta      float32 // L1 packing radius
	DeffThresh float32 // design-effect threshold for in-tree resampling
	MaxDepth   int
}

// Scratch holds the buffers reused across repeated Expand calls (spec.md
// §5: "All scratch is cleared... at the start of each ba-node expansion").
// Buffers whose contents must outlive the call (a ba-node's Particles, a
// b-node's Weights) are never drawn from Scratch: those are owned by the
// tree once appended.
type Scratch[S, A, O comparable] struct {
	zeroedWeights   []float32
	resampledStates []S

	rawIndex  map[O]int
	rawKeys   []O
	rawWeight []float32

	packed []packedBucket[O]
}

type packedBucket[O comparable] struct {
	obs       O
	weightSum float32
	wPartial  []float32 // raw (unnormalized), first mMinEntries
	wNorm     []float32 // L1-normalized form of wPartial, used only for comparisons
	wFull     []float32 // completed to the full particle count
}

// NewScratch allocates an expansion scratch buffer set.
func NewScratch[S, A, O comparable]() *Scratch[S, A, O] {
	return &Scratch[S, A, O]{rawIndex: make(map[O]int)}
}

func (sc *Scratch[S, A, O]) resetRaw() {
	clear(sc.rawIndex)
	sc.rawKeys = sc.rawKeys[:0]
	sc.rawWeight = sc.rawWeight[:0]
	sc.packed = sc.packed[:0]
}

// Expand implements spec.md §4.4: resample -> propagate -> observation
// packing -> bound initialization for leaf belief node h. It returns the
// (Δl, Δu) that the despot solver's backup applies to h and propagates toward the root;
// Expand itself never mutates h's own bounds.
func Expand[S, A, O comparable](
	t *Tree[S, A, O],
	h BHandle,
	pomdp model.POMDP[S, A, O],
	ind *bounds.Independent[S, A, O],
	g *grid.AdaptiveSampler[S],
	cfg ExpandConfig,
	scratch *Scratch[S, A, O],
	rng *rand.Rand,
) (deltaL, deltaU float32) {
	bn := t.B(h)
	depth := bn.Depth

	particles, weights, wSum := materializeBelief(t, h, pomdp, g, cfg, scratch, rng)
	if wSum <= 0 {
		// Dead leaf: collapse this subtree's bound to zero (spec.md §4.4
		// step 1 / §7 "zero-weight beliefs").
		return -bn.L, -bn.U
	}

	actionsBelief := belief.NewRootView[S, O](particles, weights, wSum)
	actions := pomdp.Actions(actionsBelief)
	gamma := pomdp.Discount()

	baStart := BAHandle(len(t.BANodes))
	bestL := math32.Inf(-1)
	bestU := math32.Inf(-1)
	for _, a := range actions {
		_, baL, baU := expandAction(t, h, depth, particles, weights, wSum, a, pomdp, ind, gamma, cfg, scratch, rng)
		if baL > bestL {
			bestL = baL
		}
		if baU > bestU {
			bestU = baU
		}
	}
	bn = t.B(h) // re-fetch: NewBNode calls inside expandAction may have reallocated the backing array
	bn.ChildStart = baStart
	bn.ChildCount = len(actions)

	deltaL = bestL - bn.L
	deltaU = bestU - bn.U
	return
}

// materializeBelief implements spec.md §4.4 step 1.
func materializeBelief[S, A, O comparable](
	t *Tree[S, A, O],
	h BHandle,
	pomdp model.POMDP[S, A, O],
	g *grid.AdaptiveSampler[S],
	cfg ExpandConfig,
	scratch *Scratch[S, A, O],
	rng *rand.Rand,
) (particles []S, weights []float32, wSum float32) {
	if t.IsRoot(h) {
		particles = t.RootParticles
		weights = t.B(h).Weights
		return particles, weights, sumF32(weights)
	}

	bn := t.B(h)
	srcParticles := t.BA(bn.ParentBA).Particles
	srcWeights := bn.Weights

	scratch.zeroedWeights = ensureLenF32(scratch.zeroedWeights, len(srcWeights))
	copy(scratch.zeroedWeights, srcWeights)
	for i, s := range srcParticles {
		if pomdp.IsTerminal(s) {
			scratch.zeroedWeights[i] = 0
		}
	}
	sum := sumF32(scratch.zeroedWeights)
	if sum <= 0 {
		return srcParticles, scratch.zeroedWeights, 0
	}

	ess := essOf(scratch.zeroedWeights)
	deff := float32(len(srcParticles)) / ess
	if deff <= cfg.DeffThresh {
		return srcParticles, scratch.zeroedWeights, sum
	}

	m := cfg.MMax
	if g != nil && !g.Disabled() {
		m = g.TargetForBelief(srcParticles)
	}
	if m < 1 {
		m = 1
	}
	scratch.resampledStates = belief.StratifiedResample(srcParticles, scratch.zeroedWeights, sum, m, rng, nil)
	weights = make([]float32, m)
	each := sum / float32(m)
	for i := range weights {
		weights[i] = each
	}
	return scratch.resampledStates, weights, sum
}

func expandAction[S, A, O comparable](
	t *Tree[S, A, O],
	parent BHandle,
	depth int,
	particles []S,
	weights []float32,
	wSum float32,
	a A,
	pomdp model.POMDP[S, A, O],
	ind *bounds.Independent[S, A, O],
	gamma float32,
	cfg ExpandConfig,
	scratch *Scratch[S, A, O],
	rng *rand.Rand,
) (baHandle BAHandle, baL, baU float32) {
	scratch.resetRaw()

	P := make([]S, 0, len(particles))
	var rsum float32
	for i, s := range particles {
		w := weights[i]
		if w <= 0 || pomdp.IsTerminal(s) {
			P = append(P, s)
			continue
		}
		sNext, o, r := pomdp.Step(s, a, rng)
		rsum += w * r
		P = append(P, sNext)
		idx, ok := scratch.rawIndex[o]
		if !ok {
			idx = len(scratch.rawKeys)
			scratch.rawIndex[o] = idx
			scratch.rawKeys = append(scratch.rawKeys, o)
			scratch.rawWeight = append(scratch.rawWeight, 0)
		}
		scratch.rawWeight[idx] += w
	}
	rBar := float32(0)
	if wSum > 0 {
		rBar = rsum / wSum
	}

	mMinEntries := cfg.MMin
	if mMinEntries > len(P) {
		mMinEntries = len(P)
	}

	for idx, o := range scratch.rawKeys {
		wPartial := make([]float32, mMinEntries)
		var sumPartial float32
		for i := 0; i < mMinEntries; i++ {
			wPartial[i] = weights[i] * pomdp.ObservationProbability(a, P[i], o)
			sumPartial += wPartial[i]
		}
		wNorm := make([]float32, mMinEntries)
		if sumPartial > 0 {
			for i, wp := range wPartial {
				wNorm[i] = wp / sumPartial
			}
		}

		merged := false
		for bi := range scratch.packed {
			if l1Distance(wNorm, scratch.packed[bi].wNorm) <= cfg.Delta {
				scratch.packed[bi].weightSum += scratch.rawWeight[idx]
				merged = true
				break
			}
		}
		if !merged {
			scratch.packed = append(scratch.packed, packedBucket[O]{
				obs:       o,
				weightSum: scratch.rawWeight[idx],
				wPartial:  wPartial,
				wNorm:     wNorm,
			})
		}
	}

	totalPacked := float32(0)
	for bi := range scratch.packed {
		bucket := &scratch.packed[bi]
		full := make([]float32, len(P))
		copy(full, bucket.wPartial)
		for i := mMinEntries; i < len(P); i++ {
			full[i] = weights[i] * pomdp.ObservationProbability(a, P[i], bucket.obs)
		}
		bucket.wFull = full
		totalPacked += bucket.weightSum
	}

	W := make([][]float32, len(scratch.packed))
	obsList := make([]O, len(scratch.packed))
	for bi, bucket := range scratch.packed {
		W[bi] = bucket.wFull
		obsList[bi] = bucket.obs
	}
	L, U := ind.EvaluateBatch(pomdp, P, W, obsList, depth+1, cfg.MaxDepth)

	baHandle = t.NewBANode(BANode[A, S]{Action: a, ParentB: parent, RBar: rBar, Particles: P})
	childStart := BHandle(len(t.BNodes))
	for bi, bucket := range scratch.packed {
		pc := float32(1) / float32(len(scratch.packed))
		if totalPacked > 0 {
			pc = bucket.weightSum / totalPacked
		}
		child := t.NewBNode(BNode[S]{Depth: depth + 1, ParentBA: baHandle, ReachProb: pc, Weights: bucket.wFull, L: L[bi], U: U[bi]})
		t.SetObs(child, bucket.obs)
		baL += pc * L[bi]
		baU += pc * U[bi]
	}
	baL = rBar + gamma*baL
	baU = rBar + gamma*baU

	ban := t.BA(baHandle)
	ban.ChildStart = childStart
	ban.ChildCount = len(scratch.packed)
	ban.L = baL
	ban.U = baU
	return
}

func l1Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += math32.Abs(a[i] - b[i])
	}
	return sum
}

func sumF32(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x
	}
	return s
}

func essOf(weights []float32) float32 {
	var sum, sumSq float32
	for _, w := range weights {
		sum += w
		sumSq += w * w
	}
	if sumSq == 0 {
		return 0
	}
	return sum * sum / sumSq
}

func ensureLenF32(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
