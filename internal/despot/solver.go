package despot

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/despot/internal/grid"
	"github.com/janpfeifer/despot/internal/model"
	"github.com/janpfeifer/despot/internal/tree"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stats reports what happened during the most recent BuildTree call
// (spec.md §6, "info carries the per-trial depth sequence").
type Stats struct {
	Trials          int
	DepthSequence   []int
	Elapsed         time.Duration
	OvertimeWarning bool
}

// Info is the planner result's accompanying bundle (spec.md §6).
type Info[S, A, O comparable] struct {
	Stats Stats
	Tree  *tree.Tree[S, A, O] // non-nil only when SolverConfig.TreeInInfo is set
}

// Solver is a DESPOT-family online POMDP planner.
type Solver[S, A, O comparable] struct {
	cfg   SolverConfig[S, A, O]
	pomdp model.POMDP[S, A, O]

	t       *tree.Tree[S, A, O]
	scratch *tree.Scratch[S, A, O]
	sampler *grid.AdaptiveSampler[S]
}

// NewSolver validates cfg and constructs a Solver bound to pomdp.
func NewSolver[S, A, O comparable](pomdp model.POMDP[S, A, O], cfg SolverConfig[S, A, O]) (*Solver[S, A, O], error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid solver configuration")
	}
	cfg.Bounds.Warnings = cfg.BoundsWarnings
	return &Solver[S, A, O]{
		cfg:     cfg,
		pomdp:   pomdp,
		t:       tree.New[S, A, O](cfg.NumB),
		scratch: tree.NewScratch[S, A, O](),
		sampler: grid.NewAdaptiveSampler[S](cfg.Grid, cfg.MMin, cfg.MMax, cfg.Zeta),
	}, nil
}

// String reports the solver's configuration, in the teacher's parameter-dump
// style (see internal/parameters).
func (s *Solver[S, A, O]) String() string {
	return fmt.Sprintf(
		"despot.Solver(epsilon_0=%v, xi=%v, t_max=%v, max_trials=%d, max_depth=%d, delta=%v, m_min=%d, m_max=%d, zeta=%v, deff_thres=%v)",
		s.cfg.Epsilon0, s.cfg.Xi, s.cfg.TMax, s.cfg.MaxTrials, s.cfg.MaxDepth,
		s.cfg.Delta, s.cfg.MMin, s.cfg.MMax, s.cfg.Zeta, s.cfg.DeffThresh,
	)
}

// Action runs BuildTree from belief b and returns the chosen action together
// with the search info. Expansion failures are caught at this boundary and
// delegated to the configured default-action policy (spec.md §7).
func (s *Solver[S, A, O]) Action(b model.Belief[S]) (action A, info Info[S, A, O], err error) {
	var inner error
	boundaryErr := exceptions.Try(func() {
		stats, buildErr := s.BuildTree(b)
		if buildErr != nil {
			inner = buildErr
			return
		}
		info.Stats = stats
		if s.cfg.TreeInInfo {
			info.Tree = s.t
		}
		action = s.bestRootAction()
	})

	cause := inner
	if cause == nil {
		cause = boundaryErr
	}
	if cause != nil {
		action = s.cfg.DefaultAction(s.pomdp, b, cause)
		return action, info, nil
	}
	return action, info, nil
}

// BuildTree runs the anytime search loop (spec.md §4.7) from belief b,
// growing (or reusing, per SolverConfig.TreeInInfo) the solver's tree.
func (s *Solver[S, A, O]) BuildTree(b model.Belief[S]) (Stats, error) {
	if s.cfg.TreeInInfo {
		s.t = tree.New[S, A, O](s.cfg.NumB)
	} else {
		s.t.Reset()
	}
	if err := s.resetRoot(b); err != nil {
		return Stats{}, err
	}

	start := time.Now()
	var depthSeq []int
	trials := 0
	for {
		gap := s.rootGap()
		elapsed := time.Since(start)
		if gap <= s.cfg.Epsilon0 || elapsed >= s.cfg.TMax || trials >= s.cfg.MaxTrials {
			break
		}
		depth, _ := s.trial()
		depthSeq = append(depthSeq, depth)
		trials++
	}
	elapsed := time.Since(start)

	overtime := isOvertime(elapsed, s.cfg.TMax, s.cfg.OvertimeWarningThreshold)
	if overtime {
		klog.Warningf("despot: build_tree exceeded overtime budget: elapsed=%v budget=%v threshold=%v", elapsed, s.cfg.TMax, s.cfg.OvertimeWarningThreshold)
	}
	return Stats{Trials: trials, DepthSequence: depthSeq, Elapsed: elapsed, OvertimeWarning: overtime}, nil
}

// isOvertime implements spec.md §4.7's overtime diagnostic condition:
// elapsed time past T_max by more than the configured threshold fraction.
func isOvertime(elapsed, tMax time.Duration, threshold float32) bool {
	budget := time.Duration(float32(tMax) * (1 + threshold))
	return elapsed > budget
}

// resetRoot materializes the root belief's particle set (spec.md §4.2's
// adaptive-resample rule applied to the root) and initializes b-node 1.
func (s *Solver[S, A, O]) resetRoot(b model.Belief[S]) error {
	particles, err := s.drawRootParticles(b)
	if err != nil {
		return err
	}
	s.t.RootParticles = particles
	weights := make([]float32, len(particles))
	each := float32(1) / float32(len(particles))
	for i := range weights {
		weights[i] = each
	}

	l, u := s.cfg.Bounds.Evaluate(s.pomdp, particles, weights, 0, s.cfg.MaxDepth)
	root := s.t.NewBNode(tree.BNode[S]{Depth: 0, ReachProb: 1, Weights: weights, L: l, U: u})
	if root != s.t.Root() {
		return errors.Errorf("internal error: root handle is %d, expected %d", root, s.t.Root())
	}
	return nil
}

// drawRootParticles implements spec.md §4.2's adaptive root draw: if the
// grid is disabled, draw exactly m_max particles; otherwise draw
// iteratively, growing the target sample size via the KLD rule until the
// accumulated sample meets it.
func (s *Solver[S, A, O]) drawRootParticles(b model.Belief[S]) ([]S, error) {
	s.sampler.Reset()
	if s.sampler.Disabled() {
		return s.drawN(b, s.cfg.MMax)
	}

	var out []S
	m := s.cfg.MMin
	k := 0
	for len(out) < m {
		for len(out) < m {
			draw, err := s.drawOne(b)
			if err != nil {
				return nil, err
			}
			out = append(out, draw)
			k = s.sampler.Observe(draw)
		}
		m = s.sampler.Target(k)
	}
	return out, nil
}

func (s *Solver[S, A, O]) drawN(b model.Belief[S], m int) ([]S, error) {
	out := make([]S, 0, m)
	for len(out) < m {
		draw, err := s.drawOne(b)
		if err != nil {
			return nil, err
		}
		out = append(out, draw)
	}
	return out, nil
}

// drawOne draws a single particle from b, rejecting (and redrawing) terminal
// states, consistent with the tree's convention that terminal states carry
// weight zero (spec.md §3).
func (s *Solver[S, A, O]) drawOne(b model.Belief[S]) (S, error) {
	const maxRejections = 1000
	var zero S
	for attempt := 0; attempt < maxRejections; attempt++ {
		state, err := drawFromBelief(b, s.cfg.Rng)
		if err != nil {
			return zero, err
		}
		if !s.pomdp.IsTerminal(state) {
			return state, nil
		}
	}
	return zero, errors.New("root belief appears to be entirely terminal states")
}

// drawFromBelief performs a single categorical draw over an arbitrary
// model.Belief by linear scan over its cumulative weight.
func drawFromBelief[S comparable](b model.Belief[S], rng *rand.Rand) (S, error) {
	var zero S
	n := b.NParticles()
	var sum float32
	for i := 0; i < n; i++ {
		sum += b.Weight(i)
	}
	if sum <= 0 {
		return zero, errors.New("cannot draw from a belief with zero total weight")
	}
	r := rng.Float32() * sum
	var acc float32
	for i := 0; i < n; i++ {
		acc += b.Weight(i)
		if r <= acc {
			return b.Particle(i), nil
		}
	}
	return b.Particle(n - 1), nil
}

// rootGap returns u_root - l_root.
func (s *Solver[S, A, O]) rootGap() float32 {
	root := s.t.B(s.t.Root())
	return root.U - root.L
}

func (s *Solver[S, A, O]) expandConfig() tree.ExpandConfig {
	return tree.ExpandConfig{
		MMin:       s.cfg.MMin,
		MMax:       s.cfg.MMax,
		Delta:      s.cfg.Delta,
		DeffThresh: s.cfg.DeffThresh,
		MaxDepth:   s.cfg.MaxDepth,
	}
}

// trial runs one descend-expand-backup cycle (spec.md §4.7) and returns the
// depth reached and whether the backup changed any ancestor's best action.
func (s *Solver[S, A, O]) trial() (depthReached int, bestActionChanged bool) {
	h := s.t.Root()
	rootGap := s.rootGap()
	gamma := s.pomdp.Discount()

	for {
		bn := s.t.B(h)
		if s.t.IsLeaf(h) {
			if bn.Depth >= s.cfg.MaxDepth {
				changed := s.backup(h, -bn.L, -bn.U)
				return bn.Depth, changed
			}
			dl, du := tree.Expand(s.t, h, s.pomdp, s.cfg.Bounds, s.sampler, s.expandConfig(), s.scratch, s.cfg.Rng)
			changed := s.backup(h, dl, du)
			return s.t.B(h).Depth, changed
		}

		_, child, eu := s.nextBest(h, rootGap, gamma)
		if eu <= 0 {
			return bn.Depth, false
		}
		h = child
	}
}

// nextBest implements spec.md §4.6: choose the action maximizing ba_u, then
// among that action's observation children choose the one maximizing excess
// uncertainty.
func (s *Solver[S, A, O]) nextBest(h tree.BHandle, rootGap, gamma float32) (tree.BAHandle, tree.BHandle, float32) {
	bestBA := s.bestBAByU(h)
	obsChildren := s.t.BChildren(bestBA)
	if len(obsChildren) == 0 {
		// Dead action branch: every source particle was terminal or
		// zero-weight, so no observation children were packed. Nothing to
		// descend into.
		return bestBA, 0, math32.Inf(-1)
	}

	bestChild := obsChildren[0]
	bestEU := s.excessUncertainty(bestChild, rootGap, gamma)
	for _, c := range obsChildren[1:] {
		if eu := s.excessUncertainty(c, rootGap, gamma); eu > bestEU {
			bestEU = eu
			bestChild = c
		}
	}
	return bestBA, bestChild, bestEU
}

// bestBAByU returns the action-branch child of h with maximal ba_u.
func (s *Solver[S, A, O]) bestBAByU(h tree.BHandle) tree.BAHandle {
	children := s.t.BAChildren(h)
	best := children[0]
	for _, c := range children[1:] {
		if s.t.BA(c).U > s.t.BA(best).U {
			best = c
		}
	}
	return best
}

// excessUncertainty computes EU(bp) from spec.md §4.6.
func (s *Solver[S, A, O]) excessUncertainty(h tree.BHandle, rootGap, gamma float32) float32 {
	bn := s.t.B(h)
	tol := s.cfg.Xi * rootGap / math32.Pow(gamma, float32(bn.Depth))
	return bn.ReachProb * (bn.U - bn.L - tol)
}

// backup implements spec.md §4.5, propagating (Δl, Δu) from leaf h to the
// root. It returns whether any ancestor's best action (by ba_u) changed.
func (s *Solver[S, A, O]) backup(h tree.BHandle, deltaL, deltaU float32) bool {
	bn := s.t.B(h)
	bn.L += deltaL
	bn.U += deltaU

	changed := false
	gamma := s.pomdp.Discount()
	cur := h
	for !s.t.IsRoot(cur) {
		curNode := s.t.B(cur)
		baH := curNode.ParentBA
		ban := s.t.BA(baH)
		parentB := ban.ParentB
		pbn := s.t.B(parentB)
		pObs := curNode.ReachProb

		prevBest := s.bestBAByU(parentB)

		ban.U += gamma * pObs * deltaU

		newBest := s.bestBAByU(parentB)
		if newBest != prevBest {
			changed = true
		}
		largestU := s.t.BA(newBest).U
		newDeltaU := largestU - pbn.U
		pbn.U = largestU

		var newDeltaL float32
		if deltaL != 0 {
			ban.L += gamma * pObs * deltaL
			if ban.L > pbn.L {
				newDeltaL = ban.L - pbn.L
				pbn.L = ban.L
			}
		}

		deltaU = newDeltaU
		deltaL = newDeltaL
		cur = parentB
	}
	return changed
}

// bestRootAction implements spec.md §4.7's final selection: maximal ba_l
// among root action-branches, ties broken uniformly at random.
func (s *Solver[S, A, O]) bestRootAction() A {
	children := s.t.BAChildren(s.t.Root())
	bestL := s.t.BA(children[0]).L
	tied := []tree.BAHandle{children[0]}
	for _, c := range children[1:] {
		l := s.t.BA(c).L
		switch {
		case l > bestL:
			bestL = l
			tied = []tree.BAHandle{c}
		case l == bestL:
			tied = append(tied, c)
		}
	}
	pick := tied[0]
	if len(tied) > 1 {
		pick = tied[s.cfg.Rng.Intn(len(tied))]
	}
	return s.t.BA(pick).Action
}
