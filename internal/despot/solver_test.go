package despot

import (
	"math/rand"
	"testing"
	"time"

	"github.com/janpfeifer/despot/internal/belief"
	"github.com/janpfeifer/despot/internal/bounds"
	"github.com/janpfeifer/despot/internal/grid"
	"github.com/janpfeifer/despot/internal/model"
	"github.com/janpfeifer/despot/internal/pomdps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformBelief[S comparable](states []S) model.Belief[S] {
	weights := make([]float32, len(states))
	each := float32(1) / float32(len(states))
	for i := range weights {
		weights[i] = each
	}
	return belief.New(states, weights)
}

func drawStates[S any](n int, draw func(*rand.Rand) S, rng *rand.Rand) []S {
	out := make([]S, n)
	for i := range out {
		out[i] = draw(rng)
	}
	return out
}

// runEpisode mirrors cmd/despot's simulation loop: Action, Step, belief
// update, repeated for steps decision epochs.
func runEpisode[S, A, O comparable](
	t *testing.T,
	pomdp model.POMDP[S, A, O],
	solver *Solver[S, A, O],
	b model.Belief[S],
	s S,
	steps int,
	nParticles int,
	rng *rand.Rand,
) (totalReturn float32, actions []A) {
	t.Helper()
	updater := belief.BootstrapUpdater[S, A, O]{N: nParticles}
	gamma := pomdp.Discount()
	discount := float32(1)
	for i := 0; i < steps; i++ {
		action, _, err := solver.Action(b)
		require.NoError(t, err)
		actions = append(actions, action)

		sNext, o, r := pomdp.Step(s, action, rng)
		totalReturn += discount * r
		discount *= gamma
		if pomdp.IsTerminal(sNext) {
			s = sNext
			break
		}
		nb, err := updater.Update(pomdp, b, action, o, rng)
		require.NoError(t, err)
		b = nb
		s = sNext
	}
	return totalReturn, actions
}

func baseConfig[S, A, O comparable](bnd *bounds.Independent[S, A, O], defaultAction DefaultActionFn[S, A, O], rng *rand.Rand) SolverConfig[S, A, O] {
	return SolverConfig[S, A, O]{
		Epsilon0:                 0.01,
		Xi:                       0.95,
		TMax:                     200 * time.Millisecond,
		OvertimeWarningThreshold: 0.2,
		MaxTrials:                300,
		MaxDepth:                 30,
		Delta:                    0,
		MMin:                     50,
		MMax:                     200,
		Zeta:                     0.05,
		DeffThresh:               2,
		Bounds:                   bnd,
		NumB:                     2000,
		DefaultAction:            defaultAction,
		Rng:                      rng,
	}
}

// Scenario 1 (spec.md §8): Tiger, bounds Independent(-20, 0), default solver.
func TestTigerScenarioMeanReturnPositiveAndListensWhenUncertain(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg := baseConfig[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](ind, defaultAction, rng)
	solver, err := NewSolver[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](pomdp, cfg)
	require.NoError(t, err)

	states := []pomdps.TigerState{pomdps.TigerLeft, pomdps.TigerRight}
	b := uniformBelief(states)
	s := pomdp.InitialState(rng)

	firstAction, info, err := solver.Action(b)
	require.NoError(t, err)
	assert.Equal(t, pomdps.Listen, firstAction) // uniform belief: maximal entropy, nothing learned yet
	assert.Greater(t, info.Stats.Trials, 0)

	total, _ := runEpisode(t, pomdp, solver, b, s, 10, cfg.MMax, rng)
	assert.Greater(t, total, float32(0))
}

func babyLowerBoundForTest(pomdp *pomdps.BabyPOMDP, maxDepth int) float32 {
	if pomdp.Gamma >= 1 {
		return pomdp.HungryCost * float32(maxDepth)
	}
	return pomdp.HungryCost / (1 - pomdp.Gamma)
}

// Scenario 2 (spec.md §8): Baby (discount=1), constant bounds, m_min=200.
func TestBabyScenarioFeedsWhenLikelyHungry(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	pomdp := pomdps.NewBabyPOMDP()
	lower := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: babyLowerBoundForTest(pomdp, 30)}
	upper := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs], model.Belief[pomdps.BabyState], error) pomdps.BabyAction {
		return pomdps.Feed
	}
	cfg := baseConfig[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](ind, defaultAction, rng)
	cfg.MMin, cfg.MMax = 200, 200
	// A belief tilted toward hungry only dominates the constant-bound tail
	// once the search has explored both action branches deeply enough to
	// surface the real cost difference between feeding and ignoring, so this
	// scenario needs a much larger trial/arena budget than the others.
	cfg.MaxTrials = 8000
	cfg.NumB = 40000
	cfg.TMax = 5 * time.Second
	solver, err := NewSolver[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](pomdp, cfg)
	require.NoError(t, err)

	// A belief concentrated on "hungry" should make the root prefer Feed.
	states := make([]pomdps.BabyState, 20)
	for i := range states {
		if i < 16 {
			states[i] = pomdps.Hungry
		} else {
			states[i] = pomdps.Full
		}
	}
	b := uniformBelief(states)
	action, _, err := solver.Action(b)
	require.NoError(t, err)
	assert.Equal(t, pomdps.Feed, action)
}

func TestBabyScenarioTwentyStepRunCompletes(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pomdp := pomdps.NewBabyPOMDP()
	lower := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: babyLowerBoundForTest(pomdp, 30)}
	upper := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs], model.Belief[pomdps.BabyState], error) pomdps.BabyAction {
		return pomdps.Feed
	}
	cfg := baseConfig[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](ind, defaultAction, rng)
	cfg.MMin, cfg.MMax = 200, 200
	solver, err := NewSolver[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](pomdp, cfg)
	require.NoError(t, err)

	states := drawStates(200, pomdp.InitialState, rng)
	b := uniformBelief(states)
	s := pomdp.InitialState(rng)
	_, actions := runEpisode(t, pomdp, solver, b, s, 20, cfg.MMax, rng)
	assert.Len(t, actions, 20)
}

// Scenario 3 (spec.md §8): Baby with a semi-PO rollout lower bound driven by
// a fixed heuristic policy. The semi-PO run and a constant-bound run must
// both land in the same range [20*HungryCost, 0]; the two returns are not
// compared with each other.
func TestBabySemiPORolloutWithinRangeOfConstantBound(t *testing.T) {
	maxDepth := 30
	rng1 := rand.New(rand.NewSource(4))
	pomdp := pomdps.NewBabyPOMDP()

	constLower := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: babyLowerBoundForTest(pomdp, maxDepth)}
	upper := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: 0}
	indConst := bounds.NewIndependent(constLower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs], model.Belief[pomdps.BabyState], error) pomdps.BabyAction {
		return pomdps.Feed
	}
	cfgConst := baseConfig[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](indConst, defaultAction, rng1)
	cfgConst.MMin, cfgConst.MMax, cfgConst.MaxDepth = 200, 200, maxDepth
	solverConst, err := NewSolver[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](pomdp, cfgConst)
	require.NoError(t, err)

	states1 := drawStates(200, pomdp.InitialState, rng1)
	bConst := uniformBelief(states1)
	sConst := pomdp.InitialState(rng1)
	totalConst, _ := runEpisode(t, pomdp, solverConst, bConst, sConst, 20, cfgConst.MMax, rng1)

	rng2 := rand.New(rand.NewSource(4))
	semiLower := bounds.NewSolvedSemiPORollout[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](pomdps.BabyBeliefPolicy{}, rand.New(rand.NewSource(4)))
	indSemi := bounds.NewIndependent[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](semiLower, upper, 1e-4)
	cfgSemi := baseConfig[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](indSemi, defaultAction, rng2)
	cfgSemi.MMin, cfgSemi.MMax, cfgSemi.MaxDepth = 200, 200, maxDepth
	solverSemi, err := NewSolver[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](pomdp, cfgSemi)
	require.NoError(t, err)

	states2 := drawStates(200, pomdp.InitialState, rng2)
	bSemi := uniformBelief(states2)
	sSemi := pomdp.InitialState(rng2)
	totalSemi, _ := runEpisode(t, pomdp, solverSemi, bSemi, sSemi, 20, cfgSemi.MMax, rng2)

	// Both runs should land in the same broad regime: both undiscounted,
	// finite-horizon crying-baby returns over 20 steps are bounded below by
	// roughly 20*HungryCost (every step costs like a hungry ignore) and above
	// by 0.
	worstCase := pomdp.HungryCost * 20
	assert.GreaterOrEqual(t, totalConst, worstCase)
	assert.GreaterOrEqual(t, totalSemi, worstCase)
	assert.LessOrEqual(t, totalConst, float32(0))
	assert.LessOrEqual(t, totalSemi, float32(0))
}

// Scenario 4 (spec.md §8): LightDark1D, FO-rollout lower bound, entropy upper
// bound, 26-bin grid over [-10,15], delta=1.0.
func TestLightDarkScenarioRunsToCompletion(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pomdp := pomdps.NewLightDark1D()
	g := pomdps.Grid26()
	mMax := 200
	lower := bounds.NewSolvedFORollout[float32, pomdps.LightDarkAction, float32](
		pomdps.LightDarkHeuristicPolicy{LightPos: pomdp.LightPos}, rand.New(rand.NewSource(5)), mMax)
	upper := pomdp.EntropyUpperBound(g, 2.0)
	ind := bounds.NewIndependent[float32, pomdps.LightDarkAction, float32](lower, upper, 1e-3)
	defaultAction := func(model.POMDP[float32, pomdps.LightDarkAction, float32], model.Belief[float32], error) pomdps.LightDarkAction {
		return pomdps.Stop
	}
	cfg := baseConfig[float32, pomdps.LightDarkAction, float32](ind, defaultAction, rng)
	cfg.MMin, cfg.MMax, cfg.Delta = 100, mMax, 1.0
	cfg.Grid = g
	cfg.MaxDepth = 50
	solver, err := NewSolver[float32, pomdps.LightDarkAction, float32](pomdp, cfg)
	require.NoError(t, err)

	states := drawStates(mMax, pomdp.InitialState, rng)
	b := uniformBelief(states)
	s := pomdp.InitialState(rng)

	action, info, err := solver.Action(b)
	require.NoError(t, err)
	assert.Contains(t, []pomdps.LightDarkAction{pomdps.MoveLeft, pomdps.Stop, pomdps.MoveRight}, action)
	assert.Greater(t, info.Stats.Trials, 0)

	_, actions := runEpisode(t, pomdp, solver, b, s, 50, mMax, rng)
	assert.Len(t, actions, 50) // LightDark1D has no terminal states, so all 50 epochs run
}

// Scenario 6 (spec.md §8): a tight time budget bounds BuildTree's elapsed
// time, and Stats.OvertimeWarning fires only once elapsed exceeds
// T_max*(1+OvertimeWarningThreshold), per BuildTree's isOvertime check.
func TestBuildTreeRespectsTimeBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg := baseConfig[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](ind, defaultAction, rng)
	cfg.TMax = 10 * time.Millisecond
	cfg.OvertimeWarningThreshold = 0.5
	cfg.MaxTrials = 10_000_000
	cfg.Epsilon0 = 1e-9 // force the loop to run out the clock rather than converge
	solver, err := NewSolver[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](pomdp, cfg)
	require.NoError(t, err)

	states := []pomdps.TigerState{pomdps.TigerLeft, pomdps.TigerRight}
	b := uniformBelief(states)

	stats, err := solver.BuildTree(b)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.Elapsed, cfg.TMax*2+20*time.Millisecond)
	assert.Equal(t, isOvertime(stats.Elapsed, cfg.TMax, cfg.OvertimeWarningThreshold), stats.OvertimeWarning)
}

// isOvertime must actually consult OvertimeWarningThreshold: the same
// elapsed duration can be within budget at a generous threshold and over
// budget at a zero threshold.
func TestIsOvertimeConsultsThreshold(t *testing.T) {
	tMax := 10 * time.Millisecond
	elapsed := 12 * time.Millisecond // 20% over T_max

	assert.True(t, isOvertime(elapsed, tMax, 0))     // no slack: any overrun warns
	assert.False(t, isOvertime(elapsed, tMax, 0.5))  // 50% slack: 20% overrun doesn't warn
	assert.True(t, isOvertime(elapsed, tMax, 0.1))   // 10% slack: 20% overrun still warns
	assert.False(t, isOvertime(tMax, tMax, 0))       // exactly on budget is not overtime
}

func TestGridDisabledFallsBackToMMaxForRoot(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg := baseConfig[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](ind, defaultAction, rng)
	cfg.Grid = nil // Tiger has no natural grid, mirroring the solver's default construction
	require.True(t, cfg.Grid == (*grid.Grid[pomdps.TigerState])(nil))

	solver, err := NewSolver[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](pomdp, cfg)
	require.NoError(t, err)

	states := []pomdps.TigerState{pomdps.TigerLeft, pomdps.TigerRight}
	b := uniformBelief(states)
	_, err = solver.BuildTree(b)
	require.NoError(t, err)
	assert.Len(t, solver.t.RootParticles, cfg.MMax)
}

// After BuildTree, the root's own bounds must equal the max over its
// action-branch children (backup's core invariant: u(b) = max_a ba_u(a),
// l(b) >= max_a ba_l(a)).
func TestBuildTreeLeavesRootBoundsConsistentWithChildren(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg := baseConfig[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](ind, defaultAction, rng)
	solver, err := NewSolver[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](pomdp, cfg)
	require.NoError(t, err)

	states := []pomdps.TigerState{pomdps.TigerLeft, pomdps.TigerRight}
	b := uniformBelief(states)
	_, err = solver.BuildTree(b)
	require.NoError(t, err)

	root := solver.t.B(solver.t.Root())
	children := solver.t.BAChildren(solver.t.Root())
	require.NotEmpty(t, children)

	maxU := solver.t.BA(children[0]).U
	maxL := solver.t.BA(children[0]).L
	for _, c := range children[1:] {
		ban := solver.t.BA(c)
		if ban.U > maxU {
			maxU = ban.U
		}
		if ban.L > maxL {
			maxL = ban.L
		}
	}
	assert.InDelta(t, maxU, root.U, 1e-3)
	assert.GreaterOrEqual(t, root.L+1e-3, maxL)
}

// bestRootAction must distribute its tie-break uniformly rather than always
// picking the first or last tied branch.
func TestBestRootActionTieBreakIsUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg := baseConfig[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](ind, defaultAction, rng)
	solver, err := NewSolver[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](pomdp, cfg)
	require.NoError(t, err)

	states := []pomdps.TigerState{pomdps.TigerLeft, pomdps.TigerRight}
	b := uniformBelief(states)
	_, err = solver.BuildTree(b) // ensures the root has been expanded into action branches
	require.NoError(t, err)

	ba := solver.t.BAChildren(solver.t.Root())
	require.Len(t, ba, 3) // Tiger has three actions
	for _, c := range ba {
		solver.t.BA(c).L = 0 // force a three-way tie
	}

	counts := map[pomdps.TigerAction]int{}
	for i := 0; i < 300; i++ {
		counts[solver.bestRootAction()]++
	}
	require.Len(t, counts, 3) // every tied action must be reachable
	for action, n := range counts {
		assert.Greaterf(t, n, 30, "action %v picked too rarely for a uniform tie-break", action)
	}
}

// BuildTree starts each call from a reset (or, with TreeInInfo, newly
// allocated) tree, so two fresh solvers fed the same seeded RNG and belief
// produce identical root bounds and action choice.
func TestBuildTreeIsReproducibleAcrossResets(t *testing.T) {
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent(lower, upper, float32(1e-4))
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	states := []pomdps.TigerState{pomdps.TigerLeft, pomdps.TigerRight}
	b := uniformBelief(states)

	run := func(seed int64) (pomdps.TigerAction, float32, float32) {
		rng := rand.New(rand.NewSource(seed))
		cfg := baseConfig[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](ind, defaultAction, rng)
		solver, err := NewSolver[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](pomdp, cfg)
		require.NoError(t, err)
		action, _, err := solver.Action(b)
		require.NoError(t, err)
		root := solver.t.B(solver.t.Root())
		return action, root.L, root.U
	}

	action1, l1, u1 := run(42)
	action2, l2, u2 := run(42)
	assert.Equal(t, action1, action2)
	assert.Equal(t, l1, l2)
	assert.Equal(t, u1, u2)
}
