// Command despot-bench sweeps a reference POMDP across several RNG seeds and
// reports the mean (and per-seed) discounted return, plus aggregate search
// statistics -- a benchmark harness for comparing SolverConfig tunables.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/chewxy/math32"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/janpfeifer/despot/internal/belief"
	"github.com/janpfeifer/despot/internal/bounds"
	"github.com/janpfeifer/despot/internal/despot"
	"github.com/janpfeifer/despot/internal/generics"
	"github.com/janpfeifer/despot/internal/model"
	"github.com/janpfeifer/despot/internal/parameters"
	"github.com/janpfeifer/despot/internal/pomdps"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagModel  = flag.String("model", "tiger", "Reference POMDP to benchmark: tiger, baby or lightdark.")
	flagSteps  = flag.Int("steps", 20, "Number of decision epochs to simulate per seed.")
	flagSeeds  = flag.Int("seeds", 10, "Number of independent seeds to run.")
	flagSeed0  = flag.Int64("seed0", 1, "First seed; subsequent runs use seed0+1, seed0+2, ...")
	flagConfig = flag.String("config", "", "Solver configuration string overlaid on the model's defaults.")
)

type seedResult struct {
	seed        int64
	totalReturn float32
	trials      int
	elapsed     time.Duration
	depthsSeen  generics.Set[int]
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	results, err := runSweep(*flagModel)
	if err != nil {
		klog.Fatalf("benchmark of %q failed: %+v", *flagModel, err)
	}

	allDepths := generics.MakeSet[int]()
	var sumReturn float32
	var sumTrials int
	var sumElapsed time.Duration
	for _, r := range results {
		sumReturn += r.totalReturn
		sumTrials += r.trials
		sumElapsed += r.elapsed
		for d := range r.depthsSeen {
			allDepths.Insert(d)
		}
		fmt.Printf("seed=%d total_discounted_return=%v trials=%s elapsed=%v distinct_depths=%d\n",
			r.seed, r.totalReturn, humanize.Comma(int64(r.trials)), r.elapsed.Round(time.Millisecond), len(r.depthsSeen))
	}
	n := float32(len(results))
	mean := sumReturn / n
	returns := generics.SliceMap(results, func(r seedResult) float32 { return r.totalReturn })
	fmt.Printf("model=%s seeds=%d mean_discounted_return=%v stdev_discounted_return=%v mean_trials_per_decision=%s mean_elapsed_per_run=%v distinct_depths_across_seeds=%d\n",
		*flagModel, len(results), mean, stdev(returns, mean),
		humanize.Comma(int64(float64(sumTrials)/float64(len(results))/float64(*flagSteps))),
		sumElapsed/time.Duration(len(results)), len(allDepths))
}

// stdev returns the population standard deviation of values around mean.
func stdev(values []float32, mean float32) float32 {
	if len(values) == 0 {
		return 0
	}
	var ss float32
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math32.Sqrt(ss / float32(len(values)))
}

func parseConfig() parameters.Params {
	return parameters.NewFromConfigString(*flagConfig)
}

func runSweep(modelName string) ([]seedResult, error) {
	results := make([]seedResult, 0, *flagSeeds)
	for i := 0; i < *flagSeeds; i++ {
		seed := *flagSeed0 + int64(i)
		rng := rand.New(rand.NewSource(seed))
		var (
			r   seedResult
			err error
		)
		switch modelName {
		case "tiger":
			r, err = benchTiger(rng, seed)
		case "baby":
			r, err = benchBaby(rng, seed)
		case "lightdark":
			r, err = benchLightDark(rng, seed)
		default:
			return nil, errors.Errorf("unknown -model=%q: want tiger, baby or lightdark", modelName)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "seed %d", seed)
		}
		results = append(results, r)
	}
	return results, nil
}

func benchTiger(rng *rand.Rand, seed int64) (seedResult, error) {
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](lower, upper, 1e-4)
	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg, err := despot.NewSolverFromParams(parseConfig(), ind, defaultAction, rng)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "building tiger solver config")
	}
	return simulate(pomdp, cfg, seed, cfg.MMax, rng)
}

func benchBaby(rng *rand.Rand, seed int64) (seedResult, error) {
	pomdp := pomdps.NewBabyPOMDP()
	params := parseConfig()
	mMax, err := parameters.GetParamOr(params, "m_max", 500)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "parsing m_max")
	}
	maxDepth, err := parameters.GetParamOr(params, "max_depth", 90)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "parsing max_depth")
	}
	lower := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{
		Value: babyLowerBound(pomdp, maxDepth),
	}
	upper := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: 0}
	ind := bounds.NewIndependent[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](lower, upper, 1e-4)
	defaultAction := func(model.POMDP[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs], model.Belief[pomdps.BabyState], error) pomdps.BabyAction {
		return pomdps.Feed
	}
	cfg, err := despot.NewSolverFromParams(params, ind, defaultAction, rng)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "building baby solver config")
	}
	return simulate(pomdp, cfg, seed, mMax, rng)
}

func babyLowerBound(pomdp *pomdps.BabyPOMDP, maxDepth int) float32 {
	if pomdp.Gamma >= 1 {
		return pomdp.HungryCost * float32(maxDepth)
	}
	return pomdp.HungryCost / (1 - pomdp.Gamma)
}

func benchLightDark(rng *rand.Rand, seed int64) (seedResult, error) {
	pomdp := pomdps.NewLightDark1D()
	g := pomdps.Grid26()
	params := parseConfig()
	mMax, err := parameters.GetParamOr(params, "m_max", 500)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "parsing m_max")
	}
	lower := bounds.NewSolvedFORollout[float32, pomdps.LightDarkAction, float32](
		pomdps.LightDarkHeuristicPolicy{LightPos: pomdp.LightPos}, rng, mMax)
	upper := pomdp.EntropyUpperBound(g, 2.0)
	ind := bounds.NewIndependent[float32, pomdps.LightDarkAction, float32](lower, upper, 1e-3)
	defaultAction := func(model.POMDP[float32, pomdps.LightDarkAction, float32], model.Belief[float32], error) pomdps.LightDarkAction {
		return pomdps.Stop
	}
	cfg, err := despot.NewSolverFromParams(params, ind, defaultAction, rng)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "building lightdark solver config")
	}
	cfg.Grid = g
	return simulate(pomdp, cfg, seed, mMax, rng)
}

// simulate runs *flagSteps decision epochs and reports the aggregate result
// for one seed.
func simulate[S, A, O comparable](
	pomdp model.POMDP[S, A, O],
	cfg despot.SolverConfig[S, A, O],
	seed int64,
	nParticles int,
	rng *rand.Rand,
) (seedResult, error) {
	solver, err := despot.NewSolver[S, A, O](pomdp, cfg)
	if err != nil {
		return seedResult{}, errors.Wrap(err, "constructing solver")
	}
	runID := uuid.New()
	klog.V(1).Infof("run=%s seed=%d solver=%s", runID, seed, solver)

	states := make([]S, nParticles)
	weights := make([]float32, nParticles)
	each := float32(1) / float32(nParticles)
	for i := range states {
		states[i] = pomdp.InitialState(rng)
		weights[i] = each
	}
	var b model.Belief[S] = belief.New(states, weights)
	s := pomdp.InitialState(rng)
	updater := belief.BootstrapUpdater[S, A, O]{N: nParticles}

	gamma := pomdp.Discount()
	discount := float32(1)
	var r seedResult
	r.seed = seed
	r.depthsSeen = generics.MakeSet[int]()
	start := time.Now()
	for step := 0; step < *flagSteps; step++ {
		action, info, err := solver.Action(b)
		if err != nil {
			return r, errors.Wrapf(err, "step %d: solver.Action", step)
		}
		r.trials += info.Stats.Trials
		r.depthsSeen.Insert(info.Stats.DepthSequence...)

		sNext, o, reward := pomdp.Step(s, action, rng)
		r.totalReturn += discount * reward
		discount *= gamma

		if pomdp.IsTerminal(sNext) {
			s = sNext
			break
		}
		nb, err := updater.Update(pomdp, b, action, o, rng)
		if err != nil {
			return r, errors.Wrapf(err, "step %d: belief update", step)
		}
		b = nb
		s = sNext
	}
	r.elapsed = time.Since(start)
	return r, nil
}
