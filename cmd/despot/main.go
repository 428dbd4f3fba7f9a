// Command despot runs a single simulated episode of a reference POMDP
// against the despot planner, printing the action taken at each decision
// epoch and the total discounted return at the end.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/janpfeifer/despot/internal/belief"
	"github.com/janpfeifer/despot/internal/bounds"
	"github.com/janpfeifer/despot/internal/despot"
	"github.com/janpfeifer/despot/internal/model"
	"github.com/janpfeifer/despot/internal/parameters"
	"github.com/janpfeifer/despot/internal/pomdps"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagModel = flag.String("model", "tiger", "Reference POMDP to run: tiger, baby or lightdark.")
	flagSteps = flag.Int("steps", 10, "Number of decision epochs to simulate.")
	flagSeed  = flag.Int64("seed", 1, "RNG seed.")
	flagConfig = flag.String("config", "", "Solver configuration string overlaid on the model's "+
		"defaults, e.g. \"t_max=0.5,max_trials=10000\". See internal/parameters.")
	flagPrintSteps = flag.Bool("print_steps", true, "Print action/observation/reward at each step.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	rng := rand.New(rand.NewSource(*flagSeed))
	runID := uuid.New()

	var (
		total float32
		err   error
	)
	switch *flagModel {
	case "tiger":
		total, err = runTiger(rng, runID)
	case "baby":
		total, err = runBaby(rng, runID)
	case "lightdark":
		total, err = runLightDark(rng, runID)
	default:
		klog.Fatalf("unknown -model=%q: want tiger, baby or lightdark", *flagModel)
	}
	if err != nil {
		klog.Fatalf("simulation of %q failed: %+v", *flagModel, err)
	}
	fmt.Printf("run=%s model=%s steps=%d total_discounted_return=%v\n", runID, *flagModel, *flagSteps, total)
}

func parseConfig() parameters.Params {
	return parameters.NewFromConfigString(*flagConfig)
}

func runTiger(rng *rand.Rand, runID uuid.UUID) (float32, error) {
	pomdp := pomdps.NewTigerPOMDP()
	lower := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: -20}
	upper := bounds.Constant[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs]{Value: 0}
	ind := bounds.NewIndependent[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs](lower, upper, 1e-4)

	defaultAction := func(model.POMDP[pomdps.TigerState, pomdps.TigerAction, pomdps.TigerObs], model.Belief[pomdps.TigerState], error) pomdps.TigerAction {
		return pomdps.Listen
	}
	cfg, err := despot.NewSolverFromParams(parseConfig(), ind, defaultAction, rng)
	if err != nil {
		return 0, errors.Wrap(err, "building tiger solver config")
	}
	return simulate(pomdp, cfg, *flagSteps, cfg.MMax, rng, runID, *flagPrintSteps)
}

func runBaby(rng *rand.Rand, runID uuid.UUID) (float32, error) {
	pomdp := pomdps.NewBabyPOMDP()
	params := parseConfig()
	mMax, err := parameters.GetParamOr(params, "m_max", 500)
	if err != nil {
		return 0, errors.Wrap(err, "parsing m_max")
	}
	maxDepth, err := parameters.GetParamOr(params, "max_depth", 90)
	if err != nil {
		return 0, errors.Wrap(err, "parsing max_depth")
	}
	lower := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: constantBabyLowerBound(pomdp, maxDepth)}
	upper := bounds.Constant[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs]{Value: 0}
	ind := bounds.NewIndependent[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs](lower, upper, 1e-4)

	defaultAction := func(model.POMDP[pomdps.BabyState, pomdps.BabyAction, pomdps.BabyObs], model.Belief[pomdps.BabyState], error) pomdps.BabyAction {
		return pomdps.Feed
	}
	cfg, err := despot.NewSolverFromParams(params, ind, defaultAction, rng)
	if err != nil {
		return 0, errors.Wrap(err, "building baby solver config")
	}
	return simulate(pomdp, cfg, *flagSteps, mMax, rng, runID, *flagPrintSteps)
}

// constantBabyLowerBound implements spec.md §8 scenario 2's "constant
// lower bound R_bad/(1-gamma)"; the crying-baby problem is conventionally
// undiscounted (gamma=1), so that closed form is a division by zero. This
// planner uses a bounded search horizon, so the finite-horizon analogue --
// the hungry cost paid at every one of max_depth steps -- serves the same
// role. A hungry step that is also fed costs HungryCost+FeedCost, so this
// value is not the absolute worst return over the horizon.
func constantBabyLowerBound(pomdp *pomdps.BabyPOMDP, maxDepth int) float32 {
	if pomdp.Gamma >= 1 {
		return pomdp.HungryCost * float32(maxDepth)
	}
	return pomdp.HungryCost / (1 - pomdp.Gamma)
}

func runLightDark(rng *rand.Rand, runID uuid.UUID) (float32, error) {
	pomdp := pomdps.NewLightDark1D()
	g := pomdps.Grid26()

	lowerPolicy := pomdps.LightDarkHeuristicPolicy{LightPos: pomdp.LightPos}
	params := parseConfig()
	mMax, err := parameters.GetParamOr(params, "m_max", 500)
	if err != nil {
		return 0, errors.Wrap(err, "parsing m_max")
	}
	lower := bounds.NewSolvedFORollout[float32, pomdps.LightDarkAction, float32](lowerPolicy, rng, mMax)
	upper := pomdp.EntropyUpperBound(g, 2.0)
	ind := bounds.NewIndependent[float32, pomdps.LightDarkAction, float32](lower, upper, 1e-3)

	defaultAction := func(model.POMDP[float32, pomdps.LightDarkAction, float32], model.Belief[float32], error) pomdps.LightDarkAction {
		return pomdps.Stop
	}
	cfg, err := despot.NewSolverFromParams(params, ind, defaultAction, rng)
	if err != nil {
		return 0, errors.Wrap(err, "building lightdark solver config")
	}
	cfg.Grid = g
	return simulate(pomdp, cfg, *flagSteps, mMax, rng, runID, *flagPrintSteps)
}

// simulate drives steps decision epochs of pomdp under the planner
// configured by cfg, advancing the belief between epochs with a bootstrap
// particle filter, and returns the total discounted return obtained.
func simulate[S, A, O comparable](
	pomdp model.POMDP[S, A, O],
	cfg despot.SolverConfig[S, A, O],
	steps int,
	nParticles int,
	rng *rand.Rand,
	runID uuid.UUID,
	printSteps bool,
) (float32, error) {
	solver, err := despot.NewSolver[S, A, O](pomdp, cfg)
	if err != nil {
		return 0, errors.Wrap(err, "constructing solver")
	}
	klog.V(1).Infof("run=%s solver=%s", runID, solver)

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
	var total float32
	for step := 0; step < steps; step++ {
		action, info, err := solver.Action(b)
		if err != nil {
			return total, errors.Wrapf(err, "step %d: solver.Action", step)
		}
		sNext, o, r := pomdp.Step(s, action, rng)
		total += discount * r
		discount *= gamma

		if printSteps {
			fmt.Printf("run=%s step=%d trials=%s elapsed=%v action=%v obs=%v reward=%v\n",
				runID, step, humanize.Comma(int64(info.Stats.Trials)), info.Stats.Elapsed.Round(time.Microsecond), action, o, r)
		}

		if pomdp.IsTerminal(sNext) {
			s = sNext
			break
		}
		nb, err := updater.Update(pomdp, b, action, o, rng)
		if err != nil {
			return total, errors.Wrapf(err, "step %d: belief update", step)
		}
		b = nb
		s = sNext
	}
	return total, nil
}
