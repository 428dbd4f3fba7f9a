// Package despot implements the online anytime POMDP planner of spec.md:
// adaptive per-belief particle counts driven by the KLD sample-size rule
// (internal/grid) and observation packing during tree expansion
// (internal/tree), backed by the independent bound estimators of
// internal/bounds.
package despot

import (
	"math/rand"
	"time"

	"github.com/janpfeifer/despot/internal/bounds"
	"github.com/janpfeifer/despot/internal/grid"
	"github.com/janpfeifer/despot/internal/model"
	"github.com/janpfeifer/despot/internal/parameters"
	"github.com/pkg/errors"
)

// DefaultActionFn is invoked when expansion fails (spec.md §7): it receives
// the model, the belief being planned over, and the exception that
// triggered the fallback.
type DefaultActionFn[S, A, O comparable] func(pomdp model.POMDP[S, A, O], b model.Belief[S], cause error) A

// SolverConfig holds the planner's tunables (spec.md §6).
type SolverConfig[S, A, O comparable] struct {
	Epsilon0                 float32       // root gap at which search terminates
	Xi                       float32       // excess-uncertainty fraction, (0, 1]
	TMax                     time.Duration // wall-clock budget
	OvertimeWarningThreshold float32       // fraction of TMax
	MaxTrials                int
	MaxDepth                 int

	Delta      float32 // L1 packing radius
	MMin, MMax int
	Zeta       float64 // KLD confidence, (0, 1)
	DeffThresh float32 // design-effect threshold for in-tree resampling
	Grid       *grid.Grid[S]

	Bounds *bounds.Independent[S, A, O]

	NumB           int
	TreeInInfo     bool
	BoundsWarnings bool
	DefaultAction  DefaultActionFn[S, A, O]

	Rng *rand.Rand
}

// validate surfaces configuration errors immediately at solver construction
// (spec.md §7).
func (c *SolverConfig[S, A, O]) validate() error {
	if c.MMin <= 0 {
		return errors.Errorf("m_min must be positive, got %d", c.MMin)
	}
	if c.MMax < c.MMin {
		return errors.Errorf("m_max (%d) must be >= m_min (%d)", c.MMax, c.MMin)
	}
	if c.Epsilon0 <= 0 {
		return errors.Errorf("epsilon_0 must be positive, got %v", c.Epsilon0)
	}
	if c.Xi <= 0 || c.Xi > 1 {
		return errors.Errorf("xi must lie in (0, 1], got %v", c.Xi)
	}
	if c.TMax <= 0 {
		return errors.Errorf("T_max must be positive, got %v", c.TMax)
	}
	if c.OvertimeWarningThreshold < 0 {
		return errors.Errorf("overtime_warning_threshold must be non-negative, got %v", c.OvertimeWarningThreshold)
	}
	if c.MaxTrials <= 0 {
		return errors.Errorf("max_trials must be positive, got %d", c.MaxTrials)
	}
	if c.MaxDepth <= 0 {
		return errors.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.Zeta <= 0 || c.Zeta >= 1 {
		return errors.Errorf("zeta must lie in (0, 1), got %v", c.Zeta)
	}
	if c.Delta < 0 {
		return errors.Errorf("delta must be non-negative, got %v", c.Delta)
	}
	if c.Bounds == nil {
		return errors.New("bounds estimator pair is required")
	}
	if c.DefaultAction == nil {
		return errors.New("default_action is required")
	}
	if c.Rng == nil {
		return errors.New("rng is required")
	}
	return nil
}

// NewSolverFromParams builds a SolverConfig from a parameters.Params map
// (the ambient string-keyed configuration format used throughout the
// teacher's trainers and search engines), overlaying the given bounds,
// default-action policy and RNG, which do not have a sensible string
// encoding.
func NewSolverFromParams[S, A, O comparable](
	params parameters.Params,
	b *bounds.Independent[S, A, O],
	defaultAction DefaultActionFn[S, A, O],
	rng *rand.Rand,
) (SolverConfig[S, A, O], error) {
	cfg := SolverConfig[S, A, O]{Bounds: b, DefaultAction: defaultAction, Rng: rng}

	var err error
	get := func(key string, def float64) float64 {
		if err != nil {
			return def
		}
		var v float64
		v, err = parameters.GetParamOr(params, key, def)
		return v
	}
	geti := func(key string, def int) int {
		if err != nil {
			return def
		}
		var v int
		v, err = parameters.GetParamOr(params, key, def)
		return v
	}

	cfg.Epsilon0 = float32(get("epsilon_0", 0.01))
	cfg.Xi = float32(get("xi", 0.95))
	cfg.TMax = time.Duration(get("t_max", 1.0) * float64(time.Second))
	cfg.OvertimeWarningThreshold = float32(get("overtime_warning_threshold", 0.1))
	cfg.MaxTrials = geti("max_trials", 1_000_000)
	cfg.MaxDepth = geti("max_depth", 90)
	cfg.Delta = float32(get("delta", 0.0))
	cfg.MMin = geti("m_min", 100)
	cfg.MMax = geti("m_max", 500)
	cfg.Zeta = get("zeta", 0.05)
	cfg.DeffThresh = float32(get("deff_thres", 2.0))
	cfg.NumB = geti("num_b", 10_000)
	if err != nil {
		return cfg, err
	}

	treeInInfo, err2 := parameters.GetParamOr(params, "tree_in_info", false)
	if err2 != nil {
		return cfg, err2
	}
	cfg.TreeInInfo = treeInInfo
	boundsWarnings, err3 := parameters.GetParamOr(params, "bounds_warnings", true)
	if err3 != nil {
		return cfg, err3
	}
	cfg.BoundsWarnings = boundsWarnings

	return cfg, nil
}
