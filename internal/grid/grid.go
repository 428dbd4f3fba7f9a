// Package grid implements the state-grid discretizer and the KLD
// (Kullback-Leibler divergence) sample-size rule used to adapt the particle
// count of each belief node (spec.md §4.2).
package grid

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// Grid maps a state of type S to a bin index via a user-supplied Bin
// function over a discretization of the state's coordinates. A nil *Grid
// disables the KLD rule entirely (spec.md §4.2 step 1: "if the grid is
// null...").
type Grid[S any] struct {
	bin     func(S) int
	numBins int

	// epsilon is the target KL-divergence of Fox's rule. Not user-configured
	// per spec.md §6 (only zeta, the confidence, is a SolverConfig field);
	// 0.05 is the standard value used throughout the adaptive-particle-filter
	// literature this rule is drawn from.
	epsilon float64
}

// DefaultEpsilon is Fox's rule's target KL-divergence bound.
const DefaultEpsilon = 0.05

// New constructs a Grid from a binning function and the total number of
// bins it can produce (needed to size access-count scratch buffers).
func New[S any](bin func(S) int, numBins int) *Grid[S] {
	return &Grid[S]{bin: bin, numBins: numBins, epsilon: DefaultEpsilon}
}

// WithEpsilon overrides Fox's rule's target KL-divergence (advanced use;
// most callers should keep DefaultEpsilon).
func (g *Grid[S]) WithEpsilon(epsilon float64) *Grid[S] {
	g.epsilon = epsilon
	return g
}

// NumBins returns the total number of bins the grid can produce.
func (g *Grid[S]) NumBins() int { return g.numBins }

// Bin returns the bin index of s.
func (g *Grid[S]) Bin(s S) int { return g.bin(s) }

// Access increments cnt[bin(s)] iff it was previously zero, returning 1 in
// that case (a newly-occupied bin) or 0 otherwise (spec.md §4.2: "access(grid,
// cnt, s)"). cnt must have length >= NumBins().
func Access[S any](g *Grid[S], cnt []int, s S) int {
	idx := g.bin(s)
	wasEmpty := cnt[idx] == 0
	cnt[idx]++
	if wasEmpty {
		return 1
	}
	return 0
}

// KLDSampleSize returns the minimum number of samples such that, with
// confidence 1-zeta, the empirical distribution over the k occupied bins is
// within g's target KL-divergence of the true distribution (Fox's rule,
// "KLD-Sampling: Adaptive Particle Filters", Fox 2001).
//
// The closed form follows from approximating 2*n*epsilon by a chi-squared
// statistic with k-1 degrees of freedom: n = chi2inv(1-zeta, k-1) / (2*epsilon).
// Monotone in k (chi-squared quantiles are increasing in degrees of freedom
// for fixed probability); k=1 is handled as a special case since the
// chi-squared distribution is degenerate at 0 degrees of freedom.
func (g *Grid[S]) KLDSampleSize(k int, zeta float64) float64 {
	if k <= 1 {
		// 0 degrees of freedom: the empirical distribution over a single bin
		// is trivially exact, so the minimal useful sample is 1.
		return 1
	}
	chi2 := distuv.ChiSquared{K: float64(k - 1)}
	quantile := chi2.Quantile(1 - zeta)
	return quantile / (2 * g.epsilon)
}
