package grid

import "math"

// AdaptiveSampler drives the KLD sample-size rule across repeated calls
// without reallocating its access-count scratch buffer (spec.md §5:
// "resized, never reallocated when capacity suffices").
type AdaptiveSampler[S any] struct {
	g    *Grid[S]
	cnt  []int
	mMin int
	mMax int
	zeta float64

	// occupied tracks the running occupied-bin count since the last Reset,
	// so Observe stays O(1) instead of rescanning cnt.
	occupied int
}

// NewAdaptiveSampler constructs a sampler bound to grid g (may be nil, in
// which case Target always returns mMax per spec.md §4.2 step 1).
func NewAdaptiveSampler[S any](g *Grid[S], mMin, mMax int, zeta float64) *AdaptiveSampler[S] {
	as := &AdaptiveSampler[S]{g: g, mMin: mMin, mMax: mMax, zeta: zeta}
	if g != nil {
		as.cnt = make([]int, g.NumBins())
	}
	return as
}

// Disabled reports whether the sampler has no grid, i.e. the KLD rule is off.
func (as *AdaptiveSampler[S]) Disabled() bool { return as.g == nil }

// MMin, MMax expose the configured particle-count bounds.
func (as *AdaptiveSampler[S]) MMin() int { return as.mMin }
func (as *AdaptiveSampler[S]) MMax() int { return as.mMax }

// Reset clears the access-count scratch in place, retaining capacity.
func (as *AdaptiveSampler[S]) Reset() {
	for i := range as.cnt {
		as.cnt[i] = 0
	}
	as.occupied = 0
}

// Observe accounts for state s, returning the running count of occupied
// bins seen so far (across all Observe calls since the last Reset).
func (as *AdaptiveSampler[S]) Observe(s S) int {
	idx := as.g.Bin(s)
	wasEmpty := as.cnt[idx] == 0
	as.cnt[idx]++
	as.occupied += boolToInt(wasEmpty)
	return as.occupied
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Target returns min(mMax, ceil(KLDSampleSize(k, zeta))) for the given
// occupied-bin count k, clamped to be at least mMin (spec.md §4.2: "Final
// sample size lies in [m_min, m_max]").
func (as *AdaptiveSampler[S]) Target(k int) int {
	if as.g == nil {
		return as.mMax
	}
	n := int(math.Ceil(as.g.KLDSampleSize(k, as.zeta)))
	if n < as.mMin {
		n = as.mMin
	}
	if n > as.mMax {
		n = as.mMax
	}
	return n
}

// TargetForBelief computes the clamped target sample size for an existing
// weighted belief by counting occupied bins over its own particles (spec.md
// §4.2, "When resampling an existing weighted belief..."). particles may
// contain duplicates; all are counted, matching the bin-occupancy semantics
// used for the root's iterative rule.
func (as *AdaptiveSampler[S]) TargetForBelief(particles []S) int {
	if as.g == nil {
		return as.mMax
	}
	as.Reset()
	k := 0
	for _, s := range particles {
		k = as.Observe(s)
	}
	return as.Target(k)
}
