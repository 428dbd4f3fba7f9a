package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binOf10(x int) int {
	if x < 0 {
		return 0
	}
	if x >= 10 {
		return 9
	}
	return x
}

func TestKLDSampleSizeSingleBin(t *testing.T) {
	g := New(binOf10, 10)
	assert.Equal(t, 1.0, g.KLDSampleSize(1, 0.05))
	assert.Equal(t, 1.0, g.KLDSampleSize(0, 0.05))
}

func TestKLDSampleSizeMonotoneInK(t *testing.T) {
	g := New(binOf10, 10)
	prev := g.KLDSampleSize(2, 0.05)
	for k := 3; k <= 10; k++ {
		n := g.KLDSampleSize(k, 0.05)
		assert.Greaterf(t, n, prev, "sample size should grow with occupied bin count k=%d", k)
		prev = n
	}
}

func TestKLDSampleSizeTighterConfidenceNeedsMore(t *testing.T) {
	g := New(binOf10, 10)
	loose := g.KLDSampleSize(5, 0.2)
	tight := g.KLDSampleSize(5, 0.01)
	assert.Greater(t, tight, loose)
}

func TestAdaptiveSamplerDisabled(t *testing.T) {
	as := NewAdaptiveSampler[int](nil, 50, 500, 0.05)
	require.True(t, as.Disabled())
	assert.Equal(t, 500, as.Target(1))
	assert.Equal(t, 500, as.TargetForBelief([]int{1, 2, 3}))
}

func TestAdaptiveSamplerTargetClampedToBounds(t *testing.T) {
	g := New(binOf10, 10)
	as := NewAdaptiveSampler[int](g, 100, 500, 0.05)
	require.False(t, as.Disabled())

	// A single occupied bin needs 1 sample, which is raised to m_min.
	assert.Equal(t, 100, as.Target(1))

	// All ten bins occupied need about 170 samples (chi-squared quantile at
	// 0.95 with 9 degrees of freedom, over 2*epsilon): more than m_min, and
	// Target keeps it within [m_min, m_max].
	as.Reset()
	n := as.Target(10)
	assert.LessOrEqual(t, n, 500)
	assert.GreaterOrEqual(t, n, 100)
}

func TestAdaptiveSamplerObserveCountsDistinctBinsOnly(t *testing.T) {
	g := New(binOf10, 10)
	as := NewAdaptiveSampler[int](g, 1, 500, 0.05)
	require.Equal(t, 1, as.Observe(3))
	require.Equal(t, 1, as.Observe(3)) // repeat: same bin, no growth
	require.Equal(t, 2, as.Observe(4))
	require.Equal(t, 3, as.Observe(5))
	as.Reset()
	require.Equal(t, 1, as.Observe(9))
}

func TestAccessReturnsOneOnlyForNewlyOccupiedBin(t *testing.T) {
	g := New(binOf10, 10)
	cnt := make([]int, g.NumBins())
	assert.Equal(t, 1, Access(g, cnt, 5))
	assert.Equal(t, 0, Access(g, cnt, 5))
	assert.Equal(t, 1, Access(g, cnt, 6))
}

func TestTargetForBeliefMatchesManualObserve(t *testing.T) {
	g := New(binOf10, 10)
	as := NewAdaptiveSampler[int](g, 1, 500, 0.05)
	particles := []int{1, 1, 2, 3, 3, 3}

	got := as.TargetForBelief(particles)

	as.Reset()
	k := 0
	for _, p := range particles {
		k = as.Observe(p)
	}
	want := as.Target(k)
	assert.Equal(t, want, got)
}
