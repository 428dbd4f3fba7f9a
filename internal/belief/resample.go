package belief

import "math/rand"

// StratifiedResample draws m states from (states, weights) with replacement,
// using systematic (stratified) resampling: a single random offset followed
// by m evenly-spaced draws along the cumulative weight axis. This has lower
// variance than m independent draws and is the "single stratified draw"
// spec.md §4.2 calls for when resampling an existing weighted belief.
//
// out must have length m (or be nil, in which case a new slice is
// allocated). Callers assign the post-resampling weights themselves (each
// 1/m, since stratified resampling returns equally-weighted particles).
func StratifiedResample[S comparable](states []S, weights []float32, sum float32, m int, rng *rand.Rand, out []S) []S {
	if out == nil || len(out) != m {
		out = make([]S, m)
	}
	if sum <= 0 || len(states) == 0 {
		return out[:0]
	}
	step := sum / float32(m)
	offset := rng.Float32() * step
	var cum float32
	srcIdx := 0
	cum = weights[0]
	for i := 0; i < m; i++ {
		target := offset + step*float32(i)
		for cum < target && srcIdx < len(states)-1 {
			srcIdx++
			cum += weights[srcIdx]
		}
		out[i] = states[srcIdx]
	}
	return out
}
