package belief

// View is a short-lived, non-owning belief that borrows a particle slice and
// an overridden weight vector from tree arenas (spec.md §4.1). It is used
// during bound evaluation, where sibling observation-children share a single
// propagated particle vector P but differ in their reweighted W[i] and
// incoming observation.
//
// Views do not own memory: callers must not mutate the underlying arena
// while a View is live (see SPEC_FULL.md's concurrency notes / design notes
// on scoped-borrow discipline). A View is safe to pass by value.
type View[S comparable, O comparable] struct {
	particles []S // borrowed, shared across sibling views
	weights   []float32
	sum       float32
	depth     int
	obs       O
	hasObs    bool
}

// NewView constructs a view over particles/weights with an overridden depth
// and current observation, as produced by the expansion pipeline's
// observation-packing step (spec.md §4.4 step 5).
func NewView[S comparable, O comparable](particles []S, weights []float32, sum float32, depth int, obs O) View[S, O] {
	return View[S, O]{particles: particles, weights: weights, sum: sum, depth: depth, obs: obs, hasObs: true}
}

// NewRootView constructs a view with no incoming observation, for the root
// belief of a decision epoch.
func NewRootView[S comparable, O comparable](particles []S, weights []float32, sum float32) View[S, O] {
	return View[S, O]{particles: particles, weights: weights, sum: sum}
}

func (v View[S, O]) NParticles() int        { return len(v.particles) }
func (v View[S, O]) Particle(i int) S       { return v.particles[i] }
func (v View[S, O]) Particles() []S         { return v.particles }
func (v View[S, O]) Weight(i int) float32   { return v.weights[i] }
func (v View[S, O]) Weights() []float32     { return v.weights }
func (v View[S, O]) WeightSum() float32     { return v.sum }
func (v View[S, O]) Depth() int             { return v.depth }

// CurrentObs returns the observation that produced this belief and whether
// one is defined (the root view has none).
func (v View[S, O]) CurrentObs() (O, bool) { return v.obs, v.hasObs }

// History mirrors CurrentObs: per spec.md §4.1 "history(b) (last observation
// only)", a view only ever needs to recall its immediate incoming
// observation, never a full trajectory.
func (v View[S, O]) History() (O, bool) { return v.CurrentObs() }
