// Package tree implements the belief-tree store of spec.md §3/§4.4: two
// parallel, growable arenas (belief nodes and action-branch nodes) addressed
// by stable integer handles, avoiding cyclic pointer references (see design
// notes). This generalizes the teacher's internal/searchers/mcts.cacheNode
// arrays-of-per-action-stats idea (N, sumN, sumScores indexed by action) from
// a pointer tree of per-node structs into a flat, handle-addressed arena.
package tree

// BHandle addresses a belief node in a Tree. The zero value means "no
// parent" (the root's parent handle) and is never a valid node index: arenas
// are 1-indexed, matching spec.md §3 ("The root b-node (handle 1)").
type BHandle int

// BAHandle addresses an action-branch node in a Tree.
type BAHandle int

// BNode is a belief node (spec.md §3). Weights holds w, the belief's
// particle-weight vector; the particles themselves live on the parent
// action-branch's Particles slice (or, for the root, on Tree.RootParticles).
type BNode[S any] struct {
	Depth     int
	ParentBA  BAHandle // 0 for the root
	ReachProb float32  // probability of reaching this belief given the parent's action
	Weights   []float32
	L, U      float32

	ChildStart BAHandle // first action-branch child handle, 0 if none
	ChildCount int
}

// BANode is an action-branch node (spec.md §3). Particles holds P, the
// propagated next-states shared by all observation children.
type BANode[A, S any] struct {
	Action    A
	ParentB   BHandle
	RBar      float32 // weight-averaged immediate reward over nonterminal particles
	Particles []S
	L, U      float32 // ba_l, ba_u

	ChildStart BHandle // first belief-node (observation) child handle, 0 if none
	ChildCount int
}

// Tree holds the two arenas plus the root's own resampled particle set
// (spec.md §3: "Root belief is held separately because b-node 1's weights
// are those of the resampled root").
type Tree[S, A, O comparable] struct {
	BNodes  []BNode[S]
	BANodes []BANode[A, S]

	RootParticles []S

	// obs holds the incoming observation for each BNode (index-aligned with
	// BNodes); kept as a parallel slice rather than a BNode field so that
	// BNode stays free of the O type parameter duplication in hot loops that
	// only touch weights/bounds. hasObs[1] is always false (the root).
	obs    []O
	hasObs []bool
}

// New allocates a tree with arena capacity hints (spec.md §6 "num_b").
func New[S, A, O comparable](numB int) *Tree[S, A, O] {
	t := &Tree[S, A, O]{}
	t.BNodes = make([]BNode[S], 1, max(numB, 1)+1)
	t.BANodes = make([]BANode[A, S], 1, max(numB, 1)+1)
	t.obs = make([]O, 1, max(numB, 1)+1)
	t.hasObs = make([]bool, 1, max(numB, 1)+1)
	return t
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Reset clears the tree in place for reuse across decision epochs (spec.md
// §5: "the same tree is reset... and reused"), truncating both arenas back
// to just the sentinel index 0. Go's append already grows slice backing
// arrays by (approximately) doubling, so truncating via re-slicing retains
// the arenas' capacity rather than reallocating (spec.md §5: "Arenas grow by
// doubling... shrinking is not performed").
func (t *Tree[S, A, O]) Reset() {
	t.BNodes = t.BNodes[:1]
	t.BANodes = t.BANodes[:1]
	t.obs = t.obs[:1]
	t.hasObs = t.hasObs[:1]
	t.RootParticles = t.RootParticles[:0]
}

// NewBNode appends a new belief node and returns its handle.
func (t *Tree[S, A, O]) NewBNode(n BNode[S]) BHandle {
	t.BNodes = append(t.BNodes, n)
	t.obs = append(t.obs, *new(O))
	t.hasObs = append(t.hasObs, false)
	return BHandle(len(t.BNodes) - 1)
}

// SetObs records the incoming observation for a belief node.
func (t *Tree[S, A, O]) SetObs(h BHandle, o O) {
	t.obs[h] = o
	t.hasObs[h] = true
}

// Obs returns the incoming observation for h and whether one is defined.
func (t *Tree[S, A, O]) Obs(h BHandle) (O, bool) {
	return t.obs[h], t.hasObs[h]
}

// NewBANode appends a new action-branch node and returns its handle.
func (t *Tree[S, A, O]) NewBANode(n BANode[A, S]) BAHandle {
	t.BANodes = append(t.BANodes, n)
	return BAHandle(len(t.BANodes) - 1)
}

// B returns a pointer to the belief node at h, for in-place mutation.
func (t *Tree[S, A, O]) B(h BHandle) *BNode[S] { return &t.BNodes[h] }

// BA returns a pointer to the action-branch node at h.
func (t *Tree[S, A, O]) BA(h BAHandle) *BANode[A, S] { return &t.BANodes[h] }

// IsRoot reports whether h is the root belief node.
func (t *Tree[S, A, O]) IsRoot(h BHandle) bool { return h == 1 }

// Root returns the root belief node's handle.
func (t *Tree[S, A, O]) Root() BHandle { return 1 }

// IsLeaf reports whether a belief node has not yet been expanded.
func (t *Tree[S, A, O]) IsLeaf(h BHandle) bool { return t.BNodes[h].ChildCount == 0 }

// BAChildren returns the handles of a belief node's action-branch children.
func (t *Tree[S, A, O]) BAChildren(h BHandle) []BAHandle {
	n := &t.BNodes[h]
	children := make([]BAHandle, n.ChildCount)
	for i := range children {
		children[i] = n.ChildStart + BAHandle(i)
	}
	return children
}

// BChildren returns the handles of an action-branch node's observation
// (belief-node) children.
func (t *Tree[S, A, O]) BChildren(h BAHandle) []BHandle {
	n := &t.BANodes[h]
	children := make([]BHandle, n.ChildCount)
	for i := range children {
		children[i] = n.ChildStart + BHandle(i)
	}
	return children
}

// ParticlesOf returns the particle states a belief node's weights index
// into: the parent action-branch's Particles, or the tree's RootParticles
// for the root.
func (t *Tree[S, A, O]) ParticlesOf(h BHandle) []S {
	n := &t.BNodes[h]
	if n.ParentBA == 0 {
		return t.RootParticles
	}
	return t.BANodes[n.ParentBA].Particles
}
