// Package tree implements the reference phylogenetic tree (spec.md §3, §4.5,
// §9): an arena of half-edges forming closed triplet rings at every inner
// node, Newick construction with unrooting and a rooted-tree mapper
// (spec.md §4.12), and on-demand CLV materialization.
//
// The half-edge arena itself borrows nothing structurally from the teacher
// (github.com/grailbio/bio has no tree data structure), so it is grounded
// directly on spec.md §3/§9's description plus the node/edge Newick-handling
// conventions of _examples/pythseq-gotree/tree/tree.go (UnRoot,
// ReorderEdges, post-order edge numbering), adapted from that package's
// parent/child node-list representation to the ring-of-three half-edge
// arena spec.md calls for.
package tree

import "github.com/epa-ng/epa-ng/epaerr"

// noHalfedge is the "no back/next" arena sentinel.
const noHalfedge = -1

// NoScaler is the sentinel scaler_index meaning "no scaler attached".
const NoScaler = -1

// Halfedge is one directed half of a reference-tree edge.
type Halfedge struct {
	// Back is the arena index of the opposite half-edge of this edge.
	Back int32
	// Next is the arena index of the next half-edge in this node's
	// three-way ring (noHalfedge for a tip, which has no ring).
	Next int32
	// CLVIndex identifies the CLV viewed out along this half-edge: the
	// partial likelihood of everything on the far side of Back, i.e. the
	// product of the other two ring directions at this node. For a tip
	// half-edge it indexes the tipchar/CLV slot owned by that tip.
	CLVIndex int32
	// ScalerIndex identifies this half-edge's scale-factor buffer, or
	// NoScaler for tips.
	ScalerIndex int32
	// PMatrixIndex identifies the probability matrix for this edge; shared
	// by both half-edges of an edge since the substitution model is
	// time-reversible.
	PMatrixIndex int32
	// Length is the branch length belonging to this edge (both half-edges
	// of an edge report the same value).
	Length float64
	// Label is non-empty only for the single half-edge owned by a tip.
	Label string
}

// Tree is the half-edge arena for an unrooted binary reference tree.
type Tree struct {
	Halfedges []Halfedge

	TipCount   int
	InnerCount int
	EdgeCount  int

	// TipHalfedge maps a tip's CLV/tipchar index (0..TipCount) to its one
	// owning half-edge.
	TipHalfedge []int32
	// TipLabel maps a tip index to its label; the inverse of TipHalfedge's
	// Label field, kept as a slice for cheap sequential access.
	TipLabel []string
	// LabelToTip maps a label back to its tip index.
	LabelToTip map[string]int

	// EdgeHalfedge maps a branch id to one of its two half-edges
	// (arena index 2*branchID, by construction).
	EdgeHalfedge []int32

	// Root is an arbitrary half-edge used as the default traversal root
	// (e.g. by ref_tree_logl with no explicit vroot).
	Root int32

	// Mapper records the original rooted tree's edge numbering, or nil if
	// the input Newick was already unrooted.
	Mapper *RootedMapper

	// subtreeSize is populated by BuildLSFOrder (memsaver.go); empty until
	// then.
	subtreeSize []int
}

// IsTip reports whether half-edge h belongs to a tip (has no ring).
func (t *Tree) IsTip(h int32) bool {
	return t.Halfedges[h].Next == noHalfedge
}

// Back returns the opposite half-edge of h.
func (t *Tree) Back(h int32) int32 { return t.Halfedges[h].Back }

// BranchID canonicalizes a half-edge to its stable dense edge id,
// min(h, h.Back) under the 2*branchID/2*branchID+1 allocation scheme used by
// the builder in newick.go.
func (t *Tree) BranchID(h int32) int32 {
	b := h
	if t.Halfedges[h].Back < b {
		b = t.Halfedges[h].Back
	}
	return b / 2
}

// EdgeLength returns the branch length of edge id b.
func (t *Tree) EdgeLength(b int32) float64 {
	return t.Halfedges[t.EdgeHalfedge[b]].Length
}

// Ring calls fn for each of the (up to three) half-edges sharing h's inner
// node, including h itself, in ring order. For a tip half-edge fn is called
// once, with h.
func (t *Tree) Ring(h int32, fn func(int32)) {
	if t.IsTip(h) {
		fn(h)
		return
	}
	cur := h
	for {
		fn(cur)
		cur = t.Halfedges[cur].Next
		if cur == h {
			return
		}
	}
}

// Endpoints returns the two half-edges of edge id b, oriented arbitrarily
// but consistently (arena[2b], arena[2b+1]).
func (t *Tree) Endpoints(b int32) (int32, int32) {
	return 2 * b, 2*b + 1
}

// validate checks the structural invariants spec.md §3 states: distinct
// per-direction CLV indices within a triplet, and edge_count = 2*tips-3.
func (t *Tree) validate() error {
	if t.EdgeCount != 2*t.TipCount-3 {
		return epaerr.New(epaerr.KindInternalInvariant, "edge_count does not match 2*tip_count-3")
	}
	for h := range t.Halfedges {
		he := t.Halfedges[h]
		if int(he.Back) < 0 || int(he.Back) >= len(t.Halfedges) {
			return epaerr.New(epaerr.KindInternalInvariant, "half-edge back index out of range")
		}
		if t.Halfedges[he.Back].Back != int32(h) {
			return epaerr.New(epaerr.KindInternalInvariant, "half-edge back pointer is not symmetric")
		}
	}
	for a := range t.Halfedges {
		if t.IsTip(int32(a)) {
			continue
		}
		seen := map[int32]bool{}
		t.Ring(int32(a), func(h int32) {
			seen[t.Halfedges[h].CLVIndex] = true
		})
		if len(seen) != 3 {
			return epaerr.New(epaerr.KindInternalInvariant, "inner triplet does not have 3 distinct clv indices")
		}
	}
	return nil
}
