package tree

import (
	"sort"

	"github.com/epa-ng/epa-ng/partition"
)

// topologyView adapts *Tree to partition.Topology. It is a separate type
// (rather than methods directly on *Tree) because Tree already exposes
// TipCount as a plain int field, which Go does not allow a same-named
// method to coexist with.
type topologyView struct{ t *Tree }

var _ partition.Topology = topologyView{}

// Topology returns t's view as a partition.Topology, for constructing a
// partition.MemorySaver.
func (t *Tree) Topology() partition.Topology { return topologyView{t} }

func (v topologyView) Neighbors(h int32) []partition.ClvNeighbor {
	if v.t.IsTip(h) {
		return nil
	}
	var out []partition.ClvNeighbor
	v.t.Ring(h, func(ring int32) {
		if ring == h {
			return
		}
		out = append(out, partition.ClvNeighbor{
			Back:         v.t.Back(ring),
			PMatrixIndex: v.t.Halfedges[ring].PMatrixIndex,
		})
	})
	return out
}

func (v topologyView) Back(h int32) int32 { return v.t.Back(h) }

func (v topologyView) SubtreeSize(h int32) int { return v.t.subtreeSize[h] }

func (v topologyView) TipCount() int { return v.t.TipCount }

// BuildLSFOrder computes subtree sizes for every half-edge and returns the
// deterministic largest-subtree-first traversal order spec.md §4.4's
// Memory Saver initialization requires: a full unrooted traversal rooted at
// an arbitrary tip, visiting larger subtrees before smaller ones at each
// branch point so that partial_compute_clvs's pinning heuristic has a
// stable, reproducible candidate order to sort.
func (t *Tree) BuildLSFOrder() []int32 {
	t.subtreeSize = make([]int, len(t.Halfedges))
	var size func(h int32) int
	size = func(h int32) int {
		if t.subtreeSize[h] > 0 {
			return t.subtreeSize[h]
		}
		if t.IsTip(h) {
			t.subtreeSize[h] = 1
			return 1
		}
		total := 0
		t.Ring(h, func(ring int32) {
			if ring == h {
				return
			}
			total += size(t.Back(ring))
		})
		t.subtreeSize[h] = total
		return total
	}
	for h := range t.Halfedges {
		size(int32(h))
	}

	var order []int32
	visited := make([]bool, len(t.Halfedges))
	var walk func(h int32)
	walk = func(h int32) {
		if visited[h] {
			return
		}
		visited[h] = true
		order = append(order, h)
		if t.IsTip(h) {
			return
		}
		var children []int32
		t.Ring(h, func(ring int32) {
			if ring != h {
				children = append(children, t.Back(ring))
			}
		})
		sort.SliceStable(children, func(i, j int) bool {
			return t.subtreeSize[children[i]] > t.subtreeSize[children[j]]
		})
		for _, c := range children {
			walk(c)
		}
	}
	start := t.TipHalfedge[0]
	visited[start] = true
	order = append(order, start)
	walk(t.Back(start))
	return order
}
