package tree

import "github.com/epa-ng/epa-ng/epaerr"

// buildArena converts an unrooted nwNode tree (every internal node has
// exactly 3 neighbors, every tip has exactly 1) into the half-edge arena,
// assigning branch ids by the same deterministic post-order DFS that lays
// the arena out: edge (cur,nb)'s id/arena slot is allocated only after
// nb's whole subtree has already been laid out, so ids increase from the
// tips inward to the DFS root.
//
// If mapper is non-nil (the input was rooted and unroot merged the
// original root's two branches into one arena edge), rootOtherChild
// identifies the far side of that merged edge so buildArena can record its
// freshly assigned branch id as mapper.RootBranchID.
func buildArena(root *nwNode, defaultBranchLength float64, mapper *RootedMapper, rootOtherChild *nwNode) (*Tree, error) {
	tipCount := countTips(root)
	if tipCount < 3 {
		return nil, epaerr.New(epaerr.KindParse, "newick: fewer than 3 tips")
	}
	innerCount := tipCount - 2
	edgeCount := 2*tipCount - 3

	t := &Tree{
		TipCount:     tipCount,
		InnerCount:   innerCount,
		EdgeCount:    edgeCount,
		Halfedges:    make([]Halfedge, 2*edgeCount),
		TipHalfedge:  make([]int32, tipCount),
		TipLabel:     make([]string, tipCount),
		LabelToTip:   make(map[string]int, tipCount),
		EdgeHalfedge: make([]int32, edgeCount),
	}

	var nextTip int32
	var nextInner int32
	var nextEdge int32

	// innerSlot maps an inner node to the base clv index of its triplet
	// (tip_count + 3*innerIdx); the three ring directions occupy
	// base, base+1, base+2.
	innerSlot := make(map[*nwNode]int32)

	allocInner := func(n *nwNode) int32 {
		base := int32(tipCount) + 3*nextInner
		innerSlot[n] = base
		nextInner++
		return base
	}

	// buildFrom visits cur (coming from parent, or parent==nil at the DFS
	// root) and, for every OTHER neighbor, recurses first and only then
	// allocates the edge to it (post-order), so a subtree's edges are always
	// numbered before the edge connecting it back to its parent. Rings are
	// finalized after the whole DFS, once every inner node's parent-facing
	// half-edge has been appended. Since the input is a tree, "nb == parent"
	// is sufficient to avoid walking back the way we came; there are no
	// other cycles to guard against.
	type pendingRing struct {
		halves []int32 // arena indices of cur's own half-edges, ring order
	}
	rings := map[*nwNode]*pendingRing{}

	// parentEdgeID records, for every node but the DFS root, the branch id
	// of the edge connecting it to its parent; used below to resolve
	// mapper.RootBranchID.
	parentEdgeID := map[*nwNode]int32{}

	var buildFrom func(cur, parent *nwNode) (clvIdx int32)
	buildFrom = func(cur, parent *nwNode) int32 {
		if cur.isTip() {
			tipIdx := nextTip
			nextTip++
			t.TipLabel[tipIdx] = cur.label
			t.LabelToTip[cur.label] = int(tipIdx)
			return tipIdx
		}
		base := allocInner(cur)
		pr := &pendingRing{}
		rings[cur] = pr

		for _, nb := range cur.neigh {
			if nb == parent {
				continue
			}

			length := neighLen(cur, nb, defaultBranchLength)
			childClv := buildFrom(nb, cur)

			b := nextEdge
			nextEdge++
			hNear, hFar := 2*b, 2*b+1
			parentEdgeID[nb] = b

			t.Halfedges[hNear] = Halfedge{Back: hFar, PMatrixIndex: b, Length: length}
			t.Halfedges[hFar] = Halfedge{Back: hNear, PMatrixIndex: b, Length: length}
			t.EdgeHalfedge[b] = hNear

			if nb.isTip() {
				t.Halfedges[hFar].CLVIndex = childClv
				t.Halfedges[hFar].ScalerIndex = NoScaler
				t.Halfedges[hFar].Next = noHalfedge
				t.Halfedges[hFar].Label = nb.label
				t.TipHalfedge[childClv] = hFar
			} else {
				childRing := rings[nb]
				childRing.halves = append(childRing.halves, hFar)
			}

			pr.halves = append(pr.halves, hNear)
		}

		return base // a parent never reads this for an inner nb; only the tip case above does
	}

	buildFrom(root, nil)

	for n, pr := range rings {
		base := innerSlot[n]
		for i, h := range pr.halves {
			t.Halfedges[h].CLVIndex = base + int32(i)
			t.Halfedges[h].ScalerIndex = base + int32(i) - int32(tipCount)
		}
		linkRing(t, pr.halves)
	}

	if mapper != nil && rootOtherChild != nil {
		mapper.RootBranchID = parentEdgeID[rootOtherChild]
	}

	t.Root = t.EdgeHalfedge[0]
	t.Mapper = mapper
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func neighLen(a, b *nwNode, defaultBranchLength float64) float64 {
	for i, nb := range a.neigh {
		if nb == b {
			return a.lenTo(i, defaultBranchLength)
		}
	}
	return defaultBranchLength
}

// linkRing wires up the Next pointers for the (up to three) half-edges
// owned by one inner node into a closed ring.
func linkRing(t *Tree, halves []int32) {
	n := len(halves)
	for i, h := range halves {
		t.Halfedges[h].Next = halves[(i+1)%n]
	}
}
