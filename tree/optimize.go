package tree

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// optEpsilon mirrors tinytree.OptEpsilon: a round-robin pass over every
// edge stops once it improves the whole-tree log-likelihood by less than
// this amount.
const optEpsilon = 1e-6

const (
	minBranchLength = 1e-6
	maxBranchLength = 10.0
)

// OptimizeBranchLengths implements the `-O` fixed-topology tuning pass
// recovered from original_source's src/optimize.cpp: round-robin,
// per-edge univariate branch-length optimization against the whole-tree
// log-likelihood, holding the topology and substitution-model parameters
// fixed. Every edge that changes forces a full postorder CLV refill before
// the next edge is evaluated, since branch lengths other than a leaf edge
// affect every CLV on the root side of the change.
func (rt *ReferenceTree) OptimizeBranchLengths() float64 {
	prevLogl := math.Inf(-1)
	logl := prevLogl

	for round := 0; round < 16; round++ {
		for b := int32(0); b < int32(rt.Tree.EdgeCount); b++ {
			rt.optimizeEdge(b)
			rt.fullPostorderFill()
		}

		var err error
		logl, err = rt.RefTreeLogl(rt.Tree.Root)
		if err != nil {
			break
		}
		if logl-prevLogl < optEpsilon {
			break
		}
		prevLogl = logl
	}
	return logl
}

// optimizeEdge maximizes whole-tree log-likelihood over one edge's branch
// length, all others held fixed, via bounded Nelder-Mead on the negative
// log-likelihood, the same one-dimensional-minimization idiom
// tinytree.optimizeBranch uses for its own three branches.
func (rt *ReferenceTree) optimizeEdge(branchID int32) {
	h := rt.Tree.EdgeHalfedge[branchID]
	back := rt.Tree.Back(h)
	clvA := rt.Tree.Halfedges[h].CLVIndex
	clvB := rt.Tree.Halfedges[back].CLVIndex
	length := rt.Tree.EdgeLength(branchID)

	negLogl := func(x []float64) float64 {
		l := clampBranch(x[0])
		rt.Partition.SetBranchLength(branchID, l)
		return -rt.Partition.EdgeLogl(clvA, clvB, branchID)
	}

	problem := optimize.Problem{Func: negLogl}
	result, err := optimize.Minimize(problem, []float64{length}, &optimize.Settings{
		MajorIterations: 20,
	}, &optimize.NelderMead{})
	if err != nil || result == nil {
		rt.Partition.SetBranchLength(branchID, length)
		return
	}

	newLength := clampBranch(result.X[0])
	rt.Partition.SetBranchLength(branchID, newLength)
	rt.Tree.Halfedges[h].Length = newLength
	rt.Tree.Halfedges[back].Length = newLength
}

func clampBranch(l float64) float64 {
	if l < minBranchLength {
		return minBranchLength
	}
	if l > maxBranchLength {
		return maxBranchLength
	}
	return l
}
