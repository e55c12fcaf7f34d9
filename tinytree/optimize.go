package tinytree

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// OptEpsilon is spec.md §4.1 step 3a's OPT_EPSILON: the three-branch
// optimizer stops iterating once a full round-robin pass improves
// log-likelihood by less than this amount, mirroring the original source's
// Newton-step stopping rule (src/optimize.cpp).
const OptEpsilon = 1e-6

const (
	minBranchLength = 1e-6
	maxBranchLength = 10.0
)

// optimize runs spec.md §4.1 step 3a: it optimizes each of the three
// Tiny-Tree branch lengths in turn, restricted to [begin, begin+span), until
// a full round's log-likelihood improvement drops below OptEpsilon (at most
// 32 rounds). Each branch is minimized with gonum's derivative-free
// Nelder-Mead method (gonum.org/v1/gonum/optimize), with lengths clamped to
// [minBranchLength, maxBranchLength]; no Newton or other derivative-based
// steps are taken.
func (tt *TinyTree) optimize(begin, span int) {
	prevLogl := math.Inf(-1)
	for round := 0; round < 32; round++ {
		tt.optimizeBranch(pmProximal, &tt.canonInner2Proximal, begin, span)
		tt.optimizeBranch(pmDistal, &tt.canonInner2Distal, begin, span)
		tt.optimizeBranch(pmQuery, &tt.canonInner2Query, begin, span)

		tt.updateInner()
		logl := tt.evaluate(begin, span)
		if logl-prevLogl < OptEpsilon {
			break
		}
		prevLogl = logl
	}
}

// optimizeBranch maximizes the tiny tree's log-likelihood over a single
// branch length (all others held fixed) via a bounded 1-D minimization of
// negative log-likelihood, updating *length and the partition's cached
// probability matrix for pmatrixIndex in place.
func (tt *TinyTree) optimizeBranch(pmatrixIndex int32, length *float64, begin, span int) {
	negLogl := func(x []float64) float64 {
		l := clampBranch(x[0])
		tt.part.SetBranchLength(pmatrixIndex, l)
		tt.updateInner()
		return -tt.evaluate(begin, span)
	}

	problem := optimize.Problem{Func: negLogl}
	result, err := optimize.Minimize(problem, []float64{*length}, &optimize.Settings{
		MajorIterations: 20,
	}, &optimize.NelderMead{})
	if err != nil || result == nil {
		tt.part.SetBranchLength(pmatrixIndex, *length)
		return
	}
	*length = clampBranch(result.X[0])
	tt.part.SetBranchLength(pmatrixIndex, *length)
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
