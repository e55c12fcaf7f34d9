package sample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLWR(t *testing.T) {
	s := &Sample{PQueries: []PQuery{
		{SeqID: 0, Placements: []Placement{
			{BranchID: 1, LogLikelihood: math.Log(0.6)},
			{BranchID: 2, LogLikelihood: math.Log(0.3)},
			{BranchID: 3, LogLikelihood: math.Log(0.1)},
		}},
	}}
	SetLWR(s)

	sum := 0.0
	for _, p := range s.PQueries[0].Placements {
		sum += p.LWR
	}
	assert.InEpsilon(t, 1.0, sum, 1e-9)
	assert.InEpsilon(t, 0.6, s.PQueries[0].Placements[0].LWR, 1e-9)
}

func TestSetLWREmptyPQuery(t *testing.T) {
	s := &Sample{PQueries: []PQuery{{SeqID: 0}}}
	assert.NotPanics(t, func() { SetLWR(s) })
}

func TestSortByLWRAndLogl(t *testing.T) {
	pq := &PQuery{Placements: []Placement{
		{BranchID: 1, LogLikelihood: -5, LWR: 0.1},
		{BranchID: 2, LogLikelihood: -1, LWR: 0.7},
		{BranchID: 3, LogLikelihood: -2, LWR: 0.2},
	}}

	SortByLWR(pq)
	assert.Equal(t, []int32{2, 3, 1}, branchOrder(pq))

	SortByLogl(pq)
	assert.Equal(t, []int32{2, 3, 1}, branchOrder(pq))
}

func branchOrder(pq *PQuery) []int32 {
	out := make([]int32, len(pq.Placements))
	for i, p := range pq.Placements {
		out[i] = p.BranchID
	}
	return out
}

func TestUntilTopPercent(t *testing.T) {
	pq := &PQuery{Placements: make([]Placement, 10)}
	assert.Equal(t, 5, UntilTopPercent(pq, 0.5))
	assert.Equal(t, 10, UntilTopPercent(pq, 1.0))
	assert.Equal(t, 0, UntilTopPercent(pq, 0))
	assert.Equal(t, 10, UntilTopPercent(pq, 1.5))
}

func TestUntilAccumulatedReached(t *testing.T) {
	pq := &PQuery{Placements: []Placement{
		// Powers of two, so the running sums hit the threshold exactly.
		{LWR: 0.5}, {LWR: 0.25}, {LWR: 0.125}, {LWR: 0.125},
	}}
	assert.Equal(t, 2, UntilAccumulatedReached(pq, 0.75, 1, 7))
	assert.Equal(t, 3, UntilAccumulatedReached(pq, 0.75, 3, 7))
	assert.Equal(t, 2, UntilAccumulatedReached(pq, 0.99, 1, 2))
}

func TestDiscardBySupportThreshold(t *testing.T) {
	s := &Sample{PQueries: []PQuery{{Placements: []Placement{
		{BranchID: 1, LWR: 0.5}, {BranchID: 2, LWR: 0.05}, {BranchID: 3, LWR: 0.01},
	}}}}
	DiscardBySupportThreshold(s, 0.1, 1, 7)
	assert.Len(t, s.PQueries[0].Placements, 1)
	assert.Equal(t, int32(1), s.PQueries[0].Placements[0].BranchID)
}

func TestDiscardBySupportThresholdEnforcesMin(t *testing.T) {
	s := &Sample{PQueries: []PQuery{{Placements: []Placement{
		{BranchID: 1, LWR: 0.5}, {BranchID: 2, LWR: 0.01}, {BranchID: 3, LWR: 0.005},
	}}}}
	DiscardBySupportThreshold(s, 0.1, 2, 7)
	assert.Len(t, s.PQueries[0].Placements, 2)
}

func TestSplitByModN(t *testing.T) {
	s := &Sample{PQueries: []PQuery{{SeqID: 0}, {SeqID: 1}, {SeqID: 2}, {SeqID: 3}}}
	out := Split(s, 2)
	assert.Len(t, out, 2)
	assert.Len(t, out[0].PQueries, 2)
	assert.Len(t, out[1].PQueries, 2)
}

func TestMergeAppendsOrAdds(t *testing.T) {
	dest := &Sample{PQueries: []PQuery{{SeqID: 0, Placements: []Placement{{BranchID: 1}}}}}
	src := Sample{PQueries: []PQuery{
		{SeqID: 0, Placements: []Placement{{BranchID: 2}}},
		{SeqID: 1, Placements: []Placement{{BranchID: 3}}},
	}}
	Merge(dest, src)
	assert.Len(t, dest.PQueries, 2)
	assert.Len(t, dest.PQueries[0].Placements, 2)
}

func TestCollapseMergesBySeqID(t *testing.T) {
	s := &Sample{PQueries: []PQuery{
		{SeqID: 0, Placements: []Placement{{BranchID: 1}}},
		{SeqID: 0, Placements: []Placement{{BranchID: 2}}},
		{SeqID: 1, Placements: []Placement{{BranchID: 1}}},
	}}
	err := Collapse(s)
	assert.NoError(t, err)
	assert.Len(t, s.PQueries, 2)
	assert.Len(t, s.PQueries[0].Placements, 2)
}

func TestCollapseDetectsDuplicateBranch(t *testing.T) {
	s := &Sample{PQueries: []PQuery{
		{SeqID: 0, Placements: []Placement{{BranchID: 1}}},
		{SeqID: 0, Placements: []Placement{{BranchID: 1}}},
	}}
	err := Collapse(s)
	assert.Error(t, err)
}

func TestWorkPairsSortedByBranch(t *testing.T) {
	w := Work{5: {1, 2}, 1: {3}}
	pairs := w.Pairs()
	assert.Equal(t, [][2]int{{1, 3}, {5, 1}, {5, 2}}, pairs)
}
