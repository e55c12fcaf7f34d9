package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/lookup"
	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/msastream"
	"github.com/epa-ng/epa-ng/sample"
	"github.com/epa-ng/epa-ng/tree"
)

func buildDriverFixture(t *testing.T) *Driver {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	msa := map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGC"}
	rt, err := tree.FromNewick("(A:0.1,B:0.2,C:0.3);", msa, tree.Params{Model: m})
	assert.NoError(t, err)

	store := lookup.New(rt.Tree.EdgeCount, rt.Partition.States()+1, rt.Partition.Sites)
	opts := DefaultOptions
	opts.Threads = 2
	return &Driver{Ref: rt, Lookup: store, Opts: opts}
}

func TestRunChunkProducesOnePlacementSetPerQuery(t *testing.T) {
	d := buildDriverFixture(t)
	chunk := []msastream.Record{
		{Header: "q1", Sequence: []byte("ACGT")},
		{Header: "q2", Sequence: []byte("ACGA")},
	}

	s, err := d.RunChunk(chunk, 0)
	assert.NoError(t, err)
	assert.Len(t, s.PQueries, 2)
	for _, pq := range s.PQueries {
		assert.NotEmpty(t, pq.Placements)
		sum := 0.0
		for _, p := range pq.Placements {
			sum += p.LWR
		}
		assert.InEpsilon(t, 1.0, sum, 1e-6)
	}
}

func TestRunChunkWithoutPrescoring(t *testing.T) {
	d := buildDriverFixture(t)
	d.Opts.Prescoring = false
	d.Opts.UseLookup = false

	chunk := []msastream.Record{{Header: "q1", Sequence: []byte("ACGT")}}
	s, err := d.RunChunk(chunk, 0)
	assert.NoError(t, err)
	assert.Len(t, s.PQueries, 1)
	assert.Equal(t, d.Ref.Tree.EdgeCount, len(s.PQueries[0].Placements))
}

func TestRunChunkRejectsUnknownCharacter(t *testing.T) {
	d := buildDriverFixture(t)
	chunk := []msastream.Record{{Header: "q1", Sequence: []byte("ACZT")}}
	_, err := d.RunChunk(chunk, 0)
	assert.Error(t, err)
}

func TestRunChunkUnderMemorySaverMatchesEagerPlacement(t *testing.T) {
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	msa := map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGC"}

	rt, err := tree.FromNewick("(A:0.1,B:0.2,C:0.3);", msa, tree.Params{Model: m, MemoryBudget: 10})
	assert.NoError(t, err)

	opts := DefaultOptions
	opts.MemorySaver = true
	opts.Prescoring = false
	opts.UseLookup = false
	d := &Driver{Ref: rt, Opts: opts}

	chunk := []msastream.Record{{Header: "q1", Sequence: []byte("ACGT")}}
	s, err := d.RunChunk(chunk, 0)
	assert.NoError(t, err)
	assert.Len(t, s.PQueries, 1)
	assert.Equal(t, rt.Tree.EdgeCount, len(s.PQueries[0].Placements))
}

func TestBaseballCount(t *testing.T) {
	pq := &sample.PQuery{Placements: []sample.Placement{
		{BranchID: 0, LogLikelihood: -10},
		{BranchID: 1, LogLikelihood: -11},
		{BranchID: 2, LogLikelihood: -20},
	}}
	n := baseballCount(pq, 3, 6, 40)
	assert.Greater(t, n, 0)
	assert.LessOrEqual(t, n, len(pq.Placements))
}
