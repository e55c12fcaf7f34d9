package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/partition"
	"github.com/epa-ng/epa-ng/tinytree"
)

const testSites = 4

func buildFixture(t *testing.T) *tinytree.TinyTree {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)

	refPart, err := partition.New(m, 2, 1, 1, testSites)
	assert.NoError(t, err)

	proximalCLV, distalCLV := int32(2), int32(3)
	refPart.ImportCLV(proximalCLV, oneHotSite(0, testSites))
	refPart.ImportCLV(distalCLV, oneHotSite(1, testSites))

	tt, err := tinytree.New(refPart, proximalCLV, distalCLV, 0.1, false, true)
	assert.NoError(t, err)
	return tt
}

// oneHotSite builds a sites x 4-state one-hot CLV buffer, every site set to
// state idx, enough to exercise a real pruning update without a full tree.
func oneHotSite(idx, sites int) []float64 {
	out := make([]float64, sites*4)
	for s := 0; s < sites; s++ {
		out[s*4+idx] = 1
	}
	return out
}

func TestInitBranchIsIdempotent(t *testing.T) {
	tt := buildFixture(t)
	s := New(1, 5, testSites)

	s.InitBranch(0, tt)
	assert.True(t, s.IsReady(0))
	firstRow := s.table[0]

	s.InitBranch(0, tt)
	assert.Equal(t, firstRow, s.table[0])
	assert.True(t, s.IsReady(0))
}

func TestSumPrecomputedSitelkMatchesDirectCall(t *testing.T) {
	tt := buildFixture(t)
	s := New(1, 5, testSites)
	s.InitBranch(0, tt)

	seq := []byte{0, 1, 2, 3}
	got, err := s.SumPrecomputedSitelk(0, seq, 0, testSites)
	assert.NoError(t, err)

	want := 0.0
	for i, c := range seq {
		want += s.table[0][c][i]
	}
	assert.InEpsilon(t, want, got, 1e-9)
}

func TestSumPrecomputedSitelkRejectsUninitializedBranch(t *testing.T) {
	s := New(2, 5, testSites)
	_, err := s.SumPrecomputedSitelk(1, []byte{0, 0, 0, 0}, 0, testSites)
	assert.Error(t, err)
}

func TestSumPrecomputedSitelkRejectsOutOfRangeCharacter(t *testing.T) {
	tt := buildFixture(t)
	s := New(1, 5, testSites)
	s.InitBranch(0, tt)

	_, err := s.SumPrecomputedSitelk(0, []byte{9, 0, 0, 0}, 0, testSites)
	assert.Error(t, err)
}
