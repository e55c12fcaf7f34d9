package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
)

func buildTwoTipPartition(t *testing.T) *Partition {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	p, err := New(m, 2, 0, 1, 4)
	assert.NoError(t, err)
	assert.NoError(t, p.SetTip(0, "ACGT"))
	assert.NoError(t, p.SetTip(1, "ACGT"))
	return p
}

func TestNewRejectsZeroWidthAlignment(t *testing.T) {
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	_, err = New(m, 2, 0, 1, 0)
	assert.Error(t, err)
}

func TestSetTipCanonicalizesCharacters(t *testing.T) {
	p := buildTwoTipPartition(t)
	assert.Equal(t, []byte{0, 1, 2, 3}, p.TipChars(0))
}

func TestEdgeLoglIdenticalTipsIsMaximal(t *testing.T) {
	p := buildTwoTipPartition(t)
	p.SetBranchLength(0, 0.1)

	identical := p.EdgeLogl(0, 1, 0)

	q, err := New(p.Model, 2, 0, 1, 4)
	assert.NoError(t, err)
	assert.NoError(t, q.SetTip(0, "ACGT"))
	assert.NoError(t, q.SetTip(1, "TTTT"))
	q.SetBranchLength(0, 0.1)
	different := q.EdgeLogl(0, 1, 0)

	assert.Greater(t, identical, different)
}

func TestEdgeLoglRangeMatchesFullRangeSubset(t *testing.T) {
	p := buildTwoTipPartition(t)
	p.SetBranchLength(0, 0.1)

	full := p.EdgeLoglRange(0, 1, 0, 0, 4)
	half := p.EdgeLoglRange(0, 1, 0, 0, 2) + p.EdgeLoglRange(0, 1, 0, 2, 2)
	assert.InEpsilon(t, full, half, 1e-9)
}

func TestPerSiteEdgeLoglSumsToEdgeLogl(t *testing.T) {
	p := buildTwoTipPartition(t)
	p.SetBranchLength(0, 0.1)

	out := make([]float64, 4)
	p.PerSiteEdgeLogl(0, 1, 0, out)

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	assert.InEpsilon(t, p.EdgeLogl(0, 1, 0), sum, 1e-9)
}

func TestMaterializedCLVOneHotForPatternTip(t *testing.T) {
	p := buildTwoTipPartition(t)
	clv := p.MaterializedCLV(0)
	assert.Len(t, clv, 4*p.States())
	assert.Equal(t, 1.0, clv[0]) // site 0 is 'A' -> state 0
}

func TestEmpiricalCharacterFrequencies(t *testing.T) {
	p := buildTwoTipPartition(t)
	freqs := p.EmpiricalCharacterFrequencies()
	assert.Len(t, freqs, p.States())
	sum := 0.0
	for _, f := range freqs {
		sum += f
	}
	assert.InEpsilon(t, 1.0, sum, 1e-9)
}
