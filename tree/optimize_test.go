package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
)

func TestOptimizeBranchLengthsImprovesOrMatchesLikelihood(t *testing.T) {
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	msa := map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGC"}
	rt, err := FromNewick("(A:0.1,B:0.2,C:0.3);", msa, Params{Model: m})
	assert.NoError(t, err)

	before, err := rt.RefTreeLogl(rt.Tree.Root)
	assert.NoError(t, err)

	after := rt.OptimizeBranchLengths()
	assert.GreaterOrEqual(t, after, before-1e-6)

	for b := int32(0); b < int32(rt.Tree.EdgeCount); b++ {
		l := rt.Tree.EdgeLength(b)
		assert.GreaterOrEqual(t, l, minBranchLength)
		assert.LessOrEqual(t, l, maxBranchLength)
	}
}
