package branchbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/tree"
)

func buildFixture(t *testing.T) *tree.ReferenceTree {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	msa := map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGC"}
	rt, err := tree.FromNewick("(A:0.1,B:0.2,C:0.3);", msa, tree.Params{Model: m})
	assert.NoError(t, err)
	return rt
}

func TestBufferProducesOnlyWhitelistedBranches(t *testing.T) {
	rt := buildFixture(t)
	whitelist := make([]bool, rt.Tree.EdgeCount)
	whitelist[0] = true
	whitelist[2] = true

	buf := New(rt, whitelist, true)

	var seen []int32
	for {
		blk, ok, err := buf.GetNext()
		assert.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, blk.BranchID)
		assert.NotNil(t, blk.Tree)
	}
	assert.ElementsMatch(t, []int32{0, 2}, seen)
}

func TestBufferEmptyWhitelistClosesImmediately(t *testing.T) {
	rt := buildFixture(t)
	whitelist := make([]bool, rt.Tree.EdgeCount)

	buf := New(rt, whitelist, true)
	_, ok, err := buf.GetNext()
	assert.NoError(t, err)
	assert.False(t, ok)
}
