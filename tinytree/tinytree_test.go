package tinytree

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/partition"
)

const testSites = 4

func buildRefPartition(t *testing.T) (*partition.Partition, int32, int32) {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)

	refPart, err := partition.New(m, 2, 1, 1, testSites)
	assert.NoError(t, err)

	proximalCLV, distalCLV := int32(2), int32(3)
	refPart.ImportCLV(proximalCLV, oneHotSite(0, testSites))
	refPart.ImportCLV(distalCLV, oneHotSite(1, testSites))
	return refPart, proximalCLV, distalCLV
}

func oneHotSite(idx, sites int) []float64 {
	out := make([]float64, sites*4)
	for s := 0; s < sites; s++ {
		out[s*4+idx] = 1
	}
	return out
}

func TestNewSeedsCanonicalBranchLengths(t *testing.T) {
	refPart, proximalCLV, distalCLV := buildRefPartition(t)
	tt, err := New(refPart, proximalCLV, distalCLV, 0.2, false, true)
	assert.NoError(t, err)
	assert.Equal(t, 0.1, tt.canonInner2Proximal)
	assert.Equal(t, 0.1, tt.canonInner2Distal)
	assert.Equal(t, DefaultPendantLength, tt.canonInner2Query)
}

func TestPlaceReturnsFiniteLoglAndNonNegativeLengths(t *testing.T) {
	refPart, proximalCLV, distalCLV := buildRefPartition(t)
	tt, err := New(refPart, proximalCLV, distalCLV, 0.2, false, true)
	assert.NoError(t, err)

	seq := []byte{0, 1, 2, 3}
	p, err := tt.Place(seq, false, false)
	assert.NoError(t, err)
	assert.False(t, p.LogLikelihood > 0)
	assert.GreaterOrEqual(t, p.PendantLength, 0.0)
	assert.GreaterOrEqual(t, p.DistalLength, 0.0)
}

func TestPlaceWithBranchOptimizationDoesNotWorsenLikelihood(t *testing.T) {
	refPart, proximalCLV, distalCLV := buildRefPartition(t)
	seq := []byte{0, 1, 2, 3}

	ttFixed, err := New(refPart, proximalCLV, distalCLV, 0.2, false, true)
	assert.NoError(t, err)
	fixed, err := ttFixed.Place(seq, false, false)
	assert.NoError(t, err)

	ttOpt, err := New(refPart, proximalCLV, distalCLV, 0.2, false, true)
	assert.NoError(t, err)
	opt, err := ttOpt.Place(seq, true, false)
	assert.NoError(t, err)

	assert.GreaterOrEqual(t, opt.LogLikelihood, fixed.LogLikelihood-1e-6)
}

func TestPlaceRejectsEmptySequenceUnderPremasking(t *testing.T) {
	refPart, proximalCLV, distalCLV := buildRefPartition(t)
	tt, err := New(refPart, proximalCLV, distalCLV, 0.2, false, true)
	assert.NoError(t, err)

	gap := byte(refPart.States())
	seq := []byte{gap, gap, gap, gap}
	_, err = tt.Place(seq, false, true)
	assert.Error(t, err)
}

func TestGetPersiteLoglMatchesEvaluateSum(t *testing.T) {
	refPart, proximalCLV, distalCLV := buildRefPartition(t)
	tt, err := New(refPart, proximalCLV, distalCLV, 0.2, false, true)
	assert.NoError(t, err)

	_, err = tt.Place([]byte{0, 1, 2, 3}, false, false)
	assert.NoError(t, err)

	out := make([]float64, testSites)
	tt.GetPersiteLogl(0, testSites, out)

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	assert.False(t, sum > 0)
	assert.InDelta(t, tt.evaluate(0, testSites), sum, 1e-9)
}

func TestClampBranchBounds(t *testing.T) {
	assert.Equal(t, minBranchLength, clampBranch(-1))
	assert.Equal(t, maxBranchLength, clampBranch(1e6))
	assert.Equal(t, 0.5, clampBranch(0.5))
}
