package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
)

// starTopology is a fake 3-tip star: tips 0,1,2, one inner node whose three
// ring directions are clv indices 3,4,5 (each facing the tip whose index
// equals its own minus 3). This is the minimal shape with a real branch
// point, enough to exercise PartialComputeCLVs's recursion without needing
// a full tree.Tree.
type starTopology struct{}

func (starTopology) Neighbors(h int32) []ClvNeighbor {
	if h < 3 {
		return nil
	}
	var out []ClvNeighbor
	for _, other := range []int32{3, 4, 5} {
		if other == h {
			continue
		}
		out = append(out, ClvNeighbor{Back: other - 3, PMatrixIndex: other})
	}
	return out
}

func (starTopology) Back(h int32) int32 {
	if h < 3 {
		return h + 3
	}
	return h - 3
}

func (starTopology) SubtreeSize(h int32) int {
	if h < 3 {
		return 1
	}
	return 2
}

func (starTopology) TipCount() int { return 3 }

func buildStarPartition(t *testing.T) *Partition {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	p, err := New(m, 3, 1, 3, 4)
	assert.NoError(t, err)
	assert.NoError(t, p.SetTip(0, "ACGT"))
	assert.NoError(t, p.SetTip(1, "ACGT"))
	assert.NoError(t, p.SetTip(2, "ACGT"))
	return p
}

func TestPartialComputeCLVsComputesRequestedDirection(t *testing.T) {
	p := buildStarPartition(t)
	topo := starTopology{}
	lsf := []int32{3, 4, 5, 0, 1, 2}
	ms := NewMemorySaver(p, topo, 6, lsf)

	recomputed := ms.PartialComputeCLVs(0)

	assert.Equal(t, 1, recomputed)
	assert.True(t, ms.IsSlotted(3))
}

func TestPartialComputeCLVsReuseProducesSameFingerprint(t *testing.T) {
	p := buildStarPartition(t)
	topo := starTopology{}
	lsf := []int32{3, 4, 5, 0, 1, 2}
	ms := NewMemorySaver(p, topo, 6, lsf)

	ms.PartialComputeCLVs(0) // warms up the slotted set
	ms.PartialComputeCLVs(0)
	first := ms.LastBatchFingerprint()

	recomputed := ms.PartialComputeCLVs(0)
	second := ms.LastBatchFingerprint()

	assert.Equal(t, 0, recomputed, "once slotted, repeating the same request should pin rather than recompute")
	assert.Equal(t, first, second)
}

func TestPinAndUnpinTrackIndependentlyOfSlot(t *testing.T) {
	p := buildStarPartition(t)
	ms := NewMemorySaver(p, starTopology{}, 6, []int32{3, 4, 5, 0, 1, 2})

	assert.False(t, ms.IsSlotted(3))
	ms.Pin(3)
	ms.Unpin(3)
	assert.False(t, ms.IsSlotted(3))
}
