package binstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/partition"
	"github.com/epa-ng/epa-ng/tree"
)

// newEmptyPartitionLike builds a fresh Partition with the same shape as
// rt.Partition, for exercising LoadCLV/LoadTipchars against a destination
// that doesn't already hold the data being loaded.
func newEmptyPartitionLike(rt *tree.ReferenceTree) (*partition.Partition, error) {
	return partition.New(rt.Partition.Model, rt.Partition.TipCount, rt.Partition.InnerCount, rt.Partition.EdgeCount, rt.Partition.Sites)
}

func buildFixture(t *testing.T) *tree.ReferenceTree {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	msa := map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGC"}
	rt, err := tree.FromNewick("(A:0.1,B:0.2,C:0.3);", msa, tree.Params{Model: m})
	assert.NoError(t, err)
	return rt
}

func TestDumpOpenLoadPartitionHeader(t *testing.T) {
	rt := buildFixture(t)
	path := filepath.Join(t.TempDir(), "test.bin")

	assert.NoError(t, Dump(rt, path))

	s, err := Open(path)
	assert.NoError(t, err)
	defer s.Close()

	hdr, err := s.LoadPartitionHeader()
	assert.NoError(t, err)
	assert.Equal(t, rt.Partition.Sites, hdr.Sites)
	assert.Equal(t, rt.Partition.States(), hdr.States)
	assert.Equal(t, rt.Partition.TipCount, hdr.TipCount)
	assert.Equal(t, rt.Partition.InnerCount, hdr.InnerCount)
	assert.Equal(t, rt.Partition.EdgeCount, hdr.EdgeCount)
	assert.Equal(t, rt.Partition.PatternTip(), hdr.PatternTip)
}

func TestDumpOpenLoadUnrootedTree(t *testing.T) {
	rt := buildFixture(t)
	path := filepath.Join(t.TempDir(), "test.bin")
	assert.NoError(t, Dump(rt, path))

	s, err := Open(path)
	assert.NoError(t, err)
	defer s.Close()

	topo, err := s.LoadUnrootedTree(rt.Tree.TipCount)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, topo.TipLabels)
	assert.Len(t, topo.Back, len(rt.Tree.Halfedges))
}

func TestDumpOpenLoadCLVRoundTrip(t *testing.T) {
	rt := buildFixture(t)
	path := filepath.Join(t.TempDir(), "test.bin")
	assert.NoError(t, Dump(rt, path))

	s, err := Open(path)
	assert.NoError(t, err)
	defer s.Close()

	clvIdx := int32(rt.Tree.TipCount) // first inner-ring CLV index
	want := rt.Partition.MaterializedCLV(clvIdx)

	fresh, err := newEmptyPartitionLike(rt)
	assert.NoError(t, err)
	assert.NoError(t, s.LoadCLV(fresh, clvIdx))
	assert.Equal(t, want, fresh.MaterializedCLV(clvIdx))
}

func TestLoadScalerMissingBlockIsNotAnError(t *testing.T) {
	rt := buildFixture(t)
	path := filepath.Join(t.TempDir(), "test.bin")
	assert.NoError(t, Dump(rt, path))

	s, err := Open(path)
	assert.NoError(t, err)
	defer s.Close()

	_, err = s.LoadScaler(rt.Partition, 9999, int32(rt.Partition.TipCount+3*rt.Partition.InnerCount))
	assert.NoError(t, err)
}
