package bfast

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteOpenReadSequenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.bfast")

	headers := []string{"seq1", "seq2"}
	seqs := [][]byte{[]byte("ACGT"), []byte("ACGTACGTA")}

	assert.NoError(t, Write(path, headers, seqs, nil))

	r, err := Open(path)
	assert.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.NumSequences())

	for i, want := range seqs {
		hdr, seq, err := r.ReadSequence(i, false)
		assert.NoError(t, err)
		assert.Equal(t, headers[i], hdr)
		assert.Equal(t, string(want), string(seq))
	}
}

func TestGapMaskSubsetDropsGapColumns(t *testing.T) {
	// Columns 1 and 3 (0-indexed) are gaps in every sequence.
	gm := NewGapMask([]bool{false, true, false, true, false})
	seq := []byte("ABCDE")
	got := gm.Subset(seq)
	assert.Equal(t, "ACE", string(got))
}

func TestGapMaskMarshalRoundTrip(t *testing.T) {
	gm := NewGapMask([]bool{false, true, false})
	b := gm.Marshal()
	got := UnmarshalGapMask(b)
	assert.Equal(t, gm.runs, got.runs)
}
