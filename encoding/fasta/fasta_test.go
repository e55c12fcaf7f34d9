package fasta_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/encoding/fasta"
)

const testData = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 a viral sequence\n" + "ACGT\n" + "ACGT\n"

func TestParseReturnsSequencesAndNamesInFileOrder(t *testing.T) {
	seqs, names, err := fasta.Parse(strings.NewReader(testData))
	assert.NoError(t, err)
	assert.Equal(t, []string{"seq1", "seq2"}, names)
	assert.Equal(t, "ACGTACGTACGT", seqs["seq1"])
	assert.Equal(t, "ACGTACGT", seqs["seq2"])
}

func TestParseStripsCommentAfterName(t *testing.T) {
	_, names, err := fasta.Parse(strings.NewReader(testData))
	assert.NoError(t, err)
	assert.Contains(t, names, "seq2")
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, _, err := fasta.Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseRejectsDataBeforeFirstHeader(t *testing.T) {
	_, _, err := fasta.Parse(strings.NewReader("ACGT\n>seq1\nACGT\n"))
	assert.Error(t, err)
}

func TestParseRejectsDuplicateName(t *testing.T) {
	_, _, err := fasta.Parse(strings.NewReader(">seq1\nACGT\n>seq1\nTTTT\n"))
	assert.Error(t, err)
}
