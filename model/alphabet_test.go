package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDNACharIndex(t *testing.T) {
	tests := []struct {
		c        byte
		expected int
	}{
		{'A', 0}, {'a', 0}, {'C', 1}, {'G', 2}, {'T', 3}, {'U', 3}, {'u', 3},
		{'-', 4}, {'.', 4}, {'?', 4}, {'N', 4},
	}
	for _, test := range tests {
		got, err := DNA.CharIndex(test.c)
		assert.NoError(t, err)
		assert.Equal(t, test.expected, got)
	}
}

func TestDNACharIndexRejectsUnknown(t *testing.T) {
	_, err := DNA.CharIndex('Z')
	assert.Error(t, err)
}

func TestAACharIndexRoundTrip(t *testing.T) {
	for i, c := range []byte(aaResidues) {
		got, err := AA.CharIndex(c)
		assert.NoError(t, err)
		assert.Equal(t, i, got)
	}
	got, err := AA.CharIndex('-')
	assert.NoError(t, err)
	assert.Equal(t, AA.GapIndex(), got)
}

func TestGapIndexMatchesStates(t *testing.T) {
	assert.Equal(t, DNA.States(), DNA.GapIndex())
	assert.Equal(t, AA.States(), AA.GapIndex())
}

func TestIsGapByte(t *testing.T) {
	assert.True(t, DNA.IsGapByte('-'))
	assert.True(t, DNA.IsGapByte('N'))
	assert.False(t, DNA.IsGapByte('A'))
}
