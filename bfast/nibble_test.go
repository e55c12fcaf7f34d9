package bfast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpackNibblesRoundTrip(t *testing.T) {
	tests := []string{"ACGT", "ACGTA", "NNNN", "A", ""}
	for _, seq := range tests {
		packed, err := packNibbles([]byte(seq))
		assert.NoError(t, err)
		assert.Equal(t, (len(seq)+1)/2, len(packed))

		got := unpackNibbles(packed, len(seq))
		assert.Equal(t, seq, string(got))
	}
}

func TestPackNibblesRejectsUnknownChar(t *testing.T) {
	_, err := packNibbles([]byte("ACZT"))
	assert.Error(t, err)
}

func TestEncodeCharGapSynonyms(t *testing.T) {
	dash, err := encodeChar('-')
	assert.NoError(t, err)
	dot, err := encodeChar('.')
	assert.NoError(t, err)
	assert.Equal(t, byte(0), dash)
	assert.Equal(t, byte(0), dot)
}

func TestAsciiTableRoundTripsThroughEnumTable(t *testing.T) {
	for nib, c := range asciiTable {
		got, err := encodeChar(c)
		assert.NoError(t, err)
		assert.Equal(t, byte(nib), got)
	}
}
