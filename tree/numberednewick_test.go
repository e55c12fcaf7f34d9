package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
)

func buildUnrootedFixture(t *testing.T) *Tree {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)

	msa := map[string]string{
		"A": "ACGT",
		"B": "ACGA",
		"C": "ACGC",
	}
	rt, err := FromNewick("(A:0.1,B:0.2,C:0.3);", msa, Params{Model: m})
	assert.NoError(t, err)
	return rt.Tree
}

func TestNumberedNewickIsValidTrifurcation(t *testing.T) {
	tr := buildUnrootedFixture(t)
	nw := tr.NumberedNewick()

	assert.True(t, strings.HasPrefix(nw, "("))
	assert.True(t, strings.HasSuffix(nw, ";"))
	assert.Equal(t, 2, strings.Count(nw, ","))
	for _, label := range []string{"A", "B", "C"} {
		assert.Contains(t, nw, label)
	}
	for b := 0; b < tr.EdgeCount; b++ {
		assert.Contains(t, nw, "{"+itoa(b)+"}")
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}
