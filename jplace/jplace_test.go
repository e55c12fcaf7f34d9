package jplace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/sample"
	"github.com/epa-ng/epa-ng/tree"
)

func buildFixtureTree(t *testing.T) *tree.Tree {
	t.Helper()
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 1, 0)
	assert.NoError(t, err)
	msa := map[string]string{"A": "ACGT", "B": "ACGA", "C": "ACGC"}
	rt, err := tree.FromNewick("(A:0.1,B:0.2,C:0.3);", msa, tree.Params{Model: m})
	assert.NoError(t, err)
	return rt.Tree
}

type jplaceDoc struct {
	Placements []struct {
		P [][]float64 `json:"p"`
		N []string    `json:"n"`
	} `json:"placements"`
	Tree     string          `json:"tree"`
	Version  int             `json:"version"`
	Metadata map[string]interface{} `json:"metadata"`
	Fields   []string        `json:"fields"`
}

func TestWriterProducesValidJSON(t *testing.T) {
	tr := buildFixtureTree(t)
	path := filepath.Join(t.TempDir(), "out.jplace")

	w, err := Create(path, tr, "epa-ng --test", nil)
	assert.NoError(t, err)

	s := &sample.Sample{PQueries: []sample.PQuery{
		{SeqID: 0, Header: "q1", Placements: []sample.Placement{
			{BranchID: 0, LogLikelihood: -10, LWR: 0.9, DistalLength: 0.01, PendantLength: 0.02},
		}},
	}}
	assert.NoError(t, w.Write(s))
	assert.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	assert.NoError(t, err)

	var doc jplaceDoc
	assert.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 3, doc.Version)
	assert.Len(t, doc.Placements, 1)
	assert.Equal(t, []string{"q1"}, doc.Placements[0].N)
	assert.Equal(t, []string{"edge_num", "likelihood", "like_weight_ratio", "distal_length", "pendant_length"}, doc.Fields)
	assert.Contains(t, doc.Tree, "A")
	assert.Equal(t, "epa-ng --test", doc.Metadata["invocation"])
}

func TestWriterMultipleWritesBeforeClose(t *testing.T) {
	tr := buildFixtureTree(t)
	path := filepath.Join(t.TempDir(), "out.jplace")

	w, err := Create(path, tr, "inv", nil)
	assert.NoError(t, err)

	assert.NoError(t, w.Write(&sample.Sample{PQueries: []sample.PQuery{{SeqID: 0, Header: "q1"}}}))
	assert.NoError(t, w.Write(&sample.Sample{PQueries: []sample.PQuery{{SeqID: 1, Header: "q2"}}}))
	assert.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	assert.NoError(t, err)
	var doc jplaceDoc
	assert.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Placements, 2)
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	tr := buildFixtureTree(t)
	path := filepath.Join(t.TempDir(), "out.jplace")

	w, err := Create(path, tr, "inv", nil)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	err = w.Write(&sample.Sample{})
	assert.Error(t, err)
}

func TestWriterSignsInvocationWhenKeyProvided(t *testing.T) {
	tr := buildFixtureTree(t)
	path := filepath.Join(t.TempDir(), "out.jplace")

	w, err := Create(path, tr, "signed-invocation", []byte("0123456789abcdef0123456789abcdef"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	assert.NoError(t, err)
	var doc jplaceDoc
	assert.NoError(t, json.Unmarshal(raw, &doc))

	compact, ok := doc.Metadata["invocation"].(string)
	assert.True(t, ok)
	assert.NotEqual(t, "signed-invocation", compact)
	assert.Contains(t, compact, ".")
}
