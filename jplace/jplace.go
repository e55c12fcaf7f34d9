// Package jplace implements the JPlace writer (C11, spec.md §4.12): a
// streaming writer that emits one JSON document incrementally as chunks
// arrive, translating every placement's edge id and distal length through
// the Rooted-tree mapper (C12, tree.RootedMapper) before it is written.
// Optional HS256-signed "invocation" metadata follows
// gopkg.in/square/go-jose.v2's Signer/Sign API, per SPEC_FULL.md's
// domain-stack wiring; multi-rank collective write-at (§4.12's "all-gather
// of byte counts... collective write-at") has no analogue in this
// single-process corpus (no MPI-style library appears in any example
// repo's go.mod), so this Writer targets single-rank use and documents the
// simplification in the module's design notes.
package jplace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	jose "gopkg.in/square/go-jose.v2"

	"github.com/epa-ng/epa-ng/epaerr"
	"github.com/epa-ng/epa-ng/sample"
	"github.com/epa-ng/epa-ng/tree"
)

// fieldOrder is §4.12's fixed field order for every pquery's "p" rows.
var fieldOrder = []string{"edge_num", "likelihood", "like_weight_ratio", "distal_length", "pendant_length"}

// Writer streams JPlace v3 output: open writes the header and the
// placements array's opening bracket, Write appends one chunk's worth of
// pquery objects, and Close writes the closing metadata.
type Writer struct {
	mu        sync.Mutex
	w         io.WriteCloser
	mapper    *tree.RootedMapper
	numbered  string
	invocation string
	signKey   []byte // HS256 key, or nil to skip signing

	wroteAny bool
	closed   bool
}

// Create opens path for writing and emits the JPlace header plus the
// opening of the "placements" array.
func Create(path string, t *tree.Tree, invocation string, signKey []byte) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "jplace: create")
	}
	w := &Writer{
		w: f, mapper: t.Mapper, numbered: t.NumberedNewick(),
		invocation: invocation, signKey: signKey,
	}
	if _, err := io.WriteString(w.w, `{"placements": [`); err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "jplace: write header")
	}
	return w, nil
}

// Write implements §4.12's write(sample): serializes each PQuery in s to a
// JPlace pquery object, translating edge ids/distal lengths through the
// Rooted-tree mapper. Call is synchronous (no async gather future); the
// driver treats it as already-joined.
func (w *Writer) Write(s *sample.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return epaerr.New(epaerr.KindInternalInvariant, "jplace: write after close")
	}
	for _, pq := range s.PQueries {
		if err := w.writePQuery(pq); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writePQuery(pq sample.PQuery) error {
	if w.wroteAny {
		if _, err := io.WriteString(w.w, ","); err != nil {
			return epaerr.Wrap(epaerr.KindIO, err, "jplace: write separator")
		}
	}
	w.wroteAny = true

	rows := make([][]float64, len(pq.Placements))
	for i, p := range pq.Placements {
		edge, distal := p.BranchID, p.DistalLength
		if w.mapper != nil {
			// The numbered Newick embeds only utree branch ids (no
			// separate original-rooted-edge numbering is reconstructed),
			// so both halves of the mapper's split map to the same
			// RootBranchID; only the distal-length recomputation applies.
			edge, distal = w.mapper.ToRooted(edge, distal, w.mapper.RootBranchID, w.mapper.RootBranchID)
		}
		rows[i] = []float64{float64(edge), p.LogLikelihood, p.LWR, distal, p.PendantLength}
	}

	doc := struct {
		P [][]float64 `json:"p"`
		N []string    `json:"n"`
	}{P: rows, N: []string{pq.Header}}

	body, err := json.Marshal(doc)
	if err != nil {
		return epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: marshal pquery")
	}
	if _, err := w.w.Write(body); err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "jplace: write pquery")
	}
	return nil
}

// Close implements §4.12's close: the closing "]" plus metadata
// (invocation, version, fields in their fixed order), optionally HS256-
// signed via go-jose.v2.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	invocationJSON, err := w.invocationField()
	if err != nil {
		return err
	}

	fieldsJSON, err := json.Marshal(fieldOrder)
	if err != nil {
		return epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: marshal fields")
	}
	treeJSON, err := json.Marshal(w.numbered)
	if err != nil {
		return epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: marshal tree")
	}

	footer := fmt.Sprintf(`], "tree": %s, "version": 3, "metadata": {"invocation": %s}, "fields": %s}`,
		treeJSON, invocationJSON, fieldsJSON)
	if _, err := io.WriteString(w.w, footer); err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "jplace: write footer")
	}
	if closer, ok := w.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// invocationField marshals the invocation string as plain JSON, or as a
// go-jose.v2 compact JWS when a sign key is configured.
func (w *Writer) invocationField() (string, error) {
	if w.signKey == nil {
		b, err := json.Marshal(w.invocation)
		if err != nil {
			return "", epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: marshal invocation")
		}
		return string(b), nil
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: w.signKey}, nil)
	if err != nil {
		return "", epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: building signer")
	}
	jws, err := signer.Sign([]byte(w.invocation))
	if err != nil {
		return "", epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: signing invocation")
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: serializing jws")
	}
	b, err := json.Marshal(compact)
	if err != nil {
		return "", epaerr.Wrap(epaerr.KindInternalInvariant, err, "jplace: marshal signed invocation")
	}
	return string(b), nil
}
