// Package tinytree implements the Tiny Tree (C1, spec.md §4.1): an
// ephemeral three-tip, one-inner-node tree wrapping a single reference edge
// plus the query under placement. Construction and the three-branch
// optimizer are grounded on spec.md §4.1's algorithm directly (no teacher
// analogue exists for phylogenetic branch-length optimization); the
// gonum-based Nelder-Mead branch-length search follows the same "small self-contained
// numerical core" approach as github.com/epa-ng/epa-ng/model, in the style
// _examples/js-arias-phygeo uses gonum.org/v1/gonum for its own tree math.
package tinytree

import (
	"math"

	"github.com/epa-ng/epa-ng/epaerr"
	"github.com/epa-ng/epa-ng/partition"
)

// Placement is the result of one TinyTree.Place call, spec.md §3's
// Placement tuple minus branch_id (the caller already knows which branch it
// asked about) plus the derived quantities needed to fill it in.
type Placement struct {
	LogLikelihood float64
	PendantLength float64
	DistalLength  float64
}

// clv index layout within the tiny tree's own 4-entry partition: slot 0 is
// the query tip itself, and slots innerCLVIdx plus these offsets (1/2/3) are
// the three ring directions at the one inner node (proximal-facing,
// distal-facing, query-facing), matching the reference tree's own
// direction-indexed CLV convention.
const (
	dirToProximal = 0
	dirToDistal   = 1
	dirToQuery    = 2
)

// pmatrix indices within the tiny tree's own partition (distinct from the
// reference tree's pmatrix index space — a tiny tree has its own tiny
// partition per §9 "Shared vs. deep-copied CLVs").
const (
	pmProximal = 0
	pmDistal   = 1
	pmQuery    = 2
)

// TinyTree is the three-tip topology of spec.md §4.1: inner node connected
// to a proximal reference CLV, a distal reference CLV (or reference tip in
// the tip-tip case), and a new query tip.
type TinyTree struct {
	part *partition.Partition

	// tipTip is true when the distal endpoint is itself a reference tip:
	// spec.md §4.1's "detect the tip-tip case... force the distal role to
	// the tip".
	tipTip bool

	edgeLength float64 // original reference branch length L

	// branch lengths, seeded with the canonical values (L/2, L/2,
	// DefaultPendantLength). Optimization overwrites them and they are kept
	// for later Place calls on this tree; they are not reset to the
	// canonical values.
	canonInner2Proximal float64
	canonInner2Distal   float64
	canonInner2Query    float64

	proximalCLV int32 // clv index in the *reference* partition's space (deep or shallow)
	distalCLV   int32

	innerCLVIdx int32 // clv_index within part for the tiny tree's inner node
	queryTipIdx int32 // tip index within part for the query

	deepCopy bool

	// distalTipChars holds the reference tip's own character buffer when
	// tipTip, used only to compute the union valid-range §4.7 calls for in
	// the tip-tip case; nil otherwise.
	distalTipChars []byte
}

// DefaultPendantLength is spec.md §4.1's "default_pendant", a small positive
// constant used to seed the query branch before optimization.
const DefaultPendantLength = 0.01

// New builds a Tiny Tree for reference edge (proximal, distal) of original
// length edgeLength. proximalCLV/distalCLV are clv_index values in the
// reference partition's space; tipTip indicates the distal side is a
// reference tip, whose character buffer is then kept for the union
// valid-range; the tip's CLV is still materialized and copied under
// deepCopy like any other endpoint.
// deepCopy selects deep vs. shallow CLV copy per §9: true whenever the
// reference partition may evict (Memory Saver active), false when the
// reference is fully, persistently resident.
func New(refPart *partition.Partition, proximalCLV, distalCLV int32, edgeLength float64, tipTip, deepCopy bool) (*TinyTree, error) {
	// A tiny tree's own partition has exactly 4 clv_index slots: the query
	// tip (0) plus inner's three ring directions (1,2,3); tip_count=1 so
	// the package-level clv_index convention (tips first) still holds with
	// the query occupying slot "tip 0" and the inner node's three
	// directions at tip_count..tip_count+2.
	part, err := partition.New(refPart.Model, 1, 1, 3, refPart.Sites)
	if err != nil {
		return nil, err
	}

	tt := &TinyTree{
		part:                part,
		tipTip:              tipTip,
		edgeLength:          edgeLength,
		canonInner2Proximal: edgeLength / 2,
		canonInner2Distal:   edgeLength / 2,
		canonInner2Query:    DefaultPendantLength,
		proximalCLV:         proximalCLV,
		distalCLV:            distalCLV,
		innerCLVIdx:          1, // tip_count(1) + 0*3 + ring-base; see proximalSlot below
		queryTipIdx:          0,
		deepCopy:             deepCopy,
	}

	if deepCopy {
		tt.importCLV(refPart, proximalCLV, tt.proximalSlot())
		tt.importCLV(refPart, distalCLV, tt.distalSlot())
	}
	if tipTip {
		tt.distalTipChars = refPart.TipChars(int(distalCLV))
	}

	part.SetBranchLength(pmProximal, tt.canonInner2Proximal)
	part.SetBranchLength(pmDistal, tt.canonInner2Distal)
	part.SetBranchLength(pmQuery, tt.canonInner2Query)

	return tt, nil
}

func (tt *TinyTree) proximalSlot() int32 { return tt.innerCLVIdx + dirToProximal }
func (tt *TinyTree) distalSlot() int32   { return tt.innerCLVIdx + dirToDistal }
func (tt *TinyTree) querySlot() int32    { return tt.innerCLVIdx + dirToQuery }

// importCLV deep-copies a reference CLV's raw buffer into the tiny tree's
// own partition at dst, so the tiny tree remains valid even if the
// reference's Memory Saver later evicts the original.
func (tt *TinyTree) importCLV(refPart *partition.Partition, src, dst int32) {
	tt.part.ImportCLV(dst, refPart.MaterializedCLV(src))
}

// Place implements spec.md §4.1's place(seq, opt_branches, options).
func (tt *TinyTree) Place(seq []byte, optBranches, premasking bool) (Placement, error) {
	begin, span := 0, len(seq)
	if premasking {
		b, s, err := validRange(seq, tt.part.States())
		if err != nil {
			return Placement{}, err
		}
		if tt.tipTip {
			b, s = unionRange(b, s, tt.distalTipChars, tt.part.States())
		}
		begin, span = b, s
	}

	if err := tt.setQuery(seq); err != nil {
		return Placement{}, err
	}

	if optBranches {
		tt.optimize(begin, span)
	}

	tt.updateInner()

	logl := tt.evaluate(begin, span)
	if math.IsInf(logl, -1) {
		return Placement{}, epaerr.New(epaerr.KindNumericalUnderflow, "tiny tree: -inf log-likelihood")
	}

	distal := tt.edgeLength * (tt.canonInner2Distal / (tt.canonInner2Distal + tt.canonInner2Proximal))
	pendant := tt.canonInner2Query

	if !optBranches {
		// canonical (non-optimized) lengths are exactly L/2 each side;
		// distal is reported against the original split, no rescale needed.
		distal = tt.edgeLength / 2
	}

	if distal < 0 {
		distal = 0
	}
	if distal > tt.edgeLength {
		distal = tt.edgeLength
	}

	return Placement{LogLikelihood: logl, PendantLength: pendant, DistalLength: distal}, nil
}

// GetPersiteLogl implements §4.1's get_persite_logl: places a
// uniform-character query and returns the per-site log-likelihood vector,
// used exclusively by the Lookup Store (C2) to precompute
// lookup[branch][char][site].
func (tt *TinyTree) GetPersiteLogl(character byte, sites int, out []float64) {
	uniform := make([]byte, sites)
	for i := range uniform {
		uniform[i] = character
	}
	_ = tt.setQuery(uniform)
	tt.updateInner()
	tt.part.PerSiteEdgeLogl(tt.querySlot(), int32(tt.queryTipIdx), pmQuery, out)
}

func (tt *TinyTree) setQuery(seq []byte) error {
	return tt.part.SetTipChars(int(tt.queryTipIdx), seq)
}

// updateInner recomputes the tiny tree's one real CLV (the direction facing
// the query) from the proximal and distal sides, the "standard postorder
// partial update" of §4.1 step 4.
func (tt *TinyTree) updateInner() {
	tt.part.UpdatePartial(tt.querySlot(), -1, []partition.CLVUpdateOp{
		{ChildCLV: tt.proximalEndpoint(), PMatrixIndex: pmProximal},
		{ChildCLV: tt.distalEndpoint(), PMatrixIndex: pmDistal},
	})
}

func (tt *TinyTree) proximalEndpoint() int32 {
	if tt.deepCopy {
		return tt.proximalSlot()
	}
	return tt.proximalCLV
}

func (tt *TinyTree) distalEndpoint() int32 {
	if tt.deepCopy {
		return tt.distalSlot()
	}
	return tt.distalCLV
}

// evaluate computes the edge log-likelihood between the query-facing inner
// CLV and the query tip, restricted to [begin,begin+span).
func (tt *TinyTree) evaluate(begin, span int) float64 {
	return tt.part.EdgeLoglRange(tt.querySlot(), int32(tt.queryTipIdx), pmQuery, begin, span)
}

// validRange implements §4.7's get_valid_range: [first_non_gap,
// last_non_gap+1), failing EmptySequence if no site qualifies.
func validRange(seq []byte, gapIdx int) (begin, span int, err error) {
	first, last := -1, -1
	for i, c := range seq {
		if int(c) != gapIdx {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, epaerr.New(epaerr.KindEmptySequence, "tiny tree: premasking left zero valid sites")
	}
	return first, last - first + 1, nil
}

// unionRange widens [begin,begin+span) to also cover the distal reference
// tip's own valid range, per §4.7's "tip-tip case uses the union of query
// and reference-tip valid ranges".
func unionRange(begin, span int, distalChars []byte, gapIdx int) (int, int) {
	dBegin, dSpan, err := validRange(distalChars, gapIdx)
	if err != nil {
		return begin, span
	}
	lo, hi := begin, begin+span
	if dBegin < lo {
		lo = dBegin
	}
	if dBegin+dSpan > hi {
		hi = dBegin + dSpan
	}
	return lo, hi - lo
}
