// Package partition implements the opaque likelihood-data carrier of
// spec.md §3 (per-CLV buffers, per-tip characters, scalers, per-edge
// probability matrices, substitution parameters) and the Memory Saver
// (§4.4). It is grounded on the teacher's encoding/pam package for the
// shape of a block-addressable likelihood buffer set
// (_examples/grailbio-bio/encoding/pam/pam.go), generalized from PAM's
// genomic pileup fields to CLV/tipchar/scaler buffers, with the numerical
// core (probability matrices, CLV recurrence) delegated to
// github.com/epa-ng/epa-ng/model, built on gonum.org/v1/gonum/mat the way
// _examples/js-arias-phygeo uses gonum for its own tree math.
package partition

import (
	"math"

	"github.com/dgryski/go-farm"
	"github.com/epa-ng/epa-ng/epaerr"
	"github.com/epa-ng/epa-ng/model"
	"gonum.org/v1/gonum/floats"
)

// CLVUpdateOp is one child contribution to a postorder partial update: the
// child CLV index and the probability matrix to propagate it through.
type CLVUpdateOp struct {
	ChildCLV     int32
	PMatrixIndex int32
}

// Partition holds everything spec.md §3 calls the opaque likelihood-data
// carrier, sized once at construction from the model and MSA width and
// never reallocated. CLVs and tipchars are addressed by the same clv_index
// space the tree package hands out: [0,tipCount) for tips, and
// [tipCount, tipCount+3*innerCount) for inner-node ring directions.
type Partition struct {
	Model *model.Model

	TipCount   int
	InnerCount int
	EdgeCount  int
	Sites      int

	states       int
	statesPadded int

	// clv[i] is nil for a tip partition using pattern-tip mode (tipChars[i]
	// is valid instead); exactly one of the two is ever populated for a
	// given tip index, per §3's invariant.
	clv      [][]float64 // sites*rateCats*statesPadded, indexed by clv_index
	tipChars [][]byte    // sites, indexed by tip index only

	patternTip bool

	scalers [][]uint32 // sites, indexed by scaler_index (3*innerCount entries)

	siteWeights []float64

	pmatrixCache  map[pmatrixKey]*[]float64
	branchLengths map[int32]float64

	repeats *siteRepeats
}

type pmatrixKey struct {
	pmatrixIndex int32
	branchLen    float64
}

// New allocates a Partition for a reference tree of the given shape and a
// reference MSA of the given width. Pattern-tip mode is chosen automatically
// (tips store raw characters, saving a full CLV allocation per tip, exactly
// the representation spec.md's glossary calls "pattern-tip mode").
func New(m *model.Model, tipCount, innerCount, edgeCount, sites int) (*Partition, error) {
	if m == nil {
		return nil, epaerr.New(epaerr.KindInternalInvariant, "partition: nil model")
	}
	if sites <= 0 {
		return nil, epaerr.New(epaerr.KindEmptySequence, "partition: zero-width reference alignment")
	}
	states := m.Alphabet.States()
	statesPadded := states // no SIMD lane padding needed for the mat-backed kernel

	nClv := tipCount + 3*innerCount
	p := &Partition{
		Model:        m,
		TipCount:     tipCount,
		InnerCount:   innerCount,
		EdgeCount:    edgeCount,
		Sites:        sites,
		states:       states,
		statesPadded: statesPadded,
		clv:          make([][]float64, nClv),
		tipChars:     make([][]byte, tipCount),
		patternTip:   true,
		scalers:      make([][]uint32, 3*innerCount),
		siteWeights:   uniformWeights(sites),
		pmatrixCache:  make(map[pmatrixKey]*[]float64),
		branchLengths: make(map[int32]float64),
	}
	for i := tipCount; i < nClv; i++ {
		p.clv[i] = make([]float64, sites*m.NRateCats()*statesPadded)
	}
	for i := range p.scalers {
		p.scalers[i] = make([]uint32, sites)
	}
	p.repeats = newSiteRepeats(sites)
	return p, nil
}

func uniformWeights(sites int) []float64 {
	w := make([]float64, sites)
	for i := range w {
		w[i] = 1
	}
	return w
}

// SetTip assigns a reference tip's sequence, storing it as tip characters
// (pattern-tip mode) rather than a materialized CLV.
func (p *Partition) SetTip(tipIdx int, seq string) error {
	chars := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		idx, err := p.Model.Alphabet.CharIndex(seq[i])
		if err != nil {
			return err
		}
		chars[i] = byte(idx)
	}
	p.tipChars[tipIdx] = chars
	p.repeats.index(tipIdx, chars)
	return nil
}

// TipChars returns the canonicalized character-index buffer for a tip.
func (p *Partition) TipChars(tipIdx int) []byte { return p.tipChars[tipIdx] }

// States returns the partition's alphabet size.
func (p *Partition) States() int { return p.states }

// pmatrix returns (and memoizes) the states x states*rateCats transition
// matrix for the given edge and branch length, flattened rate-category
// major, states x states per category.
func (p *Partition) pmatrix(pmatrixIndex int32, branchLen float64) []float64 {
	key := pmatrixKey{pmatrixIndex, branchLen}
	if cached, ok := p.pmatrixCache[key]; ok {
		return *cached
	}
	n := p.states
	nCat := p.Model.NRateCats()
	flat := make([]float64, nCat*n*n)
	for rc := 0; rc < nCat; rc++ {
		m := p.Model.PMatrix(branchLen, rc)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				flat[rc*n*n+i*n+j] = m.At(i, j)
			}
		}
	}
	p.pmatrixCache[key] = &flat
	return flat
}

// InvalidatePMatrixIndex drops any cached matrix for pmatrixIndex, needed when a
// Tiny Tree's branch length optimizer changes the length belonging to that
// index between iterations.
func (p *Partition) InvalidatePMatrixIndex(pmatrixIndex int32) {
	for k := range p.pmatrixCache {
		if k.pmatrixIndex == pmatrixIndex {
			delete(p.pmatrixCache, k)
		}
	}
}

// clvView returns this CLV index's buffer, materializing a tip's CLV view
// on the fly from its stored characters when the tip has no persistent CLV
// buffer (pattern-tip mode): a one-hot (or uniform, for gaps) vector
// repeated per rate category.
func (p *Partition) clvView(clvIdx int32) []float64 {
	if int(clvIdx) < p.TipCount && p.clv[clvIdx] == nil {
		return p.tipCLVFromChars(int(clvIdx))
	}
	return p.clv[clvIdx]
}

func (p *Partition) tipCLVFromChars(tipIdx int) []float64 {
	n := p.states
	nCat := p.Model.NRateCats()
	chars := p.tipChars[tipIdx]
	out := make([]float64, len(chars)*nCat*n)
	for site, c := range chars {
		for rc := 0; rc < nCat; rc++ {
			base := (site*nCat + rc) * n
			if int(c) == n {
				for s := 0; s < n; s++ {
					out[base+s] = 1
				}
			} else {
				out[base+int(c)] = 1
			}
		}
	}
	return out
}

// UpdatePartial computes the CLV at clvIdx from its (up to two, for a Tiny
// Tree's inner node or a reference inner triplet direction) children, the
// standard Felsenstein postorder recurrence: for each site and rate
// category, the product over children of (P_child * clv_child), summed over
// child states. ops must contain the ring-neighbor contributions excluding
// the direction clvIdx itself represents.
func (p *Partition) UpdatePartial(clvIdx, scalerIdx int32, ops []CLVUpdateOp) {
	n := p.states
	nCat := p.Model.NRateCats()
	sites := p.Sites
	out := p.clv[clvIdx]
	if out == nil {
		out = make([]float64, sites*nCat*n)
		p.clv[clvIdx] = out
	}
	for i := range out {
		out[i] = 1
	}
	for _, op := range ops {
		childCLV := p.clvView(op.ChildCLV)
		childLen := p.branchLenOf(op.PMatrixIndex)
		pm := p.pmatrix(op.PMatrixIndex, childLen)
		for site := 0; site < sites; site++ {
			for rc := 0; rc < nCat; rc++ {
				base := (site*nCat + rc) * n
				pmBase := rc * n * n
				var contrib [64]float64 // states <= 20 in practice; generous fixed buffer avoids a per-site alloc
				for i := 0; i < n; i++ {
					sum := 0.0
					for j := 0; j < n; j++ {
						sum += pm[pmBase+i*n+j] * childCLV[base+j]
					}
					contrib[i] = sum
				}
				for i := 0; i < n; i++ {
					out[base+i] *= contrib[i]
				}
			}
		}
	}
	if scalerIdx >= 0 && int(scalerIdx) < len(p.scalers) {
		rescale(out, p.scalers[scalerIdx], n, nCat, sites)
	}
}

// rescale applies the standard per-site scaling: if every state's
// likelihood at a site underflows below a threshold, multiply by a large
// constant and record the exponent in the scaler buffer, preventing
// underflow on deep trees without losing precision.
const scaleThreshold = 1e-280
const scaleFactor = 1e280

func rescale(clv []float64, scaler []uint32, n, nCat, sites int) {
	for site := 0; site < sites; site++ {
		for rc := 0; rc < nCat; rc++ {
			base := (site*nCat + rc) * n
			maxV := 0.0
			for i := 0; i < n; i++ {
				if clv[base+i] > maxV {
					maxV = clv[base+i]
				}
			}
			if maxV > 0 && maxV < scaleThreshold {
				for i := 0; i < n; i++ {
					clv[base+i] *= scaleFactor
				}
				scaler[site]++
			}
		}
	}
}

// SetBranchLength records the current length for pmatrixIndex, so
// UpdatePartial/EdgeLogl can look up the matrix to use without threading a
// length through every call; the tree and tinytree packages call this
// whenever a branch length changes (initial construction, or a
// branch-length-optimization step).
func (p *Partition) SetBranchLength(pmatrixIndex int32, length float64) {
	p.branchLengths[pmatrixIndex] = length
	p.InvalidatePMatrixIndex(pmatrixIndex)
}

func (p *Partition) branchLenOf(pmatrixIndex int32) float64 {
	return p.branchLengths[pmatrixIndex]
}

// EdgeLogl evaluates the log-likelihood at an edge given the two CLVs
// facing each other across it and the edge's probability-matrix index,
// site-weighted and rate-category-averaged, the evaluation every
// ref_tree_logl / tiny-tree non-optimizing place() call bottoms out on.
func (p *Partition) EdgeLogl(clvA, clvB, pmatrixIndex int32) float64 {
	n := p.states
	nCat := p.Model.NRateCats()
	sites := p.Sites
	a := p.clvView(clvA)
	b := p.clvView(clvB)
	length := p.branchLenOf(pmatrixIndex)
	pm := p.pmatrix(pmatrixIndex, length)

	logl := 0.0
	for site := 0; site < sites; site++ {
		siteLk := perSiteLikelihood(a, b, pm, p.Model.Freqs, p.Model.Weights, site, n, nCat)
		if siteLk <= 0 {
			return math.Inf(-1)
		}
		logl += p.siteWeights[site] * math.Log(siteLk)
	}
	return logl
}

// EmpiricalCharacterFrequencies estimates base frequencies from observed tip
// character counts, the SUPPLEMENTED-FEATURES path recovered from
// original_source's empirical-frequencies computation
// (src/epa_pll_util.cpp).
func (p *Partition) EmpiricalCharacterFrequencies() []float64 {
	counts := make([]float64, p.states)
	total := 0.0
	for _, chars := range p.tipChars {
		for _, c := range chars {
			if int(c) < p.states {
				counts[c]++
				total++
			}
		}
	}
	if total == 0 {
		return p.Model.Freqs
	}
	floats.Scale(1/total, counts)
	return counts
}

// SetEmpiricalFrequencies replaces the model's base frequencies in place and
// invalidates every cached probability matrix, since they all depend on the
// rate matrix's frequency scaling.
func (p *Partition) SetEmpiricalFrequencies(freqs []float64) {
	copy(p.Model.Freqs, freqs)
	p.pmatrixCache = make(map[pmatrixKey]*[]float64)
}

// siteRepeats is the optional site-pattern-deduplication index spec.md §3
// mentions ("an optional site-repeats index"); columns are bucketed by a
// FarmHash fingerprint of their tip-character tuple so identical alignment
// columns can share one CLV computation. Only the fingerprinting is wired
// here; the Tiny Tree and Lookup Store evaluate every site explicitly, so
// repeats serve as a cheap equality precomputation for callers that want to
// skip duplicate columns (e.g. a future premasking fast path), not as a
// required part of the core recurrence.
type siteRepeats struct {
	fingerprint []uint64
}

func newSiteRepeats(sites int) *siteRepeats {
	return &siteRepeats{fingerprint: make([]uint64, sites)}
}

func (r *siteRepeats) index(tipIdx int, chars []byte) {
	for site, c := range chars {
		if site >= len(r.fingerprint) {
			break
		}
		r.fingerprint[site] = farm.Hash64(append(uint64Bytes(r.fingerprint[site]), c))
	}
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// SiteRepeatClass returns the running fingerprint for a site across all tips
// indexed so far, usable as a cheap equality key for duplicate-column
// detection.
func (p *Partition) SiteRepeatClass(site int) uint64 {
	if site < 0 || site >= len(p.repeats.fingerprint) {
		return 0
	}
	return p.repeats.fingerprint[site]
}
