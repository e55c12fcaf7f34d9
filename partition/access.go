package partition

import "math"

// PatternTip reports whether this partition stores tips as raw character
// buffers (true) rather than materialized one-hot CLVs, per §3's
// pattern-tip mode.
func (p *Partition) PatternTip() bool { return p.patternTip }

// Scalers returns the partition's per-scaler-index scale-factor buffers,
// indexed 0..3*InnerCount. Used by the Binary Store to dump/load scaler
// blocks (§4.6).
func (p *Partition) Scalers() [][]uint32 { return p.scalers }

// MaterializedCLV returns clvIdx's CLV as a plain buffer, computing a tip's
// one-hot view on the fly when it has no persistent CLV (pattern-tip mode).
// Used by tinytree's deep-copy construction path.
func (p *Partition) MaterializedCLV(clvIdx int32) []float64 {
	view := p.clvView(clvIdx)
	out := make([]float64, len(view))
	copy(out, view)
	return out
}

// ImportCLV installs data as clvIdx's persistent CLV buffer, used by a Tiny
// Tree's deep-copy construction (spec.md §9).
func (p *Partition) ImportCLV(clvIdx int32, data []float64) {
	p.clv[clvIdx] = data
}

// SetTipChars installs chars (already-canonicalized character indices, not
// raw ASCII) as tipIdx's character buffer directly, used by the Tiny Tree
// to set its query tip without re-parsing text.
func (p *Partition) SetTipChars(tipIdx int, chars []byte) error {
	p.tipChars[tipIdx] = chars
	return nil
}

// EdgeLoglRange is EdgeLogl restricted to the site range [begin,begin+span).
func (p *Partition) EdgeLoglRange(clvA, clvB, pmatrixIndex int32, begin, span int) float64 {
	n := p.states
	nCat := p.Model.NRateCats()
	a := p.clvView(clvA)
	b := p.clvView(clvB)
	length := p.branchLenOf(pmatrixIndex)
	pm := p.pmatrix(pmatrixIndex, length)

	logl := 0.0
	for site := begin; site < begin+span; site++ {
		siteLk := perSiteLikelihood(a, b, pm, p.Model.Freqs, p.Model.Weights, site, n, nCat)
		if siteLk <= 0 {
			return math.Inf(-1)
		}
		logl += p.siteWeights[site] * math.Log(siteLk)
	}
	return logl
}

// PerSiteEdgeLogl fills out[0:p.Sites] with the per-site log-likelihood at
// this edge, used exclusively by the Lookup Store's init_branch (§4.2).
func (p *Partition) PerSiteEdgeLogl(clvA, clvB, pmatrixIndex int32, out []float64) {
	n := p.states
	nCat := p.Model.NRateCats()
	a := p.clvView(clvA)
	b := p.clvView(clvB)
	length := p.branchLenOf(pmatrixIndex)
	pm := p.pmatrix(pmatrixIndex, length)

	for site := 0; site < p.Sites && site < len(out); site++ {
		siteLk := perSiteLikelihood(a, b, pm, p.Model.Freqs, p.Model.Weights, site, n, nCat)
		if siteLk <= 0 {
			out[site] = math.Inf(-1)
			continue
		}
		out[site] = math.Log(siteLk)
	}
}

func perSiteLikelihood(a, b, pm, freqs, weights []float64, site, n, nCat int) float64 {
	siteLk := 0.0
	for rc := 0; rc < nCat; rc++ {
		base := (site*nCat + rc) * n
		pmBase := rc * n * n
		catLk := 0.0
		for i := 0; i < n; i++ {
			inner := 0.0
			for j := 0; j < n; j++ {
				inner += pm[pmBase+i*n+j] * b[base+j]
			}
			catLk += freqs[i] * a[base+i] * inner
		}
		siteLk += weights[rc] * catLk
	}
	return siteLk
}
