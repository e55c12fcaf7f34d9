package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Model holds a substitution model: base frequencies, exchangeability
// parameters (GTR upper triangle for DNA, a fixed empirical matrix for AA),
// and discrete-Gamma rate categories. It is the substitution-parameter part
// of the opaque Partition carrier described in spec.md §3.
type Model struct {
	Alphabet Kind
	Freqs    []float64 // length States()
	RateCats []float64 // relative rates, length rateCatCount
	Weights  []float64 // per-category weight, sums to 1

	// exchangeability is the symmetric GTR exchangeability matrix (DNA) or
	// empirical exchangeability matrix (AA), States() x States(), with a
	// zero diagonal.
	exchangeability *mat.SymDense

	// eigvals/eigvecs cache the eigendecomposition of the (freq-scaled,
	// normalized) rate matrix Q, used to build P(t) = V diag(exp(lambda t))
	// V^-1 for any branch length t without re-solving an eigenproblem per
	// call, mirroring how a real phylogenetic-likelihood library memoizes
	// this decomposition per partition.
	eigvals []float64
	eigvecs *mat.Dense
	eigInv  *mat.Dense
}

// NewGTR builds a DNA GTR model from six exchangeability parameters (AC, AG,
// AT, CG, CT, GT order) and base frequencies, with nCat discrete Gamma rate
// categories parameterized by shape alpha. A uniform-rates model (nCat==1)
// is used when alpha <= 0.
func NewGTR(rates [6]float64, freqs [4]float64, nCat int, alpha float64) (*Model, error) {
	if err := validateFreqs(freqs[:]); err != nil {
		return nil, err
	}
	ex := mat.NewSymDense(4, nil)
	pairs := [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	for i, p := range pairs {
		ex.SetSym(p[0], p[1], rates[i])
	}
	m := &Model{Alphabet: DNA, Freqs: append([]float64(nil), freqs[:]...), exchangeability: ex}
	m.setRateCategories(nCat, alpha)
	if err := m.decompose(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewEmpiricalAA builds an amino-acid model from a fixed 20x20 symmetric
// exchangeability matrix (e.g. WAG/LG/JTT, row-major upper triangle) and
// base frequencies.
func NewEmpiricalAA(exchange [190]float64, freqs [20]float64, nCat int, alpha float64) (*Model, error) {
	if err := validateFreqs(freqs[:]); err != nil {
		return nil, err
	}
	ex := mat.NewSymDense(20, nil)
	k := 0
	for i := 0; i < 20; i++ {
		for j := i + 1; j < 20; j++ {
			ex.SetSym(i, j, exchange[k])
			k++
		}
	}
	m := &Model{Alphabet: AA, Freqs: append([]float64(nil), freqs[:]...), exchangeability: ex}
	m.setRateCategories(nCat, alpha)
	if err := m.decompose(); err != nil {
		return nil, err
	}
	return m, nil
}

func validateFreqs(f []float64) error {
	sum := 0.0
	for _, v := range f {
		if v < 0 {
			return errors.New("model: negative base frequency")
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return errors.Errorf("model: base frequencies must sum to 1, got %f", sum)
	}
	return nil
}

// setRateCategories fills RateCats/Weights with a discrete-Gamma
// approximation (equal-weight quantile means), or a single unit-rate
// category when nCat<=1 or alpha<=0.
func (m *Model) setRateCategories(nCat int, alpha float64) {
	if nCat <= 1 || alpha <= 0 {
		m.RateCats = []float64{1.0}
		m.Weights = []float64{1.0}
		return
	}
	rates := make([]float64, nCat)
	weights := make([]float64, nCat)
	mean := 0.0
	for i := 0; i < nCat; i++ {
		p := (float64(i) + 0.5) / float64(nCat)
		rates[i] = gammaQuantileMean(p, alpha, nCat)
		weights[i] = 1.0 / float64(nCat)
		mean += rates[i] * weights[i]
	}
	if mean > 0 {
		for i := range rates {
			rates[i] /= mean
		}
	}
	m.RateCats = rates
	m.Weights = weights
}

// gammaQuantileMean approximates the mean rate of the i-th equal-probability
// bin of a Gamma(alpha, alpha) distribution via a single quantile sample; a
// coarse but serviceable stand-in for the incomplete-gamma quantile
// integration a full likelihood library performs.
func gammaQuantileMean(p, alpha float64, nCat int) float64 {
	// Wilson-Hilferty approximation of the Gamma quantile function.
	z := invNormCDF(p)
	h := 2.0 / (9.0 * alpha)
	v := 1 - h + z*math.Sqrt(h)
	return alpha * v * v * v
}

// invNormCDF is Acklam's rational approximation of the inverse standard
// normal CDF, accurate to ~1e-9, used only to seed the Gamma-quantile
// approximation above.
func invNormCDF(p float64) float64 {
	if p <= 0 {
		p = 1e-12
	}
	if p >= 1 {
		p = 1 - 1e-12
	}
	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02, 1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02, 6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00, -2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00, 3.754408661907416e+00}
	const plow = 0.02425
	if p < plow {
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	} else if p <= 1-plow {
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
	q := math.Sqrt(-2 * math.Log(1-p))
	return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
		((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
}

// decompose builds Q = exchangeability * diag(freqs), normalized so the
// expected substitution rate is 1, then eigendecomposes it so PMatrix can
// cheaply evaluate exp(Q t) for any t.
func (m *Model) decompose() error {
	n := m.Alphabet.States()
	q := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		rowSum := 0.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := m.exchangeability.At(i, j) * m.Freqs[j]
			q.Set(i, j, v)
			rowSum += v
		}
		q.Set(i, i, -rowSum)
	}
	// Normalize so that -sum_i freq_i * Q_ii == 1 (one expected substitution
	// per unit branch length).
	rate := 0.0
	for i := 0; i < n; i++ {
		rate -= m.Freqs[i] * q.At(i, i)
	}
	if rate > 0 {
		q.Scale(1/rate, q)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(q, mat.EigenRight); !ok {
		return errors.New("model: eigendecomposition of rate matrix failed")
	}
	vals := eig.Values(nil)
	real := make([]float64, n)
	for i, v := range vals {
		real[i] = real64(v)
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)
	vr := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			vr.Set(i, j, real64(vecs.At(i, j)))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(vr); err != nil {
		return errors.Wrap(err, "model: eigenvector matrix is singular")
	}
	m.eigvals = real
	m.eigvecs = vr
	m.eigInv = &inv
	return nil
}

func real64(c complex128) float64 { return real(c) }

// PMatrix returns the States()xStates() transition-probability matrix for
// branch length t and rate category rateCat, P(t) = V diag(exp(lambda_r t))
// V^-1, the matrix every Tiny-Tree probability-matrix update (spec.md §4.1)
// is keyed on by pmatrix_index.
func (m *Model) PMatrix(t float64, rateCat int) *mat.Dense {
	n := m.Alphabet.States()
	r := m.RateCats[rateCat]
	d := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		d.SetDiag(i, math.Exp(m.eigvals[i]*t*r))
	}
	var tmp, p mat.Dense
	tmp.Mul(m.eigvecs, d)
	p.Mul(&tmp, m.eigInv)
	// Clamp tiny negative entries produced by floating point round-off in
	// the eigendecomposition back to zero; probabilities must be >= 0.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if v := p.At(i, j); v < 0 && v > -1e-9 {
				p.Set(i, j, 0)
			}
		}
	}
	return &p
}

// NRateCats returns the number of discrete rate categories.
func (m *Model) NRateCats() int { return len(m.RateCats) }
