// Package lookup implements the Lookup Store (C2, spec.md §4.2): a
// per-branch, per-character, per-site log-likelihood matrix used to
// pre-score a query on every reference branch without rebuilding a Tiny
// Tree. Grounded on spec.md §4.2 directly (no teacher analogue); the dense
// per-site sum uses gonum.org/v1/gonum/floats, matching
// SPEC_FULL.md's domain-stack wiring.
package lookup

import (
	"sync"

	"github.com/epa-ng/epa-ng/epaerr"
	"github.com/epa-ng/epa-ng/tinytree"
	"gonum.org/v1/gonum/floats"
)

// Store is the Lookup Store: lookup[branch_id][character_index][site].
type Store struct {
	sites        int
	alphabetSize int // States()+1, including the gap/any class

	mu     []sync.Mutex // one per branch_id, guards init of that branch's row
	ready  []bool
	table  [][][]float64 // [branch_id][character_index][site]
}

// New allocates an uninitialized Store for numBranches branches over an
// alphabet of size alphabetSize (States()+1, gap/any included) and the
// given number of sites.
func New(numBranches, alphabetSize, sites int) *Store {
	return &Store{
		sites:        sites,
		alphabetSize: alphabetSize,
		mu:           make([]sync.Mutex, numBranches),
		ready:        make([]bool, numBranches),
		table:        make([][][]float64, numBranches),
	}
}

// InitBranch implements §4.2's init_branch(branch_id, tiny_tree): computes
// get_persite_logl for every character in the alphabet and stores the
// result as a dense alphabet_size x sites matrix. Idempotent: a second call
// for an already-initialized branch is a no-op.
func (s *Store) InitBranch(branchID int32, tt *tinytree.TinyTree) {
	s.mu[branchID].Lock()
	defer s.mu[branchID].Unlock()
	if s.ready[branchID] {
		return
	}
	row := make([][]float64, s.alphabetSize)
	for c := 0; c < s.alphabetSize; c++ {
		row[c] = make([]float64, s.sites)
		tt.GetPersiteLogl(byte(c), s.sites, row[c])
	}
	s.table[branchID] = row
	s.ready[branchID] = true
}

// SumPrecomputedSitelk implements §4.2's sum_precomputed_sitelk: the
// log-likelihood of seq (already-canonicalized character indices) on
// branchID, summed over [begin,begin+span), using the precomputed table.
// The returned value is only valid while the tiny tree's branch lengths
// remain at canonical init state, per §4.2's note.
func (s *Store) SumPrecomputedSitelk(branchID int32, seq []byte, begin, span int) (float64, error) {
	row := s.table[branchID]
	if row == nil {
		return 0, epaerr.New(epaerr.KindInternalInvariant, "lookup: branch not initialized")
	}
	vals := make([]float64, 0, span)
	for i := begin; i < begin+span; i++ {
		c := seq[i]
		if int(c) >= s.alphabetSize {
			return 0, epaerr.New(epaerr.KindInvalidCharacter, "lookup: character index out of alphabet range")
		}
		vals = append(vals, row[c][i])
	}
	return floats.Sum(vals), nil
}

// IsReady reports whether InitBranch has completed for branchID.
func (s *Store) IsReady(branchID int32) bool { return s.ready[branchID] }
