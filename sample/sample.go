// Package sample implements the Sample model (C9, spec.md §3, §4.11):
// per-query placement records, LWR normalization, sort/filter operations,
// and the split/merge/collapse machinery that lets a Sample travel between
// worker threads and ranks. Grounded directly on spec.md §4.11 (no teacher
// analogue); stable LWR normalization uses
// gonum.org/v1/gonum/floats.LogSumExp per SPEC_FULL.md's domain-stack
// wiring.
package sample

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/epa-ng/epa-ng/epaerr"
)

// Placement is spec.md §3's Placement tuple plus the derived LWR.
type Placement struct {
	BranchID      int32
	LogLikelihood float64
	PendantLength float64
	DistalLength  float64
	LWR           float64
}

// PQuery is one query's identity plus its ordered placements. Invariant: no
// two placements share a BranchID.
type PQuery struct {
	SeqID       int
	Header      string
	Placements  []Placement
}

// Sample is a sequence of PQueries plus the numbered-Newick rendering of
// the reference tree they were placed against.
type Sample struct {
	PQueries      []PQuery
	NumberedTree  string
}

// Work is branch_id -> list of pending sequence ids, spec.md §3's Work
// type, iterable by branch bucket or flattened below.
type Work map[int32][]int

// Pairs flattens Work into (branch_id, seq_id) pairs in branch-id order,
// the iteration order the thread-parallel place kernel partitions over.
func (w Work) Pairs() [][2]int {
	branches := make([]int32, 0, len(w))
	for b := range w {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i] < branches[j] })
	var out [][2]int
	for _, b := range branches {
		for _, seqID := range w[b] {
			out = append(out, [2]int{int(b), seqID})
		}
	}
	return out
}

// SetLWR implements §4.11's set_lwr: for each PQuery, lwr_i = exp(logl_i -
// logl_max) / sum_j exp(logl_j - logl_max), computed via LogSumExp for
// numerical safety.
func SetLWR(s *Sample) {
	for pqi := range s.PQueries {
		pq := &s.PQueries[pqi]
		if len(pq.Placements) == 0 {
			continue
		}
		logls := make([]float64, len(pq.Placements))
		for i, p := range pq.Placements {
			logls[i] = p.LogLikelihood
		}
		denom := floats.LogSumExp(logls)
		for i := range pq.Placements {
			pq.Placements[i].LWR = math.Exp(logls[i] - denom)
		}
	}
}

// SortByLWR sorts pq's placements by LWR descending.
func SortByLWR(pq *PQuery) {
	sort.Slice(pq.Placements, func(i, j int) bool {
		return pq.Placements[i].LWR > pq.Placements[j].LWR
	})
}

// SortByLogl sorts pq's placements by raw log-likelihood descending.
func SortByLogl(pq *PQuery) {
	sort.Slice(pq.Placements, func(i, j int) bool {
		return pq.Placements[i].LogLikelihood > pq.Placements[j].LogLikelihood
	})
}

// UntilTopPercent returns the count of the first ceil(x*|pq|) placements by
// LWR, per §4.11's until_top_percent (caller is expected to have already
// sorted by LWR descending).
func UntilTopPercent(pq *PQuery, x float64) int {
	n := int(math.Ceil(x * float64(len(pq.Placements))))
	if n > len(pq.Placements) {
		n = len(pq.Placements)
	}
	if n < 0 {
		n = 0
	}
	return n
}

// UntilAccumulatedReached implements §4.11's until_accumulated_reached:
// scans LWR-sorted placements, advances until the running LWR sum reaches
// thresh or count reaches max, then advances further to at least min.
func UntilAccumulatedReached(pq *PQuery, thresh float64, min, max int) int {
	sum := 0.0
	count := 0
	for _, p := range pq.Placements {
		if count >= max {
			break
		}
		sum += p.LWR
		count++
		if sum >= thresh && count >= min {
			break
		}
	}
	if count < min && count < len(pq.Placements) {
		count = min
		if count > len(pq.Placements) {
			count = len(pq.Placements)
		}
	}
	return count
}

// DiscardBySupportThreshold implements §4.11's discard_by_support_threshold:
// keep placements with lwr > t, per PQuery, clamped to [min, max] after
// sorting by LWR descending.
func DiscardBySupportThreshold(s *Sample, t float64, min, max int) {
	for pqi := range s.PQueries {
		pq := &s.PQueries[pqi]
		SortByLWR(pq)
		kept := pq.Placements[:0]
		for _, p := range pq.Placements {
			if p.LWR > t {
				kept = append(kept, p)
			}
		}
		if len(kept) < min && min <= len(pq.Placements) {
			kept = pq.Placements[:min]
		}
		if len(kept) > max {
			kept = kept[:max]
		}
		pq.Placements = kept
	}
}

// Split implements §4.11's split: distributes s's PQueries into n buckets
// by seq_id mod n, guaranteeing every bucket is a valid (possibly empty)
// Sample so a null-message can always be sent per rank.
func Split(s *Sample, n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i].NumberedTree = s.NumberedTree
	}
	for _, pq := range s.PQueries {
		bucket := pq.SeqID % n
		if bucket < 0 {
			bucket += n
		}
		out[bucket].PQueries = append(out[bucket].PQueries, pq)
	}
	return out
}

// Merge implements §4.11's merge: for each PQuery in src, if dest already
// has a PQuery with the same seq_id its placements are appended there,
// otherwise the PQuery is moved into dest.
func Merge(dest *Sample, src Sample) {
	index := make(map[int]int, len(dest.PQueries))
	for i, pq := range dest.PQueries {
		index[pq.SeqID] = i
	}
	for _, pq := range src.PQueries {
		if i, ok := index[pq.SeqID]; ok {
			dest.PQueries[i].Placements = append(dest.PQueries[i].Placements, pq.Placements...)
			continue
		}
		index[pq.SeqID] = len(dest.PQueries)
		dest.PQueries = append(dest.PQueries, pq)
	}
}

// Collapse implements §4.11's collapse: merges PQueries sharing a seq_id
// within s into one, in concatenation order. A duplicate branch_id across
// the merged placements is the caller's error (two workers placed the same
// query on the same branch), per §3's PQuery invariant.
func Collapse(s *Sample) error {
	order := make([]int, 0, len(s.PQueries))
	merged := make(map[int]PQuery)

	for _, pq := range s.PQueries {
		if existing, ok := merged[pq.SeqID]; ok {
			existing.Placements = append(existing.Placements, pq.Placements...)
			merged[pq.SeqID] = existing
			continue
		}
		merged[pq.SeqID] = pq
		order = append(order, pq.SeqID)
	}

	out := make([]PQuery, 0, len(order))
	for _, id := range order {
		pq := merged[id]
		seen := make(map[int32]bool, len(pq.Placements))
		for _, p := range pq.Placements {
			if seen[p.BranchID] {
				return epaerr.New(epaerr.KindInternalInvariant,
					"sample: collapse found duplicate branch_id within one PQuery")
			}
			seen[p.BranchID] = true
		}
		out = append(out, pq)
	}
	s.PQueries = out
	return nil
}
