// Package placement implements the Placement driver (C10, spec.md §4.10):
// the two-phase per-chunk pipeline (optional prescoring via the Lookup
// Store, candidate selection, thorough placement via Tiny Trees), built on
// the thread-parallel `place` kernel. Thread fan-out uses
// github.com/grailbio/base/traverse.Each, the same primitive the teacher
// uses to parallelize its own per-shard/per-field work
// (encoding/pam/pamwriter.go's Close, encoding/converter/convert.go).
package placement

import (
	"math"
	"runtime"

	"github.com/grailbio/base/traverse"

	"github.com/epa-ng/epa-ng/branchbuffer"
	"github.com/epa-ng/epa-ng/lookup"
	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/msastream"
	"github.com/epa-ng/epa-ng/sample"
	"github.com/epa-ng/epa-ng/tinytree"
	"github.com/epa-ng/epa-ng/tree"
)

// CandidateMode selects §4.10's candidate-selection strategy.
type CandidateMode int

const (
	ModeAccumulatedThreshold CandidateMode = iota
	ModePercentage
	ModeBaseball
)

// Options bundles every knob §4.10/§4.11 names.
type Options struct {
	Prescoring     bool
	UseLookup      bool
	OptBranches    bool
	Premasking     bool
	Mode           CandidateMode
	Threshold      float64 // prescoring_threshold (accumulated sum or percentage fraction)
	FilterMin      int
	FilterMax      int
	StrikeBox      float64 // baseball mode, default 3 nats
	MaxStrikes     int     // baseball mode, default 6
	MaxPitches     int     // baseball mode, default 40
	SupportThresh  float64 // discard_by_support_threshold's t, 0 disables
	Threads        int     // worker thread count; 0 means runtime.NumCPU()

	// MemorySaver routes both placement passes through the Branch Buffer
	// instead of the thread-parallel place kernel, per §4.10's "Under the
	// Memory Saver, Tiny Trees arrive from the Branch Buffer instead and
	// are processed branch-major". Set this whenever Ref was constructed
	// with a Memory Saver attached (tree.Params.MemoryBudget > 0), since
	// that CLVSource has no random per-branch access for a thread pool to
	// exploit concurrently.
	MemorySaver bool
}

// DefaultOptions mirrors §4.10's baseball-mode constants.
var DefaultOptions = Options{
	Prescoring: true, UseLookup: true, OptBranches: true,
	Mode: ModeAccumulatedThreshold, Threshold: 0.99,
	FilterMin: 1, FilterMax: 7,
	StrikeBox: 3, MaxStrikes: 6, MaxPitches: 40,
}

// Driver holds everything needed across chunks: the reference tree, an
// optional lookup store for prescoring, and the placement options.
type Driver struct {
	Ref    *tree.ReferenceTree
	Lookup *lookup.Store
	Opts   Options
}

// RunChunk implements §4.10's per-chunk loop body up to (but not including)
// the JPlace write, returning the filtered, LWR-sorted Sample.
func (d *Driver) RunChunk(chunk []msastream.Record, startSeqID int) (*sample.Sample, error) {
	chunk, err := canonicalizeChunk(d.Ref.Partition.Model.Alphabet, chunk)
	if err != nil {
		return nil, err
	}

	allBranches := d.allBranchesWork(chunk, startSeqID)

	place := d.place
	if d.Opts.MemorySaver {
		place = d.placeBranchMajor
	}

	work := allBranches
	if d.Opts.Prescoring {
		preSample, err := place(allBranches, chunk, startSeqID, false)
		if err != nil {
			return nil, err
		}
		sample.SetLWR(preSample)
		work = d.selectCandidates(preSample)
	}

	s, err := place(work, chunk, startSeqID, d.Opts.OptBranches)
	if err != nil {
		return nil, err
	}
	sample.SetLWR(s)
	if d.Opts.SupportThresh > 0 {
		sample.DiscardBySupportThreshold(s, d.Opts.SupportThresh, d.Opts.FilterMin, d.Opts.FilterMax)
	}
	for i := range s.PQueries {
		sample.SortByLWR(&s.PQueries[i])
	}
	return s, nil
}

// canonicalizeChunk maps every query's raw ASCII sequence to alphabet
// character indices (with the gap/any class past the last real state), the
// form every Partition and TinyTree operation expects, per §3's "Query
// sequence... over the model's alphabet".
func canonicalizeChunk(alphabet model.Kind, chunk []msastream.Record) ([]msastream.Record, error) {
	out := make([]msastream.Record, len(chunk))
	for i, rec := range chunk {
		idx := make([]byte, len(rec.Sequence))
		for j, c := range rec.Sequence {
			v, err := alphabet.CharIndex(c)
			if err != nil {
				return nil, err
			}
			idx[j] = byte(v)
		}
		out[i] = msastream.Record{Header: rec.Header, Sequence: idx}
	}
	return out, nil
}

func (d *Driver) allBranchesWork(chunk []msastream.Record, startSeqID int) sample.Work {
	w := make(sample.Work, d.Ref.Tree.EdgeCount)
	seqIDs := make([]int, len(chunk))
	for i := range chunk {
		seqIDs[i] = startSeqID + i
	}
	for b := int32(0); b < int32(d.Ref.Tree.EdgeCount); b++ {
		w[b] = append([]int(nil), seqIDs...)
	}
	return w
}

// place is §4.10's thread-parallel place(work, opt_branches) kernel:
// partitions work into per-thread sub-samples over traverse.Each, then
// merges and collapses.
func (d *Driver) place(work sample.Work, chunk []msastream.Record, startSeqID int, optBranches bool) (*sample.Sample, error) {
	pairs := work.Pairs()
	if len(pairs) == 0 {
		return &sample.Sample{}, nil
	}

	nThreads := d.Opts.Threads
	if nThreads <= 0 {
		nThreads = runtime.NumCPU()
	}
	if nThreads > len(pairs) {
		nThreads = len(pairs)
	}

	partial := make([]sample.Sample, nThreads)
	errs := traverse.Each(nThreads, func(t int) error {
		local := &partial[t]
		var tt *tinytree.TinyTree
		var curBranch int32 = -1

		for i := t; i < len(pairs); i += nThreads {
			branchID := int32(pairs[i][0])
			seqID := pairs[i][1]
			rec := chunk[seqID-startSeqID]

			if tt == nil || branchID != curBranch {
				built, err := buildTinyTree(d.Ref, branchID, optBranches || !d.Opts.UseLookup)
				if err != nil {
					return err
				}
				tt = built
				curBranch = branchID
			}

			var pl tinytree.Placement
			var err error
			if !optBranches && d.Opts.UseLookup && d.Lookup != nil {
				pl, err = placeViaLookup(d.Lookup, tt, branchID, rec.Sequence, d.Opts.Premasking)
			} else {
				pl, err = tt.Place(rec.Sequence, optBranches, d.Opts.Premasking)
			}
			if err != nil {
				return err
			}

			appendPlacement(local, seqID, rec.Header, branchID, pl)
		}
		return nil
	})
	if errs != nil {
		return nil, errs
	}

	merged := &sample.Sample{}
	for _, p := range partial {
		sample.Merge(merged, p)
	}
	if err := sample.Collapse(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// placeBranchMajor is §4.10's Memory Saver path: every whitelisted branch's
// Tiny Tree arrives once from the Branch Buffer, single-threaded and in
// branch-id order, and every query assigned to that branch is placed before
// the buffer moves on to the next. This trades the thread-parallel place
// kernel's concurrency for the Memory Saver's single-outstanding-prefetch
// access pattern, which has no random per-branch entry point to parallelize
// over.
func (d *Driver) placeBranchMajor(work sample.Work, chunk []msastream.Record, startSeqID int, optBranches bool) (*sample.Sample, error) {
	if len(work) == 0 {
		return &sample.Sample{}, nil
	}

	whitelist := make([]bool, d.Ref.Tree.EdgeCount)
	for b := range work {
		whitelist[int(b)] = true
	}
	buf := branchbuffer.New(d.Ref, whitelist, true)

	merged := &sample.Sample{}
	for {
		blk, ok, err := buf.GetNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for _, seqID := range work[blk.BranchID] {
			rec := chunk[seqID-startSeqID]
			pl, err := blk.Tree.Place(rec.Sequence, optBranches, d.Opts.Premasking)
			if err != nil {
				return nil, err
			}
			appendPlacement(merged, seqID, rec.Header, blk.BranchID, pl)
		}
	}
	if err := sample.Collapse(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func appendPlacement(s *sample.Sample, seqID int, header string, branchID int32, pl tinytree.Placement) {
	for i := range s.PQueries {
		if s.PQueries[i].SeqID == seqID {
			s.PQueries[i].Placements = append(s.PQueries[i].Placements, sample.Placement{
				BranchID: branchID, LogLikelihood: pl.LogLikelihood,
				PendantLength: pl.PendantLength, DistalLength: pl.DistalLength,
			})
			return
		}
	}
	s.PQueries = append(s.PQueries, sample.PQuery{
		SeqID: seqID, Header: header,
		Placements: []sample.Placement{{
			BranchID: branchID, LogLikelihood: pl.LogLikelihood,
			PendantLength: pl.PendantLength, DistalLength: pl.DistalLength,
		}},
	})
}

func buildTinyTree(rt *tree.ReferenceTree, branchID int32, deepCopy bool) (*tinytree.TinyTree, error) {
	h := rt.Tree.EdgeHalfedge[branchID]
	back := rt.Tree.Back(h)
	if err := rt.EnsureCLVLoaded(h); err != nil {
		return nil, err
	}
	if err := rt.EnsureCLVLoaded(back); err != nil {
		return nil, err
	}
	proximalCLV := rt.Tree.Halfedges[h].CLVIndex
	distalCLV := rt.Tree.Halfedges[back].CLVIndex
	tipTip := rt.Tree.IsTip(back)
	length := rt.Tree.EdgeLength(branchID)
	return tinytree.New(rt.Partition, proximalCLV, distalCLV, length, tipTip, deepCopy)
}

func placeViaLookup(store *lookup.Store, tt *tinytree.TinyTree, branchID int32, seq []byte, premasking bool) (tinytree.Placement, error) {
	if !store.IsReady(branchID) {
		store.InitBranch(branchID, tt)
	}
	begin, span := 0, len(seq)
	logl, err := store.SumPrecomputedSitelk(branchID, seq, begin, span)
	if err != nil {
		return tinytree.Placement{}, err
	}
	return tinytree.Placement{LogLikelihood: logl, PendantLength: tinytree.DefaultPendantLength}, nil
}

// selectCandidates implements §4.10's three modes over a pre-scored
// Sample, returning the selected (branch_id, seq_id) Work for thorough
// placement.
func (d *Driver) selectCandidates(pre *sample.Sample) sample.Work {
	work := make(sample.Work)
	for i := range pre.PQueries {
		pq := &pre.PQueries[i]
		switch d.Opts.Mode {
		case ModePercentage:
			sample.SortByLWR(pq)
			n := sample.UntilTopPercent(pq, d.Opts.Threshold)
			addCandidates(work, pq, n)
		case ModeBaseball:
			sample.SortByLogl(pq)
			addCandidates(work, pq, baseballCount(pq, d.Opts.StrikeBox, d.Opts.MaxStrikes, d.Opts.MaxPitches))
		default: // ModeAccumulatedThreshold
			sample.SortByLWR(pq)
			n := sample.UntilAccumulatedReached(pq, d.Opts.Threshold, d.Opts.FilterMin, d.Opts.FilterMax)
			addCandidates(work, pq, n)
		}
	}
	return work
}

func addCandidates(work sample.Work, pq *sample.PQuery, n int) {
	if n > len(pq.Placements) {
		n = len(pq.Placements)
	}
	for i := 0; i < n; i++ {
		b := pq.Placements[i].BranchID
		work[b] = append(work[b], pq.SeqID)
	}
}

// baseballCount implements §4.10's baseball mode: every placement within
// strikeBox nats of the best, plus up to maxStrikes more, capped at
// maxPitches, given logl-sorted (descending) placements.
func baseballCount(pq *sample.PQuery, strikeBox float64, maxStrikes, maxPitches int) int {
	if len(pq.Placements) == 0 {
		return 0
	}
	best := pq.Placements[0].LogLikelihood
	count, strikes := 0, 0
	for _, p := range pq.Placements {
		if count >= maxPitches {
			break
		}
		if math.Abs(best-p.LogLikelihood) <= strikeBox {
			count++
			continue
		}
		if strikes >= maxStrikes {
			break
		}
		strikes++
		count++
	}
	return count
}

