package bfast

import "github.com/biogo/store/interval"

// GapMask is the optional global gap mask §4.8 refers to: positions shared
// by every sequence in the file that a premasking reader should drop.
// Non-gap runs are indexed with an interval tree (github.com/biogo/store/
// interval) so Subset can answer "which runs overlap [begin,end)" in
// O(log n + k) rather than scanning the full mask, which matters once an
// alignment is tens of thousands of columns wide.
type GapMask struct {
	length int
	runs   []run
	tree   interval.IntTree
}

type run struct {
	start, end int
}

func (r run) Overlap(b interval.IntRange) bool { return r.start < b.End && b.Start < r.end }
func (r run) ID() uintptr                       { return uintptr(r.start) }
func (r run) Range() interval.IntRange          { return interval.IntRange{Start: r.start, End: r.end} }

// NewGapMask builds a GapMask from a per-column boolean slice (true = gap
// in every sequence).
func NewGapMask(gap []bool) *GapMask {
	gm := &GapMask{length: len(gap)}
	start := -1
	for i, isGap := range gap {
		if !isGap {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			gm.addRun(start, i)
			start = -1
		}
	}
	if start >= 0 {
		gm.addRun(start, len(gap))
	}
	gm.tree.AdjustRanges()
	return gm
}

func (gm *GapMask) addRun(start, end int) {
	r := run{start: start, end: end}
	gm.runs = append(gm.runs, r)
	_ = gm.tree.Insert(r, false)
}

// NonGapRanges returns the [begin,end) runs overlapping [begin,end),
// merged in ascending order.
func (gm *GapMask) NonGapRanges(begin, end int) []run {
	hits := gm.tree.Get(run{start: begin, end: end})
	out := make([]run, 0, len(hits))
	for _, h := range hits {
		r := h.(run)
		if r.start < begin {
			r.start = begin
		}
		if r.end > end {
			r.end = end
		}
		out = append(out, r)
	}
	return out
}

// Subset returns seq restricted to the non-gap runs within [0,len(seq)),
// per §4.8/§4.7's "optionally subsets every decoded sequence by the
// non-gap positions (premasking)".
func (gm *GapMask) Subset(seq []byte) []byte {
	out := make([]byte, 0, len(seq))
	for _, r := range gm.NonGapRanges(0, len(seq)) {
		out = append(out, seq[r.start:r.end]...)
	}
	return out
}

// Marshal/Unmarshal encode the gap mask as a flat run list for the bfast
// file header's varlen gap_mask field.
func (gm *GapMask) Marshal() []byte {
	out := make([]byte, 0, 8+len(gm.runs)*16)
	out = appendUint64(out, uint64(len(gm.runs)))
	for _, r := range gm.runs {
		out = appendUint64(out, uint64(r.start))
		out = appendUint64(out, uint64(r.end))
	}
	return out
}

func UnmarshalGapMask(b []byte) *GapMask {
	if len(b) < 8 {
		return &GapMask{}
	}
	n := readUint64(b)
	b = b[8:]
	gm := &GapMask{}
	for i := uint64(0); i < n; i++ {
		start := int(readUint64(b))
		end := int(readUint64(b[8:]))
		b = b[16:]
		gm.addRun(start, end)
		if end > gm.length {
			gm.length = end
		}
	}
	gm.tree.AdjustRanges()
	return gm
}
