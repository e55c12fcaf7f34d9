// Package msastream implements the MSA Stream (C8, spec.md §4.9): a
// sharded, prefetching reader over a query alignment, backed by either
// text FASTA or 4-bit FASTA. The single-outstanding-prefetch channel-future
// shape follows the same pattern as branchbuffer and the teacher's
// encoding/bam/adjacent_sharded_bam_reader.go; gzip-transparent text input
// mirrors pileup/common.go's use of github.com/klauspost/compress/gzip.
package msastream

import (
	"bufio"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/epa-ng/epa-ng/bfast"
	"github.com/epa-ng/epa-ng/epaerr"
)

// Record is one query: its header and raw (not yet alphabet-indexed)
// sequence text.
type Record struct {
	Header   string
	Sequence []byte
}

// Source is the minimal random-access backing a Stream shards over: total
// sequence count plus a way to read one record by index.
type Source interface {
	NumSequences() int
	ReadAt(idx int) (Record, error)
}

// Stream implements §4.9's read_next/num_sequences/local_seq_offset
// interface, with rank sharding and a single outstanding prefetch.
type Stream struct {
	src    Source
	cursor int // next index to read, within this rank's shard
	limit  int // exclusive end of this rank's shard
	offset int // local_seq_offset: first index of this rank's shard

	prefetch chan prefetchResult
	useAsync bool
	pending  bool // a launched prefetch has not been received yet
}

type prefetchResult struct {
	recs []Record
	n    int
	err  error
}

// New builds a Stream over src, computing the rank's shard per §4.9's
// "part_size = ceil(total/num_ranks); seek to part_size*rank; cap read to
// part_size". Pass numRanks=1, rank=0 for unsharded use.
func New(src Source, numRanks, rank int, async bool) *Stream {
	total := src.NumSequences()
	partSize := (total + numRanks - 1) / numRanks
	start := partSize * rank
	end := start + partSize
	if end > total {
		end = total
	}
	if start > total {
		start = total
	}
	s := &Stream{src: src, cursor: start, limit: end, offset: start, useAsync: async}
	if async {
		s.prefetch = make(chan prefetchResult, 1)
	}
	return s
}

// NumSequences returns the total sequence count across all ranks.
func (s *Stream) NumSequences() int { return s.src.NumSequences() }

// LocalSeqOffset returns the global index of this rank's first sequence.
func (s *Stream) LocalSeqOffset() int { return s.offset }

// ReadNext fills out with up to maxRead sequences and returns how many it
// actually read (0 at end of this rank's shard). When async prefetching is
// enabled, the call that returns a batch immediately launches the next
// read in the background; the following ReadNext call waits for that read
// and returns its result, so at most one prefetch is outstanding.
func (s *Stream) ReadNext(maxRead int) ([]Record, int, error) {
	if s.useAsync {
		return s.readNextAsync(maxRead)
	}
	return s.readBatch(maxRead)
}

func (s *Stream) readNextAsync(maxRead int) ([]Record, int, error) {
	var res prefetchResult
	if s.pending {
		res = <-s.prefetch
	} else {
		res.recs, res.n, res.err = s.readBatch(maxRead)
	}
	s.pending = res.n > 0
	if s.pending {
		go s.launchPrefetch(maxRead)
	}
	return res.recs, res.n, res.err
}

func (s *Stream) launchPrefetch(maxRead int) {
	recs, n, err := s.readBatch(maxRead)
	s.prefetch <- prefetchResult{recs: recs, n: n, err: err}
}

func (s *Stream) readBatch(maxRead int) ([]Record, int, error) {
	if s.cursor >= s.limit {
		return nil, 0, nil
	}
	n := maxRead
	if s.cursor+n > s.limit {
		n = s.limit - s.cursor
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := s.src.ReadAt(s.cursor)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
		s.cursor++
	}
	return out, len(out), nil
}

// textFastaSource is the text-FASTA concrete Source: the whole alignment is
// parsed up front (queries are typically orders of magnitude smaller than
// the reference MSA), then served by index.
type textFastaSource struct {
	records []Record
}

// OpenTextFasta builds a Source from FASTA or Phylip-ish FASTA text,
// transparently gunzipping when r looks gzip-compressed.
func OpenTextFasta(r io.Reader) (Source, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(2)
	if err == nil && peek[0] == 0x1f && peek[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, epaerr.Wrap(epaerr.KindParse, err, "msastream: opening gzip")
		}
		defer gz.Close()
		return parseTextFasta(gz)
	}
	return parseTextFasta(br)
}

func parseTextFasta(r io.Reader) (Source, error) {
	var recs []Record
	var header string
	var cur strings.Builder
	have := false

	flush := func() {
		if have {
			recs = append(recs, Record{Header: header, Sequence: []byte(cur.String())})
			cur.Reset()
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if line[0] == '>' {
			flush()
			header = line[1:]
			have = true
			continue
		}
		cur.WriteString(line)
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, epaerr.Wrap(epaerr.KindParse, err, "msastream: scanning fasta")
	}
	return &textFastaSource{records: recs}, nil
}

func (s *textFastaSource) NumSequences() int { return len(s.records) }
func (s *textFastaSource) ReadAt(idx int) (Record, error) {
	if idx < 0 || idx >= len(s.records) {
		return Record{}, epaerr.New(epaerr.KindInternalInvariant, "msastream: index out of range")
	}
	return s.records[idx], nil
}

// bfastSource adapts a bfast.Reader to Source, the 4-bit FASTA concrete
// form §4.9 names.
type bfastSource struct {
	r          *bfast.Reader
	premasking bool
}

// OpenBfast wraps an already-open 4-bit FASTA reader as an MSA Stream
// Source.
func OpenBfast(r *bfast.Reader, premasking bool) Source {
	return &bfastSource{r: r, premasking: premasking}
}

func (s *bfastSource) NumSequences() int { return s.r.NumSequences() }
func (s *bfastSource) ReadAt(idx int) (Record, error) {
	header, seq, err := s.r.ReadSequence(idx, s.premasking)
	if err != nil {
		return Record{}, err
	}
	return Record{Header: header, Sequence: seq}, nil
}
