// Package branchbuffer implements the Branch Buffer (C3, spec.md §4.3): an
// asynchronous producer of ready Tiny Trees, one per whitelisted branch id,
// with a single outstanding prefetch in flight at any time. Grounded on
// _examples/grailbio-bio/encoding/bam/adjacent_sharded_bam_reader.go's
// goroutine-producer-feeding-a-channel shape (NewAdjacentShardedBAMReader /
// GetShard), including its use of github.com/grailbio/base/errors.Once to
// latch the first error and stop the producer.
package branchbuffer

import (
	"fmt"

	"github.com/grailbio/base/errors"

	"github.com/epa-ng/epa-ng/tinytree"
	"github.com/epa-ng/epa-ng/tree"
)

// Block is one produced unit: a whitelisted branch id and its ready Tiny
// Tree, deep-copied so it survives eviction of the reference partition's own
// CLVs.
type Block struct {
	BranchID int32
	Tree     *tinytree.TinyTree
}

// Buffer is the Branch Buffer: iterates the whitelist in branch-id order on
// a single producer goroutine. The channel holds at most one finished Block
// (queueSize 1) and the producer builds the next one while that Block waits,
// so up to two branches are prepared ahead of the consumer.
type Buffer struct {
	blockc chan Block
	errs   *errors.Once
}

// New starts the producer goroutine over every branch id whose bit is set
// in whitelist (a bitset indexed by branch_id, per §4.3's "restrict
// placement to a caller-supplied subset of branches"). deepCopy selects
// whether each Tiny Tree deep-copies its endpoint CLVs (true whenever the
// reference tree may evict under the Memory Saver).
func New(rt *tree.ReferenceTree, whitelist []bool, deepCopy bool) *Buffer {
	b := &Buffer{
		blockc: make(chan Block, 1),
		errs:   new(errors.Once),
	}
	go b.produce(rt, whitelist, deepCopy)
	return b
}

func (b *Buffer) produce(rt *tree.ReferenceTree, whitelist []bool, deepCopy bool) {
	defer close(b.blockc)
	for branchID, on := range whitelist {
		if !on {
			continue
		}
		if b.errs.Err() != nil {
			return
		}
		blk, err := buildBlock(rt, int32(branchID), deepCopy)
		if err != nil {
			b.errs.Set(fmt.Errorf("branch buffer: building branch %d: %w", branchID, err))
			return
		}
		b.blockc <- blk
	}
}

// GetNext implements §4.3's get_next(out_block) -> size_t: blocks until the
// next whitelisted branch's Tiny Tree is ready (or the buffer is exhausted),
// returning ok=false at end of stream and on every call after it. A
// production error stops the producer; it is returned, with ok=false, once
// the blocks produced before it have been consumed.
func (b *Buffer) GetNext() (blk Block, ok bool, err error) {
	blk, open := <-b.blockc
	if !open {
		return Block{}, false, b.errs.Err()
	}
	return blk, true, nil
}

func buildBlock(rt *tree.ReferenceTree, branchID int32, deepCopy bool) (Block, error) {
	h := rt.Tree.EdgeHalfedge[branchID]
	back := rt.Tree.Back(h)

	if err := rt.EnsureCLVLoaded(h); err != nil {
		return Block{}, err
	}
	if err := rt.EnsureCLVLoaded(back); err != nil {
		return Block{}, err
	}

	proximalCLV := rt.Tree.Halfedges[h].CLVIndex
	distalCLV := rt.Tree.Halfedges[back].CLVIndex
	tipTip := rt.Tree.IsTip(back)
	length := rt.Tree.EdgeLength(branchID)

	tt, err := tinytree.New(rt.Partition, proximalCLV, distalCLV, length, tipTip, deepCopy)
	if err != nil {
		return Block{}, err
	}
	return Block{BranchID: branchID, Tree: tt}, nil
}
