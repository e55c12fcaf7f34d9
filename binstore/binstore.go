// Package binstore implements the Binary Store (C6, spec.md §4.6): an
// on-disk, random-access, block-indexed persistence format for a full
// partition. Block framing (fixed-width header fields, block map at file
// tail) follows the teacher's encoding/bam index conventions
// (encoding/bam/index.go, encoding/bam/gindex.go use encoding/binary for the
// same "fixed header + trailing index" BAI-style shape); the partition
// header and tree-topology blocks use github.com/gogo/protobuf/proto's
// low-level Buffer varint/raw-bytes primitives instead of hand-rolled TLV,
// per SPEC_FULL.md's domain-stack wiring. CLV/tipchar/scaler block bodies
// are snappy-compressed (github.com/golang/snappy) with a highwayhash
// checksum trailer (github.com/minio/highwayhash), and the random-access
// data region is read back via golang.org/x/sys/unix.Mmap.
package binstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/minio/highwayhash"
	"golang.org/x/sys/unix"
	"v.io/x/lib/vlog"

	"github.com/epa-ng/epa-ng/epaerr"
	"github.com/epa-ng/epa-ng/partition"
	"github.com/epa-ng/epa-ng/tree"
)

// magic identifies a binstore file.
var magic = [8]byte{'E', 'P', 'A', 'B', 'I', 'N', 'S', '1'}

// checksumKey is the fixed 32-byte highwayhash key for block checksums;
// content integrity, not secrecy, is the goal, so a constant key is
// sufficient (mirrors the teacher's unauthenticated BAI-style index
// checksums).
var checksumKey = make([]byte, 32)

// Sentinel block ids, exactly spec.md §4.6's table.
const (
	BlockSiteRepeats     int32 = -3
	BlockTreeTopology    int32 = -2
	BlockPartitionHeader int32 = -1
)

type blockLoc struct {
	Offset   int64
	Length   int64
	Checksum uint64
}

// Store is a single open binstore file: one os.File, one mutex guarding
// every load_*, and a block map read once at Open time.
type Store struct {
	mu   sync.Mutex
	f    *os.File
	data []byte // mmap of the whole file, for random-access reads

	blocks map[int32]blockLoc

	tipCount    int
	innerCount  int
	patternTip  bool
}

// Dump implements §4.6's dump(tree, file): writes every block in the order
// the table specifies, then the tail block map. Fails hard on any write
// error, per "fails hard on any write failure".
func Dump(rt *tree.ReferenceTree, path string) error {
	vlog.VI(1).Infof("binstore: dumping %d tips, %d inner CLVs to %s", rt.Tree.TipCount, rt.Tree.InnerCount, path)
	f, err := os.Create(path)
	if err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "binstore: create")
	}
	defer f.Close()

	w := &writer{f: f, blocks: map[int32]blockLoc{}}

	if err := w.writeHeaderPlaceholder(); err != nil {
		return err
	}
	if err := w.writeTreeTopology(rt.Tree); err != nil {
		return err
	}
	if err := w.writePartitionHeader(rt.Partition); err != nil {
		return err
	}
	if err := w.writeTipchars(rt.Partition); err != nil {
		return err
	}
	if err := w.writeCLVs(rt.Partition); err != nil {
		return err
	}
	if err := w.writeScalers(rt.Partition); err != nil {
		return err
	}
	tailOffset, err := w.writeBlockMap()
	if err != nil {
		return err
	}
	if err := w.rewriteHeader(tailOffset); err != nil {
		return err
	}
	return nil
}

// Open memory-maps path and reads its tail block map, per §4.6's "block map
// is written at file tail and memoized on open".
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "binstore: open")
	}
	info, err := f.Stat()
	if err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "binstore: stat")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "binstore: mmap")
	}

	if len(data) < 24 || string(data[0:8]) != string(magic[:]) {
		return nil, epaerr.New(epaerr.KindParse, "binstore: bad magic")
	}
	tailOffset := int64(binary.LittleEndian.Uint64(data[16:24]))
	blocks, err := readBlockMap(data[tailOffset:])
	if err != nil {
		return nil, err
	}

	s := &Store{f: f, data: data, blocks: blocks}
	if err := s.primeHeader(); err != nil {
		return nil, err
	}
	vlog.VI(1).Infof("binstore: opened %s, %d blocks, tipCount=%d", path, len(blocks), s.tipCount)
	return s, nil
}

// Close releases the memory map and file handle.
func (s *Store) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	return s.f.Close()
}

func (s *Store) primeHeader() error {
	hdr, err := s.LoadPartitionHeader()
	if err != nil {
		return err
	}
	s.tipCount = hdr.TipCount
	s.innerCount = hdr.InnerCount
	s.patternTip = hdr.PatternTip
	return nil
}

// PartitionHeader is block −1's decoded contents.
type PartitionHeader struct {
	Sites      int
	States     int
	RateCats   int
	TipCount   int
	InnerCount int
	EdgeCount  int
	PatternTip bool
}

func (s *Store) readRawBlock(id int32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.blocks[id]
	if !ok {
		return nil, epaerr.New(epaerr.KindCLVUnavailable, fmt.Sprintf("binstore: block %d not present", id))
	}
	vlog.VI(2).Infof("binstore: reading block %d, %d bytes at offset %d", id, loc.Length, loc.Offset)
	raw := s.data[loc.Offset : loc.Offset+loc.Length]
	sum := highwayhash.Sum64(raw, checksumKey)
	if sum != loc.Checksum {
		vlog.Errorf("binstore: checksum mismatch on block %d", id)
		return nil, epaerr.New(epaerr.KindIO, fmt.Sprintf("binstore: checksum mismatch on block %d", id))
	}
	return snappy.Decode(nil, raw)
}

// LoadPartitionHeader implements §4.6's load_partition().
func (s *Store) LoadPartitionHeader() (PartitionHeader, error) {
	raw, err := s.readRawBlock(BlockPartitionHeader)
	if err != nil {
		return PartitionHeader{}, err
	}
	buf := proto.NewBuffer(raw)
	sites, _ := buf.DecodeVarint()
	states, _ := buf.DecodeVarint()
	rateCats, _ := buf.DecodeVarint()
	tipCount, _ := buf.DecodeVarint()
	innerCount, _ := buf.DecodeVarint()
	edgeCount, _ := buf.DecodeVarint()
	patternTip, _ := buf.DecodeVarint()
	return PartitionHeader{
		Sites: int(sites), States: int(states), RateCats: int(rateCats),
		TipCount: int(tipCount), InnerCount: int(innerCount), EdgeCount: int(edgeCount),
		PatternTip: patternTip != 0,
	}, nil
}

// UnrootedTopology is block −2's decoded contents: enough to rebuild the
// half-edge arena without reparsing Newick text.
type UnrootedTopology struct {
	TipLabels []string
	Back      []int32
	Length    []float64
}

// LoadUnrootedTree implements §4.6's load_utree(num_tips).
func (s *Store) LoadUnrootedTree(numTips int) (UnrootedTopology, error) {
	raw, err := s.readRawBlock(BlockTreeTopology)
	if err != nil {
		return UnrootedTopology{}, err
	}
	buf := proto.NewBuffer(raw)
	n, _ := buf.DecodeVarint()
	labels := make([]string, n)
	for i := range labels {
		labels[i], _ = buf.DecodeStringBytes()
	}
	nHalf, _ := buf.DecodeVarint()
	back := make([]int32, nHalf)
	length := make([]float64, nHalf)
	for i := range back {
		b, _ := buf.DecodeVarint()
		back[i] = int32(b)
		bits, _ := buf.DecodeFixed64()
		length[i] = math.Float64frombits(bits)
	}
	return UnrootedTopology{TipLabels: labels, Back: back, Length: length}, nil
}

// LoadCLV implements §4.6's load_clv(partition, clv_index): decompresses
// the block and installs it as the partition's clv_index buffer.
func (s *Store) LoadCLV(part *partition.Partition, clvIndex int32) error {
	id := clvIndex // CLV j is dumped at block tips+j, which is its clv_index
	raw, err := s.readRawBlock(id)
	if err != nil {
		return err
	}
	part.ImportCLV(clvIndex, bytesToFloat64(raw))
	return nil
}

// LoadTipchars implements §4.6's load_tipchars for pattern-tip mode.
func (s *Store) LoadTipchars(part *partition.Partition, tipIdx int) error {
	raw, err := s.readRawBlock(int32(tipIdx))
	if err != nil {
		return err
	}
	return part.SetTipChars(tipIdx, raw)
}

// LoadScaler implements §4.6's load_scaler; scalers are optional per
// scaler_index, so a missing block is not an error.
func (s *Store) LoadScaler(part *partition.Partition, scalerIdx int32, clvBuffers int32) ([]uint32, error) {
	id := int32(s.tipCount) + clvBuffers + scalerIdx
	raw, err := s.readRawBlock(id)
	if err != nil {
		return nil, nil
	}
	return bytesToUint32(raw), nil
}

func bytesToFloat64(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}
	return out
}

func bytesToUint32(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return out
}
