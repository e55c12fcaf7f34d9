package binstore

import (
	"encoding/binary"
	"math"
	"os"
	"sort"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/minio/highwayhash"

	"github.com/epa-ng/epa-ng/epaerr"
	"github.com/epa-ng/epa-ng/partition"
	"github.com/epa-ng/epa-ng/tree"
)

// headerSize is the fixed-width file header: magic(8) | access_type(8,
// padded ASCII) | tail_offset(8).
const headerSize = 24

type writer struct {
	f      *os.File
	offset int64
	blocks map[int32]blockLoc
}

func (w *writer) writeHeaderPlaceholder() error {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic[:])
	copy(buf[8:16], []byte("random\x00\x00"))
	n, err := w.f.Write(buf)
	if err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "binstore: write header")
	}
	w.offset = int64(n)
	return nil
}

func (w *writer) rewriteHeader(tailOffset int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(tailOffset))
	if _, err := w.f.WriteAt(buf, 16); err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "binstore: rewrite header")
	}
	return nil
}

// writeBlock snappy-compresses body, appends it, and records its blockLoc
// (offset, length, highwayhash checksum of the compressed bytes) keyed by
// id, per §4.6's per-block checksum trailer.
func (w *writer) writeBlock(id int32, body []byte) error {
	compressed := snappy.Encode(nil, body)
	sum := highwayhash.Sum64(compressed, checksumKey)
	n, err := w.f.WriteAt(compressed, w.offset)
	if err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "binstore: write block")
	}
	w.blocks[id] = blockLoc{Offset: w.offset, Length: int64(n), Checksum: sum}
	w.offset += int64(n)
	return nil
}

func (w *writer) writeTreeTopology(t *tree.Tree) error {
	buf := proto.NewBuffer(nil)
	_ = buf.EncodeVarint(uint64(len(t.TipLabel)))
	for _, label := range t.TipLabel {
		_ = buf.EncodeStringBytes(label)
	}
	_ = buf.EncodeVarint(uint64(len(t.Halfedges)))
	for _, he := range t.Halfedges {
		_ = buf.EncodeVarint(uint64(he.Back))
		_ = buf.EncodeFixed64(math.Float64bits(he.Length))
	}
	return w.writeBlock(BlockTreeTopology, buf.Bytes())
}

func (w *writer) writePartitionHeader(p *partition.Partition) error {
	buf := proto.NewBuffer(nil)
	patternTip := uint64(0)
	if p.PatternTip() {
		patternTip = 1
	}
	_ = buf.EncodeVarint(uint64(p.Sites))
	_ = buf.EncodeVarint(uint64(p.States()))
	_ = buf.EncodeVarint(uint64(p.Model.NRateCats()))
	_ = buf.EncodeVarint(uint64(p.TipCount))
	_ = buf.EncodeVarint(uint64(p.InnerCount))
	_ = buf.EncodeVarint(uint64(p.EdgeCount))
	_ = buf.EncodeVarint(patternTip)
	return w.writeBlock(BlockPartitionHeader, buf.Bytes())
}

func (w *writer) writeTipchars(p *partition.Partition) error {
	if !p.PatternTip() {
		return nil
	}
	for i := 0; i < p.TipCount; i++ {
		if err := w.writeBlock(int32(i), p.TipChars(i)); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeCLVs(p *partition.Partition) error {
	clvBuffers := 3 * p.InnerCount
	for j := 0; j < clvBuffers; j++ {
		clvIdx := int32(p.TipCount + j)
		body := float64ToBytes(p.MaterializedCLV(clvIdx))
		if err := w.writeBlock(int32(p.TipCount)+int32(j), body); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeScalers(p *partition.Partition) error {
	clvBuffers := int32(3 * p.InnerCount)
	for k, s := range p.Scalers() {
		id := int32(p.TipCount) + clvBuffers + int32(k)
		if err := w.writeBlock(id, uint32ToBytes(s)); err != nil {
			return err
		}
	}
	return nil
}

// writeBlockMap appends the tail index: one (block_id, offset, length,
// checksum) record per block, sorted by id for reproducibility.
func (w *writer) writeBlockMap() (int64, error) {
	tailOffset := w.offset
	ids := make([]int32, 0, len(w.blocks))
	for id := range w.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rec := make([]byte, 28)
	for _, id := range ids {
		loc := w.blocks[id]
		binary.LittleEndian.PutUint32(rec[0:4], uint32(id))
		binary.LittleEndian.PutUint64(rec[4:12], uint64(loc.Offset))
		binary.LittleEndian.PutUint64(rec[12:20], uint64(loc.Length))
		binary.LittleEndian.PutUint64(rec[20:28], loc.Checksum)
		n, err := w.f.WriteAt(rec, w.offset)
		if err != nil {
			return 0, epaerr.Wrap(epaerr.KindIO, err, "binstore: write block map")
		}
		w.offset += int64(n)
	}
	countBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(countBuf, uint64(len(ids)))
	if _, err := w.f.WriteAt(countBuf, w.offset); err != nil {
		return 0, epaerr.Wrap(epaerr.KindIO, err, "binstore: write block map count")
	}
	w.offset += 8
	return tailOffset, nil
}

func readBlockMap(tail []byte) (map[int32]blockLoc, error) {
	if len(tail) < 8 {
		return nil, epaerr.New(epaerr.KindParse, "binstore: truncated block map")
	}
	count := binary.LittleEndian.Uint64(tail[len(tail)-8:])
	blocks := make(map[int32]blockLoc, count)
	for i := uint64(0); i < count; i++ {
		rec := tail[i*28 : i*28+28]
		id := int32(binary.LittleEndian.Uint32(rec[0:4]))
		blocks[id] = blockLoc{
			Offset:   int64(binary.LittleEndian.Uint64(rec[4:12])),
			Length:   int64(binary.LittleEndian.Uint64(rec[12:20])),
			Checksum: binary.LittleEndian.Uint64(rec[20:28]),
		}
	}
	return blocks, nil
}

func float64ToBytes(v []float64) []byte {
	out := make([]byte, len(v)*8)
	for i, x := range v {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], math.Float64bits(x))
	}
	return out
}

func uint32ToBytes(v []uint32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], x)
	}
	return out
}
