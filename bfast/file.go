package bfast

import (
	"encoding/binary"
	"os"

	"github.com/epa-ng/epa-ng/epaerr"
)

// magic is §4.8's literal file signature.
var magic = [6]byte{'B', 'F', 'A', 'S', 'T', 0}

// Record is one sequence's offset-table entry: an opaque id and the byte
// offset of its data-section entry.
type Record struct {
	ID         uint64
	ByteOffset uint64
}

// Write implements §4.8's header/payload layout for a full file: magic,
// num_sequences, the optional gap mask, the (id, byte_offset) table, then
// the data section (header, seq_length, packed payload) per sequence, in
// the same order as headers/seqs.
func Write(path string, headers []string, seqs [][]byte, gap *GapMask) error {
	f, err := os.Create(path)
	if err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "bfast: create")
	}
	defer f.Close()

	var out []byte
	out = append(out, magic[:]...)
	out = appendUint64(out, uint64(len(seqs)))

	var gapBytes []byte
	if gap != nil {
		gapBytes = gap.Marshal()
	}
	out = appendUint64(out, uint64(len(gapBytes)))
	out = append(out, gapBytes...)

	records := make([]Record, len(seqs))
	var data []byte
	for i, seq := range seqs {
		records[i] = Record{ID: uint64(i), ByteOffset: uint64(len(data))}
		data = appendUint32(data, uint32(len(headers[i])))
		data = append(data, headers[i]...)
		data = appendUint64(data, uint64(len(seq)))
		packed, err := packNibbles(seq)
		if err != nil {
			return err
		}
		data = append(data, packed...)
	}

	for _, r := range records {
		out = appendUint64(out, r.ID)
		out = appendUint64(out, r.ByteOffset)
	}
	out = append(out, data...)

	if _, err := f.Write(out); err != nil {
		return epaerr.Wrap(epaerr.KindIO, err, "bfast: write")
	}
	return nil
}

// Reader provides §4.8's random-access reads: one sequence decoded per
// Read call, located via the offset table read once at Open.
type Reader struct {
	f        *os.File
	records  []Record
	dataBase int64
	Gap      *GapMask
}

// Open reads the header and offset table, leaving the data section for
// on-demand reads.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: open")
	}
	hdr := make([]byte, 14)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read header")
	}
	if string(hdr[0:6]) != string(magic[:]) {
		return nil, epaerr.New(epaerr.KindParse, "bfast: bad magic")
	}
	numSeqs := readUint64(hdr[6:14])

	gapLenBuf := make([]byte, 8)
	if _, err := f.ReadAt(gapLenBuf, 14); err != nil {
		return nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read gap mask length")
	}
	gapLen := readUint64(gapLenBuf)
	var gap *GapMask
	if gapLen > 0 {
		gapBuf := make([]byte, gapLen)
		if _, err := f.ReadAt(gapBuf, 22); err != nil {
			return nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read gap mask")
		}
		gap = UnmarshalGapMask(gapBuf)
	}

	tableOffset := int64(22) + int64(gapLen)
	records := make([]Record, numSeqs)
	tableSize := int(numSeqs) * 16
	tableBuf := make([]byte, tableSize)
	if tableSize > 0 {
		if _, err := f.ReadAt(tableBuf, tableOffset); err != nil {
			return nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read offset table")
		}
	}
	for i := range records {
		records[i] = Record{
			ID:         readUint64(tableBuf[i*16 : i*16+8]),
			ByteOffset: readUint64(tableBuf[i*16+8 : i*16+16]),
		}
	}

	return &Reader{
		f:        f,
		records:  records,
		dataBase: tableOffset + int64(tableSize),
		Gap:      gap,
	}, nil
}

// NumSequences reports how many sequences the file holds.
func (r *Reader) NumSequences() int { return len(r.records) }

// ReadSequence decodes sequence idx, per §4.8's invariant
// decode(encode(s)) == canonicalize(s). When premasking is true and a gap
// mask is present, the result is additionally subset to non-gap columns.
func (r *Reader) ReadSequence(idx int, premasking bool) (header string, seq []byte, err error) {
	base := r.dataBase + int64(r.records[idx].ByteOffset)
	lenBuf := make([]byte, 4)
	if _, err := r.f.ReadAt(lenBuf, base); err != nil {
		return "", nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read header length")
	}
	hdrLen := int(binary.LittleEndian.Uint32(lenBuf))
	hdrBuf := make([]byte, hdrLen)
	if hdrLen > 0 {
		if _, err := r.f.ReadAt(hdrBuf, base+4); err != nil {
			return "", nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read header text")
		}
	}

	seqLenBuf := make([]byte, 8)
	if _, err := r.f.ReadAt(seqLenBuf, base+4+int64(hdrLen)); err != nil {
		return "", nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read seq length")
	}
	seqLen := int(readUint64(seqLenBuf))

	payload := make([]byte, (seqLen+1)/2)
	if _, err := r.f.ReadAt(payload, base+12+int64(hdrLen)); err != nil {
		return "", nil, epaerr.Wrap(epaerr.KindIO, err, "bfast: read payload")
	}

	decoded := unpackNibbles(payload, seqLen)
	if premasking && r.Gap != nil {
		decoded = r.Gap.Subset(decoded)
	}
	return string(hdrBuf), decoded, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func readUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
