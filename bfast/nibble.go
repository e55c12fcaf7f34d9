// Package bfast implements the 4-bit FASTA format (C7, spec.md §4.8): a
// random-access binary encoding that packs two characters per byte over a
// 16-symbol DNA-plus-ambiguity alphabet. The nibble<->ASCII mapping follows
// the teacher's Seq8ToASCIITable/Seq8ToEnumTable idiom in
// pileup/common.go, generalized from the BAM 4-bit SEQ field's own
// IUPAC-ambiguity alphabet (already size 16) to bfast's payload encoding.
package bfast

import "github.com/epa-ng/epa-ng/epaerr"

// asciiTable is bfast's nibble -> ASCII mapping, reusing BAM's own
// size-16 IUPAC ambiguity-code ordering (pileup/common.go's
// Seq8ToASCIITable) since it already covers ACGT plus every two- and
// three-way ambiguity class bfast's alphabet needs.
var asciiTable = [16]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

// enumTable is the inverse mapping, ASCII -> nibble, built once from
// asciiTable.
var enumTable = buildEnumTable()

func buildEnumTable() map[byte]byte {
	m := make(map[byte]byte, 16)
	for nib, c := range asciiTable {
		m[c] = byte(nib)
	}
	// '-' and '.' both canonicalize to the gap nibble (0, '=').
	m['-'] = 0
	m['.'] = 0
	return m
}

// encodeChar maps one ASCII DNA/ambiguity character to its nibble value.
func encodeChar(c byte) (byte, error) {
	nib, ok := enumTable[c]
	if !ok {
		return 0, epaerr.New(epaerr.KindUnsupportedAlphabet, "bfast: non-DNA character in sequence")
	}
	return nib, nil
}

// packNibbles packs seq (already-validated ASCII characters) two per byte,
// per §4.8's "4-bit packed payload... trailing nibble padded when odd".
func packNibbles(seq []byte) ([]byte, error) {
	out := make([]byte, (len(seq)+1)/2)
	for i, c := range seq {
		nib, err := encodeChar(c)
		if err != nil {
			return nil, err
		}
		if i%2 == 0 {
			out[i/2] = nib << 4
		} else {
			out[i/2] |= nib
		}
	}
	return out, nil
}

// unpackNibbles decodes a packed payload back to length ASCII characters.
func unpackNibbles(payload []byte, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		b := payload[i/2]
		var nib byte
		if i%2 == 0 {
			nib = b >> 4
		} else {
			nib = b & 0x0f
		}
		out[i] = asciiTable[nib]
	}
	return out
}
