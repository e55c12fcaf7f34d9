package bfast

import (
	"bufio"
	"io"
	"strings"

	"github.com/epa-ng/epa-ng/epaerr"
)

// FastaToBfast implements §4.8's fasta_to_bfast(file): converts text FASTA
// into the 4-bit packed format, failing UnsupportedAlphabet on the first
// non-DNA character (AA conversion is explicitly not supported).
func FastaToBfast(r io.Reader, outPath string) error {
	headers, seqs, err := parseFasta(r)
	if err != nil {
		return err
	}
	return Write(outPath, headers, seqs, nil)
}

func parseFasta(r io.Reader) ([]string, [][]byte, error) {
	var headers []string
	var seqs [][]byte
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 || len(headers) > len(seqs) {
			seqs = append(seqs, []byte(cur.String()))
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
			headers = append(headers, line[1:])
			continue
		}
		cur.WriteString(line)
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, nil, epaerr.Wrap(epaerr.KindParse, err, "bfast: scanning fasta")
	}
	if len(headers) != len(seqs) {
		return nil, nil, epaerr.New(epaerr.KindParse, "bfast: fasta header/sequence count mismatch")
	}
	return headers, seqs, nil
}
