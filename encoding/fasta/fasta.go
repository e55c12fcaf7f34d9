// Package fasta parses FASTA-formatted reference and query alignments.
// FASTA files consist of a number of named sequences that may be
// interrupted by newlines. For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Sequence names are the stretch of characters excluding spaces immediately
// after '>'; any text after a space is ignored, so '>chr1 a comment' becomes
// 'chr1'.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const bufferInitSize = 64 * 1024 * 1024

// Parse reads every record out of r, returning each sequence keyed by name
// plus the names in the order they appeared. Reference and query alignments
// are always consumed whole, so unlike the indexed, random-access-by-
// coordinate FASTA readers this is descended from, Parse has no partial-read
// mode.
func Parse(r io.Reader) (seqs map[string]string, names []string, err error) {
	seqs = make(map[string]string)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)

	var name string
	var seq strings.Builder
	flush := func() error {
		if name == "" {
			return nil
		}
		if _, dup := seqs[name]; dup {
			return errors.Errorf("duplicate sequence name: %s", name)
		}
		seqs[name] = seq.String()
		names = append(names, name)
		seq.Reset()
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			name = strings.Split(line[1:], " ")[0]
			continue
		}
		if name == "" {
			return nil, nil, errors.Errorf("malformed FASTA: sequence data before first header")
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, errors.Errorf("empty FASTA")
	}
	return seqs, names, nil
}
