// Package model carries the substitution-model side of the partition: the
// character alphabet, its canonicalization table, rate categories, base
// frequencies, and the GTR/empirical-matrix machinery used to turn a branch
// length into a probability matrix.
//
// This is the one place epa-ng implements, rather than merely interfaces
// with, the "likelihood library" that spec.md §1/§6 names as an out-of-scope
// external collaborator: a discriminated-union interface with no concrete
// math behind it can't drive a runnable placement kernel, so a small,
// self-contained numerical core lives here (DNA GTR+Gamma, empirical AA
// matrices), built on gonum.org/v1/gonum/mat the way
// _examples/js-arias-phygeo uses gonum for its own tree/geography math.
package model

import "github.com/epa-ng/epa-ng/epaerr"

// Kind distinguishes the two alphabets spec.md §3 supports.
type Kind int

const (
	// DNA is the 4-state nucleotide alphabet.
	DNA Kind = iota
	// AA is the 20-state amino-acid alphabet.
	AA
)

// States returns the number of unambiguous states for the alphabet.
func (k Kind) States() int {
	if k == DNA {
		return 4
	}
	return 20
}

// CharIndex normalizes a raw input character into a position in [0,States())
// or the special gap index (== States()), following the table in spec.md
// §4.2/§6: case-folding, RNA U<->T, and gap/any synonyms collapse to one
// canonical class.
//
// The returned table has States()+1 entries; index States() means "gap/any",
// contributing a uniform likelihood across all states at that site.
func (k Kind) CharIndex(c byte) (int, error) {
	if k == DNA {
		return dnaIndex(c)
	}
	return aaIndex(c)
}

// GapIndex is the canonical index meaning "gap or wildcard" for alphabet k.
func (k Kind) GapIndex() int { return k.States() }

var dnaTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	set := func(chars string, idx int8) {
		for _, c := range []byte(chars) {
			t[c] = idx
			t[lower(c)] = idx
		}
	}
	set("A", 0)
	set("C", 1)
	set("G", 2)
	set("T", 3)
	set("U", 3) // RNA U -> T
	set("NX?O.-", 4)
	return t
}()

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func dnaIndex(c byte) (int, error) {
	if int(c) >= len(dnaTable) {
		return 0, epaerr.New(epaerr.KindInvalidCharacter, "query character out of range")
	}
	v := dnaTable[c]
	if v < 0 {
		return 0, epaerr.New(epaerr.KindInvalidCharacter, "unrecognized DNA character")
	}
	return int(v), nil
}

var aaResidues = "ARNDCQEGHILKMFPSTWYV"

var aaTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(aaResidues); i++ {
		c := aaResidues[i]
		t[c] = int8(i)
		t[lower(c)] = int8(i)
	}
	for _, c := range []byte("X?-") {
		t[c] = int8(len(aaResidues))
		t[lower(c)] = int8(len(aaResidues))
	}
	return t
}()

func aaIndex(c byte) (int, error) {
	if int(c) >= len(aaTable) {
		return 0, epaerr.New(epaerr.KindInvalidCharacter, "query character out of range")
	}
	v := aaTable[c]
	if v < 0 {
		return 0, epaerr.New(epaerr.KindInvalidCharacter, "unrecognized amino-acid character")
	}
	return int(v), nil
}

// IsGapByte reports whether c is one of the characters that collapse to the
// gap/any class for alphabet k, used by premasking (spec.md §4.7) without
// requiring a full CharIndex round-trip.
func (k Kind) IsGapByte(c byte) bool {
	idx, err := k.CharIndex(c)
	return err == nil && idx == k.GapIndex()
}
