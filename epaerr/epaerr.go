// Package epaerr defines the fatal-error taxonomy shared by every epa-ng
// component, mirroring the sentinel-error style used throughout
// github.com/grailbio/bio (see encoding/bam/unmarshal.go, encoding/fastq/
// scanner.go).
//
// Every kind here is, per spec, a process-level fatal: callers are expected
// to log it (github.com/grailbio/base/log) and abort rather than retry.
package epaerr

import "errors"

// Kind classifies a fatal error into one of the categories of the error
// taxonomy.
type Kind int

const (
	// KindParse covers malformed Newick, FASTA, or binary-store headers.
	KindParse Kind = iota
	// KindUnmatchedTaxon is raised when a reference tip has no matching
	// sequence in the reference MSA.
	KindUnmatchedTaxon
	// KindInvalidCharacter is raised by the Lookup Store path when a query
	// character falls outside the configured alphabet.
	KindInvalidCharacter
	// KindUnsupportedAlphabet is raised when amino-acid input is given to
	// the 4-bit FASTA converter.
	KindUnsupportedAlphabet
	// KindEmptySequence is raised when premasking yields zero valid sites.
	KindEmptySequence
	// KindNumericalUnderflow is raised when a placement's log-likelihood is
	// -Inf.
	KindNumericalUnderflow
	// KindCLVUnavailable is raised when a required CLV cannot be
	// materialised.
	KindCLVUnavailable
	// KindMemoryInfeasible is raised when the requested memory budget is
	// below the computed minimum footprint.
	KindMemoryInfeasible
	// KindIO covers any file-system failure.
	KindIO
	// KindInternalInvariant covers assertion failures that should never be
	// reachable in correct code (partition shape, pin-manager invariants).
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindUnmatchedTaxon:
		return "UnmatchedTaxon"
	case KindInvalidCharacter:
		return "InvalidCharacter"
	case KindUnsupportedAlphabet:
		return "UnsupportedAlphabet"
	case KindEmptySequence:
		return "EmptySequence"
	case KindNumericalUnderflow:
		return "NumericalUnderflow"
	case KindCLVUnavailable:
		return "CLVUnavailable"
	case KindMemoryInfeasible:
		return "MemoryInfeasible"
	case KindIO:
		return "IOError"
	case KindInternalInvariant:
		return "InternalInvariant"
	default:
		return "UnknownError"
	}
}

// Error is a classified fatal error. Wrap with pkg/errors at call sites that
// want a stack trace attached; Kind survives through errors.Cause.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Kind.String() + ": " + e.msg + ": " + e.err.Error()
	}
	return e.Kind.String() + ": " + e.msg
}

// Unwrap lets the standard library's errors.Is/errors.As see through to any
// wrapped cause.
func (e *Error) Unwrap() error { return e.err }

// New creates a classified error with no underlying cause.
func New(k Kind, msg string) error {
	return &Error{Kind: k, msg: msg}
}

// Wrap attaches a Kind to an existing error, keeping it as the Unwrap cause.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, msg: msg, err: err}
}

// Is reports whether err (or any error it wraps) was classified with k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.err
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}
