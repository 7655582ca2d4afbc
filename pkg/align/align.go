// Package align compares two sequences and describes how one turns into the
// other.
//
// The comparison follows the classic longest-matching-block approach: the
// longest contiguous run shared by both sequences is located first, then the
// regions to its left and right are searched the same way until no shared
// unit remains. The resulting matching blocks yield both a similarity ratio
// and an ordered edit script ([Opcode]) that partitions both inputs.
//
// Every unit is significant. Unlike heuristic matchers, no "junk" or
// popular-element filtering is applied, so results depend only on exact
// equality of units. If such filtering is ever added it must be opt-in and
// documented as a deviation from this behaviour.
//
// All functions are pure: they never mutate or retain their inputs and are
// safe for concurrent use.
package align

import "math"

// Tag identifies the kind of an [Opcode].
type Tag int

const (
	// Equal means a[I1:I2] == b[J1:J2].
	Equal Tag = iota

	// Replace means a[I1:I2] should be replaced by b[J1:J2].
	Replace

	// Delete means a[I1:I2] should be deleted; J1 == J2.
	Delete

	// Insert means b[J1:J2] should be inserted at a[I1:I1]; I1 == I2.
	Insert
)

// String returns the lower-case name of the tag as used on the wire.
func (t Tag) String() string {
	switch t {
	case Equal:
		return "equal"
	case Replace:
		return "replace"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler] so tags encode as their
// names in JSON.
func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Match is a run of Size equal units: a[A:A+Size] == b[B:B+Size].
type Match struct {
	A    int `json:"a"`
	B    int `json:"b"`
	Size int `json:"size"`
}

// Opcode is one step of the edit script turning a into b. It covers the
// half-open range [I1,I2) of a and [J1,J2) of b.
type Opcode struct {
	Tag Tag `json:"op"`
	I1  int `json:"a_start"`
	I2  int `json:"a_end"`
	J1  int `json:"b_start"`
	J2  int `json:"b_end"`
}

// Span is a half-open range [Start,End) of the expected sequence.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Result is the outcome of aligning two sequences.
type Result struct {
	// Ratio is 2*T/(M+N) where T is the total size of all matching blocks
	// and M, N are the input lengths. It is 0 when both inputs are empty.
	Ratio float64

	// Blocks lists the matching blocks in increasing order, terminated by
	// the sentinel Match{M, N, 0}.
	Blocks []Match

	// Opcodes is the edit script. It partitions [0,M) and [0,N) in order
	// and never holds two adjacent entries that could be merged.
	Opcodes []Opcode
}

// Align compares expected (a) with actual (b). It is a total function: any
// pair of inputs, including empty and identical ones, produces a result.
func Align[T comparable](a, b []T) Result {
	blocks := MatchingBlocks(a, b)
	return Result{
		Ratio:   Ratio(blocks, len(a), len(b)),
		Blocks:  blocks,
		Opcodes: Opcodes(blocks),
	}
}

// AlignStrings aligns two strings unit by unit over Unicode code points, so
// every offset in the result is a character offset rather than a byte offset.
// Callers are responsible for any normalisation (trimming, case folding).
func AlignStrings(expected, actual string) Result {
	return Align([]rune(expected), []rune(actual))
}

// Ratio computes the similarity ratio for blocks found between sequences of
// length m and n.
func Ratio(blocks []Match, m, n int) float64 {
	if m+n == 0 {
		return 0
	}
	matched := 0
	for _, b := range blocks {
		matched += b.Size
	}
	return 2 * float64(matched) / float64(m+n)
}

// Score returns the ratio as a percentage rounded to two decimal places.
// Halves are rounded away from zero.
func (r Result) Score() float64 {
	return math.Round(r.Ratio*10000) / 100
}

// Spans returns the reduced form of the edit script: the ranges of the
// expected sequence covered by non-equal opcodes. Pure insertions are
// omitted because they do not cover any expected unit.
func (r Result) Spans() []Span {
	spans := make([]Span, 0, len(r.Opcodes))
	for _, op := range r.Opcodes {
		if op.Tag == Equal || op.I1 == op.I2 {
			continue
		}
		spans = append(spans, Span{Start: op.I1, End: op.I2})
	}
	return spans
}
