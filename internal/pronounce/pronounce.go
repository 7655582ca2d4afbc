// Package pronounce scores a recognised utterance against the text the
// speaker was asked to recite.
//
// Both strings are normalised (trimmed, NFC-composed, lower-cased) and then
// aligned character by character with [align.AlignStrings]. The score is the
// alignment ratio as a percentage; the differences point at the characters of
// the target text that were missed or said wrongly.
package pronounce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"

	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/pkg/align"
)

// DefaultMaxRunes bounds each input. Verses are a few hundred characters;
// the bound keeps the alignment's worst case small.
const DefaultMaxRunes = 4096

var (
	// ErrInvalidDetail is returned for a detail level other than spans or ops.
	ErrInvalidDetail = errors.New("pronounce: invalid detail level")

	// ErrTextTooLong is returned when an input exceeds the configured limit.
	ErrTextTooLong = errors.New("pronounce: text too long")
)

// Detail selects how much of the edit script an [Evaluation] carries.
type Detail string

const (
	// DetailSpans reports only the differing ranges of the target text.
	DetailSpans Detail = "spans"

	// DetailOps additionally reports the full edit script.
	DetailOps Detail = "ops"
)

// ParseDetail maps "" to [DetailSpans] and rejects unknown values.
func ParseDetail(s string) (Detail, error) {
	switch d := Detail(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DetailSpans, nil
	case DetailSpans, DetailOps:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidDetail, s, DetailSpans, DetailOps)
	}
}

// Request is one evaluation input.
type Request struct {
	TargetText     string
	RecognizedText string
	Detail         Detail
}

// Op is one edit operation with the substrings it covers.
type Op struct {
	align.Opcode
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Evaluation is the result of comparing a recitation with its target.
type Evaluation struct {
	// Score is 0..100 with two decimals.
	Score float64 `json:"score"`

	// Differences are the non-equal ranges of the normalised target text,
	// as character offsets.
	Differences []align.Span `json:"differences"`

	// Ops is the full edit script; only set for [DetailOps].
	Ops []Op `json:"ops,omitempty"`
}

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithMaxRunes overrides [DefaultMaxRunes]. Non-positive values are ignored.
func WithMaxRunes(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxRunes = n
		}
	}
}

// Evaluator scores recitations. It holds no per-call state and is safe for
// concurrent use.
type Evaluator struct {
	metrics  *observe.Metrics
	maxRunes int
}

// New creates an [Evaluator].
func New(opts ...Option) *Evaluator {
	e := &Evaluator{maxRunes: DefaultMaxRunes}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Normalize trims s, composes it to NFC and lower-cases it. Composition makes
// "ā" typed as a+U+0304 equal to the precomposed character.
func Normalize(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Evaluate compares req.RecognizedText with req.TargetText. The only errors
// are an unknown detail level and over-long input; any pair of strings
// within the limit, empty ones included, is scored.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Evaluation, error) {
	detail, err := ParseDetail(string(req.Detail))
	if err != nil {
		return Evaluation{}, err
	}
	target := Normalize(req.TargetText)
	spoken := Normalize(req.RecognizedText)
	for name, s := range map[string]string{"target_text": target, "recognized_text": spoken} {
		if n := utf8.RuneCountInString(s); n > e.maxRunes {
			return Evaluation{}, fmt.Errorf("%w: %s has %d characters, limit %d", ErrTextTooLong, name, n, e.maxRunes)
		}
	}

	ctx, span := observe.StartSpan(ctx, "pronounce.evaluate")
	defer span.End()
	start := time.Now()

	res := align.AlignStrings(target, spoken)
	ev := Evaluation{
		Score:       res.Score(),
		Differences: res.Spans(),
	}
	if detail == DetailOps {
		ev.Ops = describe(res.Opcodes, []rune(target), []rune(spoken))
	}

	e.metrics.RecordEvaluation(ctx, time.Since(start).Seconds(), ev.Score, string(detail))
	span.SetAttributes(
		attribute.Float64("pronounce.score", ev.Score),
		attribute.Int("pronounce.target_len", utf8.RuneCountInString(target)),
		attribute.Int("pronounce.differences", len(ev.Differences)),
		attribute.String("pronounce.detail", string(detail)),
	)
	return ev, nil
}

func describe(ops []align.Opcode, a, b []rune) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		out = append(out, Op{
			Opcode:   op,
			Expected: string(a[op.I1:op.I2]),
			Actual:   string(b[op.J1:op.J2]),
		})
	}
	return out
}
