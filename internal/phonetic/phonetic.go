// Package phonetic matches words that sound alike: misspelt keywords typed
// into the chatbot, or a romanised query that does not quite hit a verse
// transliteration.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input and of each candidate. A candidate sharing at
//     least one code becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the one with the
//     highest Jaro-Winkler similarity wins, provided it clears the phonetic
//     threshold. Without any phonetic candidate, pure Jaro-Winkler similarity
//     is tried against a stricter fuzzy threshold.
//
// Inputs are folded first: lower-cased, stripped of diacritics (so "kṛṣṇa"
// and "krishna" meet half way) and split on anything that is not a letter or
// digit. Tokens without a Latin letter are ignored; scripts such as
// Devanagari are left to exact substring matching by the callers.
package phonetic

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic code is shared. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Candidate is one ranked result of [Matcher.Rank].
type Candidate struct {
	Index    int
	Value    string
	Score    float64
	Phonetic bool
}

// Score compares word with candidate. ok is false when the pair clears
// neither threshold or either side has no Latin token.
func (m *Matcher) Score(word, candidate string) (score float64, phonetic, ok bool) {
	wordTokens := Tokens(word)
	candTokens := Tokens(candidate)
	if len(wordTokens) == 0 || len(candTokens) == 0 {
		return 0, false, false
	}

	phonetic = codesOverlap(codesForTokens(wordTokens), codesForTokens(candTokens))
	score = bestJWScore(wordTokens, candTokens)

	if phonetic {
		return score, true, score >= m.phoneticThreshold
	}
	return score, false, score >= m.fuzzyThreshold
}

// Match returns the candidate that sounds most like word. Phonetic matches
// always beat pure fuzzy ones. When nothing qualifies, matched is false and
// best is "".
func (m *Matcher) Match(word string, candidates []string) (best string, confidence float64, matched bool) {
	ranked := m.Rank(word, candidates)
	if len(ranked) == 0 {
		return "", 0, false
	}
	return ranked[0].Value, ranked[0].Score, true
}

// Rank returns every qualifying candidate, phonetic matches first, then by
// descending score, ties in input order.
func (m *Matcher) Rank(word string, candidates []string) []Candidate {
	var out []Candidate
	for i, c := range candidates {
		score, phonetic, ok := m.Score(word, c)
		if !ok {
			continue
		}
		out = append(out, Candidate{Index: i, Value: c, Score: score, Phonetic: phonetic})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		if a.Phonetic != b.Phonetic {
			if a.Phonetic {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

// latinMark matches the combining diacritics used by romanised Sanskrit.
// Devanagari vowel signs live in their own block and survive.
var latinMark = runes.Predicate(func(r rune) bool { return r >= 0x0300 && r <= 0x036F })

// Fold lower-cases s and removes Latin diacritics.
func Fold(s string) string {
	// Chains carry state; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(latinMark), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// Tokens folds s and splits it into tokens containing at least one Latin
// letter.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if hasLatin(f) {
			out = append(out, f)
		}
	}
	return out
}

func hasLatin(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

// codesForTokens returns the union of all Double Metaphone codes for tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over three views of the
// input: the joined strings, the strings with spaces removed, and every
// token pair.
func bestJWScore(inputTokens, candTokens []string) float64 {
	score := matchr.JaroWinkler(strings.Join(inputTokens, " "), strings.Join(candTokens, " "), false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
