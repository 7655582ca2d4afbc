package phonetic_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/gitapractice/internal/phonetic"
)

func TestFold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Kṛṣṇa", "krsna"},
		{"bhūr", "bhur"},
		{"yogaḥ karmasu kauśalam", "yogah karmasu kausalam"},
		{"चिंता", "चिंता"},
		{"Fear भय", "fear भय"},
	}
	for _, tt := range tests {
		if got := phonetic.Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()

	got := phonetic.Tokens("karmaṇy-evādhikāras te | मा फलेषु")
	want := []string{"karmany", "evadhikaras", "te"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokens = %q, want %q", got, want)
	}
	if got := phonetic.Tokens("भय चिंता"); len(got) != 0 {
		t.Errorf("Devanagari-only input gave tokens %q", got)
	}
}

func TestMatcher_Misspelling(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	keywords := []string{"anxiety", "worry", "fear", "duty", "result", "attachment"}

	tests := []struct {
		word string
		want string
	}{
		{"anxeity", "anxiety"},
		{"atachment", "attachment"},
		{"worri", "worry"},
	}
	for _, tt := range tests {
		got, conf, matched := m.Match(tt.word, keywords)
		if !matched {
			t.Errorf("Match(%q): matched=false, want %q", tt.word, tt.want)
			continue
		}
		if got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.word, got, tt.want)
		}
		if conf < 0.7 {
			t.Errorf("Match(%q): confidence=%f, want >= 0.7", tt.word, conf)
		}
	}
}

func TestMatcher_DiacriticsInsensitive(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	got, _, matched := m.Match("kausalam", []string{"yogaḥ karmasu kauśalam |", "māmakāḥ pāṇḍavāś"})
	if !matched || got != "yogaḥ karmasu kauśalam |" {
		t.Errorf("Match = %q, %v", got, matched)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	got, conf, matched := m.Match("hello", []string{"duty", "anxiety"})
	if matched {
		t.Fatalf("Match(hello) matched %q", got)
	}
	if got != "" || conf != 0 {
		t.Errorf("no match should return zero values, got %q %f", got, conf)
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, _, matched := m.Match("", []string{"duty"}); matched {
		t.Error("empty word matched")
	}
	if _, _, matched := m.Match("duty", nil); matched {
		t.Error("matched against no candidates")
	}
	if _, _, matched := m.Match("भय", []string{"भय"}); matched {
		t.Error("Devanagari is not handled phonetically")
	}
}

func TestMatcher_RankOrdersByScore(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	ranked := m.Rank("worry", []string{"attachment", "worri", "worry"})
	if len(ranked) != 2 {
		t.Fatalf("Rank returned %+v, want worry and worri", ranked)
	}
	if ranked[0].Value != "worry" || ranked[0].Index != 2 || !ranked[0].Phonetic {
		t.Errorf("best = %+v, want the exact phonetic match first", ranked[0])
	}
	if ranked[1].Value != "worri" || ranked[1].Index != 1 || !ranked[1].Phonetic {
		t.Errorf("second = %+v, want the phonetic near miss", ranked[1])
	}
	if ranked[0].Score < ranked[1].Score {
		t.Errorf("rank not sorted by score: %+v", ranked)
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, matched := strict.Match("worri", []string{"worry"}); matched {
		t.Error("strict thresholds should reject a near miss")
	}
	if _, _, matched := strict.Match("worry", []string{"worry"}); !matched {
		t.Error("exact match should clear any threshold")
	}
}
