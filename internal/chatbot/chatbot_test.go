package chatbot_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/gitapractice/internal/chatbot"
	"github.com/MrWong99/gitapractice/internal/config"
	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/verse"
)

func newBot(t *testing.T, rules chatbot.Rules) (*chatbot.Bot, *sdkmetric.ManualReader) {
	t.Helper()
	ds, err := verse.Default()
	if err != nil {
		t.Fatalf("verse.Default: %v", err)
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	b, err := chatbot.New(ds, rules, chatbot.WithMetrics(m))
	if err != nil {
		t.Fatalf("chatbot.New: %v", err)
	}
	return b, reader
}

func verseIDs(refs []verse.Ref) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestReply(t *testing.T) {
	t.Parallel()

	b, _ := newBot(t, chatbot.DefaultRules())

	tests := []struct {
		name       string
		message    string
		wantVerses []string
		wantTopics []string
	}{
		{"anxiety keyword", "I feel so much ANXIETY before exams", []string{"12.15"}, []string{"anxiety"}},
		{"devanagari keyword", "मुझे भय लगता है", []string{"12.15"}, []string{"anxiety"}},
		{"duty keyword", "what is my duty?", []string{"2.47"}, []string{"duty"}},
		{"both topics", "I worry about the result", []string{"12.15", "2.47"}, []string{"anxiety", "duty"}},
		{"misspelt anxiety", "so much anxeity lately", []string{"12.15"}, []string{"anxiety"}},
		{"misspelt attachment", "my atachment to outcomes", []string{"2.47"}, []string{"duty"}},
		{"misspelt worry", "I worri a lot", []string{"12.15"}, []string{"anxiety"}},
		{"no match", "tell me something nice about home", []string{"2.50"}, []string{chatbot.FallbackTopic}},
		{"empty", "", []string{"2.50"}, []string{chatbot.FallbackTopic}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := b.Reply(context.Background(), tt.message)
			if got.Reply != chatbot.DefaultReply {
				t.Errorf("Reply = %q", got.Reply)
			}
			if diff := cmp.Diff(tt.wantVerses, verseIDs(got.Verses)); diff != "" {
				t.Errorf("verses mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantTopics, got.Topics); diff != "" {
				t.Errorf("topics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReply_VersesCarryChapterAndText(t *testing.T) {
	t.Parallel()

	b, _ := newBot(t, chatbot.DefaultRules())
	got := b.Reply(context.Background(), "fear")
	if len(got.Verses) != 1 {
		t.Fatalf("got %d verses, want 1", len(got.Verses))
	}
	v := got.Verses[0]
	if v.Chapter != 12 || v.Devanagari == "" || v.Translations["en"] == "" {
		t.Errorf("verse = %+v, want full verse 12.15", v)
	}
}

func TestReply_DeduplicatesVerses(t *testing.T) {
	t.Parallel()

	rules := chatbot.Rules{
		Topics: []chatbot.Topic{
			{Name: "a", Keywords: []string{"calm"}, Verses: []chatbot.Key{{Chapter: 2, VerseID: "2.47"}}},
			{Name: "b", Keywords: []string{"peace"}, Verses: []chatbot.Key{{Chapter: 2, VerseID: "2.47"}, {Chapter: 1, VerseID: "1.1"}}},
		},
		Fallback: chatbot.Key{Chapter: 2, VerseID: "2.50"},
		Reply:    "Here you go.",
	}
	b, _ := newBot(t, rules)
	got := b.Reply(context.Background(), "calm and peace")
	if diff := cmp.Diff([]string{"2.47", "1.1"}, verseIDs(got.Verses)); diff != "" {
		t.Errorf("verses mismatch (-want +got):\n%s", diff)
	}
	if got.Reply != "Here you go." {
		t.Errorf("Reply = %q", got.Reply)
	}
}

func TestSetRules(t *testing.T) {
	t.Parallel()

	b, _ := newBot(t, chatbot.DefaultRules())

	bad := chatbot.DefaultRules()
	bad.Topics = append(bad.Topics, chatbot.Topic{Name: "missing", Keywords: []string{"x"}, Verses: []chatbot.Key{{Chapter: 3, VerseID: "3.8"}}})
	bad.Fallback = chatbot.Key{Chapter: 19, VerseID: "19.1"}
	err := b.SetRules(bad)
	if err == nil {
		t.Fatal("SetRules accepted unknown verses")
	}
	if !errors.Is(err, verse.ErrNotFound) || !errors.Is(err, verse.ErrChapterOutOfRange) {
		t.Errorf("err = %v, want both lookup failures joined", err)
	}

	// The old rules stay active after a failed update.
	if got := b.Reply(context.Background(), "duty"); len(got.Verses) != 1 || got.Verses[0].ID != "2.47" {
		t.Errorf("after failed SetRules: %+v", got)
	}

	good := chatbot.Rules{
		Topics:   []chatbot.Topic{{Name: "skill", Keywords: []string{"skill"}, Verses: []chatbot.Key{{Chapter: 2, VerseID: "2.50"}}}},
		Fallback: chatbot.Key{Chapter: 1, VerseID: "1.1"},
	}
	if err := b.SetRules(good); err != nil {
		t.Fatalf("SetRules: %v", err)
	}
	if got := b.Reply(context.Background(), "duty"); got.Verses[0].ID != "1.1" || got.Reply != chatbot.DefaultReply {
		t.Errorf("after SetRules: %+v", got)
	}
}

func TestSetRules_EmptyTopic(t *testing.T) {
	t.Parallel()

	b, _ := newBot(t, chatbot.DefaultRules())
	err := b.SetRules(chatbot.Rules{
		Topics:   []chatbot.Topic{{Name: "hollow", Keywords: []string{"  "}}},
		Fallback: chatbot.Key{Chapter: 2, VerseID: "2.50"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"no keywords", "no verses"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestRulesFromConfig(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff(chatbot.DefaultRules(), chatbot.RulesFromConfig(config.ChatbotConfig{})); diff != "" {
		t.Errorf("empty config mismatch (-want +got):\n%s", diff)
	}

	got := chatbot.RulesFromConfig(config.ChatbotConfig{
		Topics: []config.TopicConfig{{
			Name:     "skill",
			Keywords: []string{"skill", "yoga"},
			Verses:   []config.VerseRef{{Chapter: 2, VerseID: "2.50"}},
		}},
		Fallback: config.VerseRef{Chapter: 1, VerseID: "1.1"},
		Reply:    "Consider this.",
	})
	want := chatbot.Rules{
		Topics:   []chatbot.Topic{{Name: "skill", Keywords: []string{"skill", "yoga"}, Verses: []chatbot.Key{{Chapter: 2, VerseID: "2.50"}}}},
		Fallback: chatbot.Key{Chapter: 1, VerseID: "1.1"},
		Reply:    "Consider this.",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RulesFromConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestReply_RecordsMetrics(t *testing.T) {
	t.Parallel()

	b, reader := newBot(t, chatbot.DefaultRules())
	for _, msg := range []string{"fear and duty", "hello", "worry"} {
		b.Reply(context.Background(), msg)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "gitapractice.chatbot.replies" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("topic")
				got[v.AsString()] += dp.Value
			}
		}
	}
	want := map[string]int64{"anxiety": 2, "duty": 1, "fallback": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chatbot replies mismatch (-want +got):\n%s", diff)
	}
}

func TestReply_PhoneticMatchLogCarriesTrace(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	b, _ := newBot(t, chatbot.DefaultRules())
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x0a, 0x0b},
		SpanID:     trace.SpanID{0x0c},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	b.Reply(ctx, "so much anxeity lately")

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "chatbot phonetic keyword") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no phonetic keyword log line in:\n%s", buf.String())
	}
	for _, want := range []string{"trace_id=" + sc.TraceID().String(), "span_id=" + sc.SpanID().String(), "keyword=anxiety"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}
