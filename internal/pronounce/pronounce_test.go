package pronounce_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/gitapractice/internal/observe"
	"github.com/MrWong99/gitapractice/internal/pronounce"
	"github.com/MrWong99/gitapractice/pkg/align"
)

func newEvaluator(t *testing.T, opts ...pronounce.Option) (*pronounce.Evaluator, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return pronounce.New(append([]pronounce.Option{pronounce.WithMetrics(m)}, opts...)...), reader
}

func TestEvaluate_Spans(t *testing.T) {
	t.Parallel()

	e, _ := newEvaluator(t)

	tests := []struct {
		name   string
		target string
		spoken string
		want   pronounce.Evaluation
	}{
		{
			name:   "dropped final letter",
			target: "karma yoga",
			spoken: "karma yog",
			want:   pronounce.Evaluation{Score: 94.74, Differences: []align.Span{{Start: 9, End: 10}}},
		},
		{
			name:   "identical after normalisation",
			target: "  Yogaḥ Karmasu Kauśalam ",
			spoken: "yogaḥ karmasu kauśalam",
			want:   pronounce.Evaluation{Score: 100, Differences: []align.Span{}},
		},
		{
			name:   "nothing recognised",
			target: "abc",
			spoken: "",
			want:   pronounce.Evaluation{Score: 0, Differences: []align.Span{{Start: 0, End: 3}}},
		},
		{
			name:   "both empty",
			target: "",
			spoken: "   ",
			want:   pronounce.Evaluation{Score: 0, Differences: []align.Span{}},
		},
		{
			name:   "extra words only",
			target: "yoga",
			spoken: "yoga yoga",
			want:   pronounce.Evaluation{Score: 61.54, Differences: []align.Span{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := e.Evaluate(context.Background(), pronounce.Request{TargetText: tt.target, RecognizedText: tt.spoken})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Evaluate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluate_Ops(t *testing.T) {
	t.Parallel()

	e, _ := newEvaluator(t)
	got, err := e.Evaluate(context.Background(), pronounce.Request{
		TargetText:     "karma yoga",
		RecognizedText: "karma yog",
		Detail:         pronounce.DetailOps,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []pronounce.Op{
		{Opcode: align.Opcode{Tag: align.Equal, I1: 0, I2: 9, J1: 0, J2: 9}, Expected: "karma yog", Actual: "karma yog"},
		{Opcode: align.Opcode{Tag: align.Delete, I1: 9, I2: 10, J1: 9, J2: 9}, Expected: "a", Actual: ""},
	}
	if diff := cmp.Diff(want, got.Ops); diff != "" {
		t.Errorf("Ops mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_OffsetsAreCharacters(t *testing.T) {
	t.Parallel()

	e, _ := newEvaluator(t)
	// "ā" is two bytes; the substitution must still be reported at rune 1.
	got, err := e.Evaluate(context.Background(), pronounce.Request{
		TargetText:     "mā te",
		RecognizedText: "ma te",
		Detail:         pronounce.DetailOps,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if diff := cmp.Diff([]align.Span{{Start: 1, End: 2}}, got.Differences); diff != "" {
		t.Errorf("Differences mismatch (-want +got):\n%s", diff)
	}
	if got.Ops[1].Expected != "ā" || got.Ops[1].Actual != "a" {
		t.Errorf("replace op = %+v", got.Ops[1])
	}
}

func TestEvaluate_ComposesDecomposedInput(t *testing.T) {
	t.Parallel()

	e, _ := newEvaluator(t)
	got, err := e.Evaluate(context.Background(), pronounce.Request{
		TargetText:     "k\u1e5b\u1e63\u1e47a",
		RecognizedText: "kr\u0323s\u0323n\u0323a",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Score != 100 {
		t.Errorf("Score = %v, want 100 for canonically equivalent input", got.Score)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	t.Parallel()

	e, _ := newEvaluator(t, pronounce.WithMaxRunes(5))

	if _, err := e.Evaluate(context.Background(), pronounce.Request{Detail: "full"}); !errors.Is(err, pronounce.ErrInvalidDetail) {
		t.Errorf("err = %v, want ErrInvalidDetail", err)
	}
	_, err := e.Evaluate(context.Background(), pronounce.Request{TargetText: "abcdef", RecognizedText: "abc"})
	if !errors.Is(err, pronounce.ErrTextTooLong) {
		t.Fatalf("err = %v, want ErrTextTooLong", err)
	}
	if !strings.Contains(err.Error(), "target_text") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	t.Parallel()

	e, reader := newEvaluator(t)
	for _, d := range []pronounce.Detail{pronounce.DetailSpans, pronounce.DetailOps, ""} {
		if _, err := e.Evaluate(context.Background(), pronounce.Request{TargetText: "a", RecognizedText: "a", Detail: d}); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	var histCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "gitapractice.evaluations":
				for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
					v, _ := dp.Attributes.Value("detail")
					counts[v.AsString()] += dp.Value
				}
			case "gitapractice.evaluate.score":
				for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
					histCount += dp.Count
				}
			}
		}
	}
	if diff := cmp.Diff(map[string]int64{"spans": 2, "ops": 1}, counts); diff != "" {
		t.Errorf("evaluations by detail mismatch (-want +got):\n%s", diff)
	}
	if histCount != 3 {
		t.Errorf("score histogram count = %d, want 3", histCount)
	}
}

func TestParseDetail(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]pronounce.Detail{"": pronounce.DetailSpans, "OPS": pronounce.DetailOps, " spans ": pronounce.DetailSpans} {
		got, err := pronounce.ParseDetail(in)
		if err != nil || got != want {
			t.Errorf("ParseDetail(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
