package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/source"
)

func newEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewEngine(opts, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func lines(id source.ID, texts ...string) []source.RawLine {
	out := make([]source.RawLine, len(texts))
	for i, text := range texts {
		out[i] = source.RawLine{Source: id, Pos: i + 1, Text: text}
	}
	return out
}

func TestScenarioMaskedPortIsNotAnomalous(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	m, err := e.Train(ctx, lines("app.log",
		"service started on port 8080",
		"service started on port 8080",
		"service started on port 8080",
	))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	report, err := e.Score(ctx, m, lines("app.log", "service started on port 9090"))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	src := report.Sources[0]
	if src.Status != StatusScored {
		t.Fatalf("expected scored status, got %s", src.Status)
	}
	if src.MaxScore > 1e-6 {
		t.Errorf("expected score ~0, got %f", src.MaxScore)
	}
	if src.Anomalies != 0 || len(src.Chunks) != 0 {
		t.Errorf("expected no anomaly, got %d anomalies %d chunks", src.Anomalies, len(src.Chunks))
	}
}

func TestScenarioNovelLineWithContext(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	baseline := lines("app.log",
		"starting worker pool",
		"loading configuration from disk",
		"connected to database",
		"processing batch 1",
		"processing batch 2",
		"batch complete",
		"shutting down",
	)
	m, err := e.Train(ctx, baseline)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	target := lines("app.log",
		"starting worker pool",
		"loading configuration from disk",
		"connected to database",
		"processing batch 7",
		"panic: nil pointer dereference",
		"processing batch 8",
		"batch complete",
		"shutting down",
		"starting worker pool",
		"starting worker pool",
	)
	report, err := e.Score(ctx, m, target)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	chunks := report.Chunks()
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d: %+v", len(chunks), chunks)
	}
	chunk := chunks[0]
	if chunk.Start != 2 || chunk.End != 8 {
		t.Errorf("expected chunk [2,8], got [%d,%d]", chunk.Start, chunk.End)
	}

	var flagged []string
	for _, l := range chunk.Lines {
		if l.Anomalous {
			flagged = append(flagged, l.Text)
			continue
		}
		if l.Score != 0 {
			t.Errorf("context line %q kept score %f", l.Text, l.Score)
		}
	}
	if diff := cmp.Diff([]string{"panic: nil pointer dereference"}, flagged); diff != "" {
		t.Errorf("flagged lines mismatch:\n%s", diff)
	}
	if chunk.MaxScore <= DefaultThreshold {
		t.Errorf("chunk max score %f not above threshold", chunk.MaxScore)
	}
	if report.Summary.Anomalies != 1 || report.Summary.Chunks != 1 {
		t.Errorf("unexpected summary %+v", report.Summary)
	}
}

func TestCoverageGap(t *testing.T) {
	ctx := context.Background()
	target := append(lines("new.log", "totally unknown line", "", "another one"),
		lines("app.log", "hello world")...)

	t.Run("reported as gap", func(t *testing.T) {
		e := newEngine(t, nil)
		m, err := e.Train(ctx, lines("app.log", "hello world"))
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		report, err := e.Score(ctx, m, target)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}

		ids := []source.ID{report.Sources[0].Source, report.Sources[1].Source}
		if diff := cmp.Diff([]source.ID{"app.log", "new.log"}, ids); diff != "" {
			t.Fatalf("source order mismatch:\n%s", diff)
		}
		gap := report.Sources[1]
		if gap.Status != StatusCoverageGap {
			t.Errorf("expected coverage gap, got %s", gap.Status)
		}
		if gap.Lines != 3 || gap.Scored != 0 || gap.Anomalies != 0 || gap.MaxScore != 0 || len(gap.Chunks) != 0 {
			t.Errorf("gap must not carry scores: %+v", gap)
		}
		if report.Summary.CoverageGaps != 1 || report.Summary.Anomalies != 0 {
			t.Errorf("unexpected summary %+v", report.Summary)
		}
	})

	t.Run("optionally anomalous", func(t *testing.T) {
		e := newEngine(t, func(o *Options) { o.UnscoredAsAnomalous = true })
		m, err := e.Train(ctx, lines("app.log", "hello world"))
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		report, err := e.Score(ctx, m, target)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		gap := report.Sources[1]
		if gap.Status != StatusCoverageGap || gap.Anomalies != 2 || gap.Scored != 2 {
			t.Errorf("unexpected gap result %+v", gap)
		}
	})
}

func TestEmptyBaselineSource(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	m, err := e.Train(ctx, lines("empty.log", "", "   "))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	report, err := e.Score(ctx, m, lines("empty.log", "anything", "", "else"))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	src := report.Sources[0]
	if src.Status != StatusEmptyBaseline {
		t.Fatalf("expected empty baseline status, got %s", src.Status)
	}
	if src.Anomalies != 2 || src.MaxScore != 1 {
		t.Errorf("expected every non-empty line anomalous, got %+v", src)
	}
	if report.Summary.EmptyBaselines != 1 {
		t.Errorf("expected summary to surface the empty baseline, got %+v", report.Summary)
	}
}

func TestTrainEmpty(t *testing.T) {
	e := newEngine(t, nil)
	if _, err := e.Train(context.Background(), nil); !errors.Is(err, ErrEmptyBaseline) {
		t.Errorf("expected ErrEmptyBaseline, got %v", err)
	}
}

func TestTrainCancelled(t *testing.T) {
	e := newEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Train(ctx, lines("a", "x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSourceThresholdOverride(t *testing.T) {
	ctx := context.Background()
	baseline := lines("app.log", "request served in %num ms", "cache miss for key")
	target := lines("app.log", "cache miss for key user")

	base := newEngine(t, nil)
	m, err := base.Train(ctx, baseline)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	r1, err := base.Score(ctx, m, target)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	score := r1.Sources[0].MaxScore
	if score <= 0 || score >= 0.99 {
		t.Fatalf("expected partial similarity, got %f", score)
	}

	lenient := newEngine(t, func(o *Options) {
		o.Threshold = score / 2
		o.SourceThresholds = map[source.ID]float32{"app.log": 0.99}
	})
	r2, err := lenient.Score(ctx, m, target)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if r2.Sources[0].Anomalies != 0 || r2.Sources[0].Threshold != 0.99 {
		t.Errorf("per-source threshold not applied: %+v", r2.Sources[0])
	}
}

func TestDedupTarget(t *testing.T) {
	ctx := context.Background()
	baseline := append(lines("a.log", "all good"), lines("b.log", "all good")...)
	target := append(
		lines("a.log", "disk failure on sda1", "disk failure on sda2"),
		lines("b.log", "disk failure on sda3")...,
	)

	for _, tt := range []struct {
		dedup bool
		want  int
	}{{false, 3}, {true, 1}} {
		t.Run(fmt.Sprintf("dedup=%v", tt.dedup), func(t *testing.T) {
			e := newEngine(t, func(o *Options) { o.DedupTarget = tt.dedup })
			m, err := e.Train(ctx, baseline)
			if err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			report, err := e.Score(ctx, m, target)
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			if report.Summary.Anomalies != tt.want {
				t.Errorf("expected %d anomalies, got %d", tt.want, report.Summary.Anomalies)
			}
		})
	}
}

func TestScoringAcrossChunks(t *testing.T) {
	e := newEngine(t, func(o *Options) { o.ChunkSize = 3; o.Workers = 3 })
	ctx := context.Background()

	var texts []string
	for i := 0; i < 20; i++ {
		texts = append(texts, fmt.Sprintf("heartbeat %d ok", i))
	}
	m, err := e.Train(ctx, lines("hb.log", texts...))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	texts[4] = "segfault in module loader"
	texts[15] = "segfault in module loader"
	report, err := e.Score(ctx, m, lines("hb.log", texts...))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	chunks := report.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Start != 2 || chunks[0].End != 8 || chunks[1].Start != 13 || chunks[1].End != 19 {
		t.Errorf("unexpected chunk bounds: [%d,%d] [%d,%d]", chunks[0].Start, chunks[0].End, chunks[1].Start, chunks[1].End)
	}
}

func TestReportDeterministic(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	baseline := append(lines("b.log", "alpha", "beta"), lines("a.log", "gamma", "delta")...)
	target := append(lines("a.log", "gamma", "epsilon zeta"), lines("b.log", "beta", "omega")...)

	m, err := e.Train(ctx, baseline)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	first, err := e.Score(ctx, m, target)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.Score(ctx, m, target)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if diff := cmp.Diff(first.Sources, again.Sources); diff != "" {
			t.Fatalf("run %d differs:\n%s", i, diff)
		}
	}
}

func TestInvalidOptions(t *testing.T) {
	tests := map[string]func(*Options){
		"threshold above range": func(o *Options) { o.Threshold = 1 },
		"negative threshold":    func(o *Options) { o.Threshold = -0.1 },
		"bad source threshold":  func(o *Options) { o.SourceThresholds = map[source.ID]float32{"x": 2} },
		"negative context":      func(o *Options) { o.Context = -1 },
		"unknown masker":        func(o *Options) { o.Tokenizer.Maskers = []string{"nope"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			mutate(&opts)
			if _, err := NewEngine(opts, zap.NewNop()); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestKeyTracksSettings(t *testing.T) {
	base := newEngine(t, nil)
	tests := []struct {
		name   string
		mutate func(*Options)
		same   bool
	}{
		{"threshold does not change the model", func(o *Options) { o.Threshold = 0.5 }, true},
		{"explicit defaults", func(o *Options) { o.Tokenizer.Maskers = nil; o.Tokenizer.MaxTokens = 0 }, true},
		{"maskers", func(o *Options) { o.Tokenizer.Maskers = []string{"uuid"} }, false},
		{"max tokens", func(o *Options) { o.Tokenizer.MaxTokens = 8 }, false},
		{"index seed", func(o *Options) { o.Index.Seed++ }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.mutate)
			if got := e.Key("fp") == base.Key("fp"); got != tt.same {
				t.Errorf("keys %s and %s: same = %v, want %v", e.Key("fp"), base.Key("fp"), got, tt.same)
			}
		})
	}
}

func TestScoreRejectsOtherTokenizer(t *testing.T) {
	ctx := context.Background()
	baseline := lines("app.log", "connected to 10.0.0.1")

	trainer := newEngine(t, func(o *Options) { o.Tokenizer.Maskers = []string{"uuid"} })
	m, err := trainer.Train(ctx, baseline)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if _, err := trainer.Score(ctx, m, baseline); err != nil {
		t.Fatalf("Score with the training engine failed: %v", err)
	}
	if _, err := newEngine(t, nil).Score(ctx, m, baseline); !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
}
