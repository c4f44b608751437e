package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// scored builds n lines with the given positions flagged with score 0.9;
// unflagged lines carry a non-zero score that context padding must clear
func scored(n int, anomalous ...int) []ScoredLine {
	out := make([]ScoredLine, n)
	for i := range out {
		out[i] = ScoredLine{Pos: i + 1, Score: 0.1}
	}
	for _, pos := range anomalous {
		out[pos-1].Score = 0.9
		out[pos-1].Anomalous = true
	}
	return out
}

func bounds(chunks []Chunk) [][2]int {
	out := make([][2]int, len(chunks))
	for i, c := range chunks {
		out[i] = [2]int{c.Start, c.End}
	}
	return out
}

func TestBuildChunks(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		anomalous []int
		context   int
		want      [][2]int
	}{
		{"no anomaly", 10, nil, 3, [][2]int{}},
		{"single in the middle", 20, []int{10}, 3, [][2]int{{7, 13}}},
		{"clamped at start", 20, []int{1}, 3, [][2]int{{1, 4}}},
		{"clamped at end", 20, []int{20}, 3, [][2]int{{17, 20}}},
		{"overlapping windows merge", 20, []int{5, 9}, 3, [][2]int{{2, 12}}},
		{"adjacent windows merge", 20, []int{5, 12}, 3, [][2]int{{2, 15}}},
		{"separate windows", 20, []int{5, 13}, 3, [][2]int{{2, 8}, {10, 16}}},
		{"zero context", 5, []int{2, 3, 5}, 0, [][2]int{{2, 3}, {5, 5}}},
		{"negative context treated as zero", 5, []int{2}, -2, [][2]int{{2, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := BuildChunks("s", scored(tt.n, tt.anomalous...), tt.context)
			if diff := cmp.Diff(tt.want, bounds(chunks)); diff != "" {
				t.Errorf("bounds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildChunksScores(t *testing.T) {
	lines := scored(10, 4, 6)
	lines[5].Score = 0.7

	chunks := BuildChunks("s", lines, 1)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Source != "s" || c.MaxScore != 0.9 {
		t.Errorf("unexpected chunk header %+v", c)
	}

	got := make([]float32, len(c.Lines))
	for i, l := range c.Lines {
		got[i] = l.Score
	}
	if diff := cmp.Diff([]float32{0, 0.9, 0, 0.7, 0}, got); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	if lines[2].Score != 0.1 {
		t.Error("input lines must not be modified")
	}
}
