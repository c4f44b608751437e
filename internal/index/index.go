package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/raaihank/log-sentinel/internal/tokenizer"
)

// Index is an immutable set of trained vectors for one log source. Queries
// only visit rows sharing at least one feature with the query through an
// inverted posting list, so lookup cost follows feature overlap rather than
// the raw baseline size. An Index is safe for concurrent use.
type Index struct {
	params   Params
	lines    int
	rows     []Vector
	postings map[uint32][]posting
	pool     sync.Pool
}

// Build trains an index from the token sequences of baseline lines.
// Empty sequences are skipped and exact repeats collapse into one row.
func Build(lines [][]tokenizer.Token, p Params) *Index {
	rows := make([]Vector, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	trained := 0
	for _, tokens := range lines {
		v := Vectorize(tokens, p)
		if v.IsZero() {
			continue
		}
		trained++
		key := vectorKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, v)
	}
	return newIndex(p, trained, rows)
}

// FromSnapshot restores an index. The result answers every query exactly
// like the index the snapshot was taken from.
func FromSnapshot(s Snapshot) (*Index, error) {
	if err := s.Params.Validate(); err != nil {
		return nil, err
	}
	for i, row := range s.Rows {
		if len(row.Dims) != len(row.Weights) {
			return nil, fmt.Errorf("%w: row %d has %d dims and %d weights", ErrInvalidSnapshot, i, len(row.Dims), len(row.Weights))
		}
		for j, d := range row.Dims {
			if d >= s.Params.Dimensions || (j > 0 && d <= row.Dims[j-1]) {
				return nil, fmt.Errorf("%w: row %d has invalid dimension %d", ErrInvalidSnapshot, i, d)
			}
		}
	}
	return newIndex(s.Params, s.Lines, s.Rows), nil
}

func newIndex(p Params, lines int, rows []Vector) *Index {
	idx := &Index{
		params:   p,
		lines:    lines,
		rows:     rows,
		postings: make(map[uint32][]posting),
	}
	for r, row := range rows {
		for i, d := range row.Dims {
			idx.postings[d] = append(idx.postings[d], posting{row: int32(r), weight: row.Weights[i]})
		}
	}
	idx.pool = sync.Pool{
		New: func() interface{} {
			return &scratch{
				acc:     make([]float64, len(rows)),
				touched: make([]int32, 0, 64),
			}
		},
	}
	return idx
}

// Snapshot returns the serializable form of the index. The returned rows
// share memory with the index and must not be modified.
func (idx *Index) Snapshot() Snapshot {
	return Snapshot{Params: idx.params, Lines: idx.lines, Rows: idx.rows}
}

// Params returns the feature space the index was built with
func (idx *Index) Params() Params {
	return idx.params
}

// Empty reports whether the index has no trained rows. Every query
// against an empty index scores 1.
func (idx *Index) Empty() bool {
	return len(idx.rows) == 0
}

// Len returns the number of distinct trained rows
func (idx *Index) Len() int {
	return len(idx.rows)
}

// Stats returns size information about the index
func (idx *Index) Stats() Stats {
	return Stats{Lines: idx.lines, Rows: len(idx.rows), Features: len(idx.postings)}
}

// Distance returns the novelty score of a token sequence in [0,1]:
// one minus the best cosine similarity to any trained row. A sequence
// identical to a trained line scores 0 and an empty sequence scores 0.
func (idx *Index) Distance(tokens []tokenizer.Token) float32 {
	return idx.VectorDistance(Vectorize(tokens, idx.params))
}

// VectorDistance is Distance for an already vectorized query
func (idx *Index) VectorDistance(q Vector) float32 {
	if q.IsZero() {
		return 0
	}
	if idx.Empty() {
		return 1
	}

	s := idx.pool.Get().(*scratch)
	for i, d := range q.Dims {
		qw := float64(q.Weights[i])
		for _, p := range idx.postings[d] {
			if s.acc[p.row] == 0 {
				s.touched = append(s.touched, p.row)
			}
			s.acc[p.row] += qw * float64(p.weight)
		}
	}

	best := 0.0
	for _, r := range s.touched {
		if s.acc[r] > best {
			best = s.acc[r]
		}
		s.acc[r] = 0
	}
	s.touched = s.touched[:0]
	idx.pool.Put(s)

	return clampDistance(1 - best)
}

// Distances scores a batch of token sequences
func (idx *Index) Distances(lines [][]tokenizer.Token) []float32 {
	out := make([]float32, len(lines))
	for i, tokens := range lines {
		out[i] = idx.Distance(tokens)
	}
	return out
}

func clampDistance(d float64) float32 {
	switch {
	case d < exactEpsilon:
		return 0
	case d > 1:
		return 1
	}
	return float32(d)
}

// vectorKey encodes a vector exactly for duplicate detection
func vectorKey(v Vector) string {
	var b strings.Builder
	b.Grow(8 * len(v.Dims))
	var buf [8]byte
	for i, d := range v.Dims {
		binary.LittleEndian.PutUint32(buf[:4], d)
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v.Weights[i]))
		b.Write(buf[:])
	}
	return b.String()
}
