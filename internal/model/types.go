package model

import (
	"fmt"
	"time"

	"github.com/raaihank/log-sentinel/internal/index"
	"github.com/raaihank/log-sentinel/internal/source"
	"github.com/raaihank/log-sentinel/internal/tokenizer"
)

const (
	// DefaultThreshold is the score a line must exceed to be anomalous
	DefaultThreshold float32 = 0.3
	// DefaultContext is the number of lines kept around each anomaly
	DefaultContext = 3
	// DefaultChunkSize is the number of lines scored per work unit
	DefaultChunkSize = 512
	// DefaultWorkers bounds the CPU bound goroutines of one train or score pass
	DefaultWorkers = 4
)

// Options tunes training and scoring
type Options struct {
	Threshold        float32
	SourceThresholds map[source.ID]float32
	Context          int
	ChunkSize        int
	Workers          int
	// UnscoredAsAnomalous flags every line of a source missing from the
	// baseline instead of reporting it as a plain coverage gap
	UnscoredAsAnomalous bool
	// DedupTarget flags only the first occurrence of identical anomalous lines
	DedupTarget bool
	Index       index.Params
	Tokenizer   tokenizer.Options
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		Threshold: DefaultThreshold,
		Context:   DefaultContext,
		ChunkSize: DefaultChunkSize,
		Workers:   DefaultWorkers,
		Index:     index.DefaultParams(),
		Tokenizer: tokenizer.DefaultOptions(),
	}
}

func (o Options) validate() error {
	if o.Threshold < 0 || o.Threshold >= 1 {
		return fmt.Errorf("%w: threshold %v must be in [0,1)", ErrInvalidConfig, o.Threshold)
	}
	for id, th := range o.SourceThresholds {
		if th < 0 || th >= 1 {
			return fmt.Errorf("%w: threshold %v for %s must be in [0,1)", ErrInvalidConfig, th, id)
		}
	}
	if o.Context < 0 {
		return fmt.Errorf("%w: context %d must not be negative", ErrInvalidConfig, o.Context)
	}
	if err := o.Index.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// threshold returns the anomaly threshold of one source
func (o Options) threshold(id source.ID) float32 {
	if th, ok := o.SourceThresholds[id]; ok {
		return th
	}
	return o.Threshold
}

// Model is the trained, immutable set of per-source indexes of one baseline.
// It is shared by reference between the cache and every caller.
type Model struct {
	fingerprint string
	params      index.Params
	tokenizer   tokenizer.Options
	indexes     map[source.ID]*index.Index
	failures    map[source.ID]string
	createdAt   time.Time
}

// Fingerprint returns the baseline fingerprint the model was trained from
func (m *Model) Fingerprint() string {
	return m.fingerprint
}

// Params returns the feature space shared by all indexes
func (m *Model) Params() index.Params {
	return m.params
}

// Tokenizer returns the tokenizer options the model was trained with. Target
// lines must be tokenized the same way to be scored against it.
func (m *Model) Tokenizer() tokenizer.Options {
	return m.tokenizer
}

// CreatedAt returns the training time
func (m *Model) CreatedAt() time.Time {
	return m.createdAt
}

// Sources returns the trained sources in stable order
func (m *Model) Sources() []source.ID {
	return source.SortedIDs(m.indexes)
}

// Index returns the index of one source
func (m *Model) Index(id source.ID) (*index.Index, bool) {
	idx, ok := m.indexes[id]
	return idx, ok
}

// Failure returns the training failure recorded for a source, if any
func (m *Model) Failure(id source.ID) (string, bool) {
	msg, ok := m.failures[id]
	return msg, ok
}

// Stats summarizes the model size
func (m *Model) Stats() ModelStats {
	stats := ModelStats{Sources: len(m.indexes), Failed: len(m.failures)}
	for _, idx := range m.indexes {
		s := idx.Stats()
		stats.Lines += s.Lines
		stats.Rows += s.Rows
		for _, row := range idx.Snapshot().Rows {
			stats.Bytes += uint64(len(row.Dims)) * 8
		}
	}
	return stats
}

// ModelStats describes a trained model
type ModelStats struct {
	Sources int    `json:"sources"`
	Failed  int    `json:"failed"`
	Lines   int    `json:"lines"`
	Rows    int    `json:"rows"`
	Bytes   uint64 `json:"bytes"`
}

// SourceStatus tells how the lines of a target source were handled
type SourceStatus string

const (
	// StatusScored means the source was scored against its baseline index
	StatusScored SourceStatus = "scored"
	// StatusCoverageGap means the baseline has no index for the source
	StatusCoverageGap SourceStatus = "coverage_gap"
	// StatusEmptyBaseline means the baseline lines were all empty, so every
	// non-empty target line scores 1
	StatusEmptyBaseline SourceStatus = "empty_baseline"
	// StatusFailed means training or scoring of this source failed
	StatusFailed SourceStatus = "failed"
)

// ScoredLine is one target line with its novelty score
type ScoredLine struct {
	Pos       int     `json:"pos"`
	Offset    int64   `json:"offset"`
	Text      string  `json:"text"`
	Score     float32 `json:"score"`
	Anomalous bool    `json:"anomalous"`
}

// Chunk is a contiguous, context padded run of lines of one source holding
// at least one anomalous line
type Chunk struct {
	Source   source.ID    `json:"source"`
	Start    int          `json:"start"`
	End      int          `json:"end"`
	MaxScore float32      `json:"max_score"`
	Lines    []ScoredLine `json:"lines"`
}

// SourceReport is the result for one target source
type SourceReport struct {
	Source    source.ID    `json:"source"`
	Status    SourceStatus `json:"status"`
	Threshold float32      `json:"threshold"`
	Lines     int          `json:"lines"`
	Scored    int          `json:"scored"`
	Anomalies int          `json:"anomalies"`
	MaxScore  float32      `json:"max_score"`
	Chunks    []Chunk      `json:"chunks,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Summary aggregates a report
type Summary struct {
	Sources        int     `json:"sources"`
	Lines          int     `json:"lines"`
	Scored         int     `json:"scored"`
	Anomalies      int     `json:"anomalies"`
	Chunks         int     `json:"chunks"`
	CoverageGaps   int     `json:"coverage_gaps"`
	EmptyBaselines int     `json:"empty_baselines"`
	Failed         int     `json:"failed"`
	MaxScore       float32 `json:"max_score"`
}

// Report is the outcome of scoring one target against one model. Sources
// are ordered by ID.
type Report struct {
	Fingerprint string         `json:"fingerprint"`
	Threshold   float32        `json:"threshold"`
	Context     int            `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
	Duration    time.Duration  `json:"duration"`
	Sources     []SourceReport `json:"sources"`
	Summary     Summary        `json:"summary"`
}

// Chunks returns every chunk of the report in source then line order
func (r *Report) Chunks() []Chunk {
	var out []Chunk
	for _, s := range r.Sources {
		out = append(out, s.Chunks...)
	}
	return out
}
