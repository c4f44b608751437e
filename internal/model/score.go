package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/index"
	"github.com/raaihank/log-sentinel/internal/source"
	"github.com/raaihank/log-sentinel/internal/tokenizer"
)

// sourceScores is the scoring state of one target source
type sourceScores struct {
	id     source.ID
	lines  []source.RawLine
	idx    *index.Index
	scores []float32
	keys   []string
	report SourceReport
}

// Score evaluates every target line against m. Lines of a source the model
// has no index for are reported as a coverage gap. The report orders
// sources by ID and chunks by line position, so identical inputs produce
// identical reports.
func (e *Engine) Score(ctx context.Context, m *Model, target []source.RawLine) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "model.Score")
	defer span.End()

	if !m.Tokenizer().Equal(e.opts.Tokenizer) {
		return nil, fmt.Errorf("%w: model %s was tokenized with %+v, engine uses %+v",
			ErrIncompatible, m.Fingerprint(), m.Tokenizer(), e.opts.Tokenizer)
	}

	start := time.Now()
	ids, groups := source.Group(target)
	span.SetAttributes(attribute.Int("sources", len(ids)), attribute.Int("lines", len(target)))

	states := make([]*sourceScores, len(ids))
	for i, id := range ids {
		st := &sourceScores{
			id:     id,
			lines:  groups[id],
			scores: make([]float32, len(groups[id])),
			keys:   make([]string, len(groups[id])),
			report: SourceReport{
				Source:    id,
				Threshold: e.opts.threshold(id),
				Lines:     len(groups[id]),
			},
		}
		states[i] = st

		if msg, failed := m.Failure(id); failed {
			st.report.Status = StatusFailed
			st.report.Error = msg
			continue
		}
		idx, ok := m.Index(id)
		switch {
		case !ok:
			st.report.Status = StatusCoverageGap
		case idx.Empty():
			st.report.Status = StatusEmptyBaseline
			st.idx = idx
		default:
			st.report.Status = StatusScored
			st.idx = idx
		}
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(e.opts.Workers)
	for _, st := range states {
		if st.report.Status == StatusFailed {
			continue
		}
		if st.report.Status == StatusCoverageGap && !e.opts.UnscoredAsAnomalous {
			continue
		}
		for lo := 0; lo < len(st.lines); lo += e.opts.ChunkSize {
			st, lo, hi := st, lo, min(lo+e.opts.ChunkSize, len(st.lines))
			p.Go(func() {
				if err := e.scoreRange(ctx, st, lo, hi); err != nil {
					mu.Lock()
					st.report.Status = StatusFailed
					st.report.Error = err.Error()
					mu.Unlock()
				}
			})
		}
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Fingerprint: m.Fingerprint(),
		Threshold:   e.opts.Threshold,
		Context:     e.opts.Context,
		CreatedAt:   time.Now(),
		Sources:     make([]SourceReport, 0, len(states)),
	}

	seen := make(map[string]struct{})
	for _, st := range states {
		report.Sources = append(report.Sources, e.finish(st, seen))
	}
	report.Summary = Summarize(report.Sources)
	report.Duration = time.Since(start)

	e.logger.Debug("Target scored",
		zap.String("fingerprint", report.Fingerprint),
		zap.Int("sources", report.Summary.Sources),
		zap.Int("anomalies", report.Summary.Anomalies),
		zap.Int("coverage_gaps", report.Summary.CoverageGaps),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// scoreRange scores lines [lo, hi) of one source. Ranges of one source are
// disjoint so writers never overlap.
func (e *Engine) scoreRange(ctx context.Context, st *sourceScores, lo, hi int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring %s panicked: %v", st.id, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	memo := make(map[string]float32)
	for i := lo; i < hi; i++ {
		tokens := e.tokenizer.Tokenize(st.lines[i].Text)
		key := tokenizer.Key(tokens)
		st.keys[i] = key

		if len(tokens) == 0 {
			continue
		}
		if st.idx == nil {
			// coverage gap scored as fully novel
			st.scores[i] = 1
			continue
		}
		score, ok := memo[key]
		if !ok {
			score = st.idx.Distance(tokens)
			memo[key] = score
		}
		st.scores[i] = score
	}
	return nil
}

// finish flags anomalies of one scored source and builds its chunks. seen
// carries the anomalous line keys of earlier sources for target dedup.
func (e *Engine) finish(st *sourceScores, seen map[string]struct{}) SourceReport {
	r := st.report
	scored := r.Status == StatusScored || r.Status == StatusEmptyBaseline ||
		(r.Status == StatusCoverageGap && e.opts.UnscoredAsAnomalous)
	if !scored {
		return r
	}

	lines := make([]ScoredLine, len(st.lines))
	for i, l := range st.lines {
		lines[i] = ScoredLine{Pos: l.Pos, Offset: l.Offset, Text: l.Text, Score: st.scores[i]}
		if st.keys[i] != "" {
			r.Scored++
		}
		if st.scores[i] > r.MaxScore {
			r.MaxScore = st.scores[i]
		}
		if st.scores[i] <= r.Threshold {
			continue
		}
		if e.opts.DedupTarget {
			if _, dup := seen[st.keys[i]]; dup {
				continue
			}
			seen[st.keys[i]] = struct{}{}
		}
		lines[i].Anomalous = true
		r.Anomalies++
	}

	r.Chunks = BuildChunks(st.id, lines, e.opts.Context)
	return r
}

// Summarize aggregates per-source results
func Summarize(sources []SourceReport) Summary {
	s := Summary{Sources: len(sources)}
	for _, src := range sources {
		s.Lines += src.Lines
		s.Scored += src.Scored
		s.Anomalies += src.Anomalies
		s.Chunks += len(src.Chunks)
		if src.MaxScore > s.MaxScore {
			s.MaxScore = src.MaxScore
		}
		switch src.Status {
		case StatusCoverageGap:
			s.CoverageGaps++
		case StatusEmptyBaseline:
			s.EmptyBaselines++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
