package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/index"
	"github.com/raaihank/log-sentinel/internal/source"
	"github.com/raaihank/log-sentinel/internal/tokenizer"
)

// Engine trains models and scores targets against them
type Engine struct {
	opts      Options
	settings  string
	tokenizer *tokenizer.Tokenizer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewEngine validates opts and creates an engine
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Index.Dimensions == 0 {
		opts.Index = index.DefaultParams()
	}
	opts.Tokenizer = opts.Tokenizer.Effective()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	tok, err := tokenizer.New(opts.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Engine{
		opts:      opts,
		settings:  settingsDigest(opts),
		tokenizer: tok,
		logger:    logger,
		tracer:    otel.Tracer("github.com/raaihank/log-sentinel/internal/model"),
	}, nil
}

// Options returns the effective options
func (e *Engine) Options() Options {
	return e.opts
}

// Key returns the cache key of the model this engine trains from a baseline
// with fingerprint fp. Engines with other tokenizer or index settings derive
// other keys from the same fingerprint.
func (e *Engine) Key(fp string) string {
	return fp + "-" + e.settings
}

// settingsDigest hashes the options that change what a model contains
func settingsDigest(opts Options) string {
	h := xxhash.New()
	fmt.Fprintf(h, "%d|%d|%d|%d|%s",
		opts.Index.Dimensions, opts.Index.Seed,
		opts.Tokenizer.MaxTokens, opts.Tokenizer.MaxLineBytes,
		strings.Join(opts.Tokenizer.Maskers, ","))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Train builds one index per baseline source. Sources are trained in
// parallel; a source whose training fails is recorded in the model and
// does not affect the others. Train fails only when there is no baseline
// at all or ctx is done.
func (e *Engine) Train(ctx context.Context, baseline []source.RawLine) (*Model, error) {
	ctx, span := e.tracer.Start(ctx, "model.Train")
	defer span.End()

	if len(baseline) == 0 {
		return nil, ErrEmptyBaseline
	}

	start := time.Now()
	ids, groups := source.Group(baseline)
	span.SetAttributes(attribute.Int("sources", len(ids)), attribute.Int("lines", len(baseline)))

	m := &Model{
		fingerprint: ComputeFingerprint(baseline),
		params:      e.opts.Index,
		tokenizer:   e.opts.Tokenizer,
		indexes:     make(map[source.ID]*index.Index, len(ids)),
		failures:    make(map[source.ID]string),
	}

	var (
		mu   sync.Mutex
		errs error
	)
	p := pool.New().WithMaxGoroutines(e.opts.Workers)
	for _, id := range ids {
		id, lines := id, groups[id]
		p.Go(func() {
			idx, err := e.trainSource(ctx, id, lines)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.failures[id] = err.Error()
				errs = multierr.Append(errs, err)
				return
			}
			m.indexes[id] = idx
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs != nil {
		e.logger.Warn("Some sources failed to train",
			zap.Int("failed", len(m.failures)),
			zap.Error(errs),
		)
	}

	m.createdAt = time.Now()
	e.logger.Info("Model trained",
		zap.String("fingerprint", m.fingerprint),
		zap.Int("sources", len(m.indexes)),
		zap.Int("lines", len(baseline)),
		zap.Duration("duration", time.Since(start)),
	)
	return m, nil
}

func (e *Engine) trainSource(ctx context.Context, id source.ID, lines []source.RawLine) (idx *index.Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("training %s panicked: %v", id, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := make([][]tokenizer.Token, len(lines))
	for i, l := range lines {
		tokens[i] = e.tokenizer.Tokenize(l.Text)
	}
	idx = index.Build(tokens, e.opts.Index)

	e.logger.Debug("Source trained",
		zap.String("source", string(id)),
		zap.Int("lines", len(lines)),
		zap.Int("rows", idx.Len()),
	)
	return idx, nil
}
