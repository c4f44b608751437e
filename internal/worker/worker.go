package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/cache"
	"github.com/raaihank/log-sentinel/internal/content"
	"github.com/raaihank/log-sentinel/internal/metrics"
	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/report"
	"github.com/raaihank/log-sentinel/internal/reportdb"
	"github.com/raaihank/log-sentinel/internal/source"
)

const (
	// DefaultWorkers bounds the number of reports computed at once
	DefaultWorkers = 2
	// DefaultQueueSize bounds the number of reports waiting for a worker
	DefaultQueueSize = 64
)

var (
	// ErrExists is returned when a finished report id is submitted again
	ErrExists = errors.New("report already exists")
	// ErrQueueFull is returned when no worker can accept the report
	ErrQueueFull = errors.New("report queue is full")
	// ErrStopped is returned after the workers were stopped
	ErrStopped = errors.New("workers stopped")
	// ErrInvalidRequest is returned when baseline or target is missing
	ErrInvalidRequest = errors.New("baseline and target are required")
)

// Config contains report worker configuration
type Config struct {
	Workers    int           `yaml:"workers" mapstructure:"workers"`
	QueueSize  int           `yaml:"queue_size" mapstructure:"queue_size"`
	ReportsDir string        `yaml:"reports_dir" mapstructure:"reports_dir"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Registry persists report records
type Registry interface {
	Create(ctx context.Context, rec *reportdb.Record) error
	Update(ctx context.Context, rec *reportdb.Record) error
	Get(ctx context.Context, id string) (*reportdb.Record, error)
}

// Request asks for the comparison of a target against a baseline. An empty
// ID is replaced by a random one.
type Request struct {
	ID       string `json:"id,omitempty"`
	Baseline string `json:"baseline"`
	Target   string `json:"target"`
}

type job struct {
	record  *reportdb.Record
	monitor *Monitor
}

// Workers computes reports on a bounded pool. A report id is processed at
// most once; resubmitting a running id attaches to its monitor.
type Workers struct {
	config   Config
	engine   *model.Engine
	cache    *cache.Cache
	reader   *content.Reader
	registry Registry
	fs       afero.Fs
	hub      Broadcaster
	logger   *zap.Logger
	tracer   trace.Tracer

	mu      sync.RWMutex
	running map[string]*Monitor
	queue   chan job
	stopped bool
	wg      conc.WaitGroup
}

// New creates the workers. Start must be called before reports progress.
func New(config Config, engine *model.Engine, c *cache.Cache, reader *content.Reader,
	registry Registry, fs afero.Fs, hub Broadcaster, logger *zap.Logger) *Workers {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	return &Workers{
		config:   config,
		engine:   engine,
		cache:    c,
		reader:   reader,
		registry: registry,
		fs:       fs,
		hub:      hub,
		logger:   logger,
		tracer:   otel.Tracer("github.com/raaihank/log-sentinel/internal/worker"),
		running:  make(map[string]*Monitor),
		queue:    make(chan job, config.QueueSize),
	}
}

// Start launches the pool. Workers exit when ctx ends.
func (w *Workers) Start(ctx context.Context) {
	w.logger.Info("Starting report workers",
		zap.Int("workers", w.config.Workers),
		zap.Int("queue_size", w.config.QueueSize),
	)
	for i := 0; i < w.config.Workers; i++ {
		w.wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-w.queue:
					w.process(ctx, j)
				}
			}
		})
	}
}

// Stop rejects new reports and waits for the pool to exit. The ctx given to
// Start must be done for Stop to return.
func (w *Workers) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.wg.Wait()
}

// Submit registers a report and queues it. It returns the monitor of the
// report, which is the existing one when the id is already running.
func (w *Workers) Submit(ctx context.Context, req Request) (*Monitor, error) {
	if req.Baseline == "" || req.Target == "" {
		return nil, ErrInvalidRequest
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil, ErrStopped
	}
	if m, ok := w.running[req.ID]; ok {
		w.logger.Debug("Report already submitted", zap.String("report_id", req.ID))
		return m, nil
	}
	if _, err := w.registry.Get(ctx, req.ID); err == nil {
		return nil, ErrExists
	} else if !errors.Is(err, reportdb.ErrNotFound) {
		return nil, err
	}

	rec := &reportdb.Record{ID: req.ID, Baseline: req.Baseline, Target: req.Target, Status: reportdb.StatusPending}
	if err := w.registry.Create(ctx, rec); err != nil {
		return nil, err
	}

	m := newMonitor(req.ID, w.hub)
	m.status(string(reportdb.StatusPending), 0, "")

	select {
	case w.queue <- job{record: rec, monitor: m}:
	default:
		rec.Status, rec.Error = reportdb.StatusFailed, ErrQueueFull.Error()
		if err := w.registry.Update(ctx, rec); err != nil {
			w.logger.Warn("Failed to record rejected report", zap.String("report_id", rec.ID), zap.Error(err))
		}
		return nil, ErrQueueFull
	}

	// process removes the entry under w.mu, so it cannot run before this insert
	w.running[req.ID] = m
	w.logger.Info("Report submitted",
		zap.String("report_id", req.ID),
		zap.String("baseline", req.Baseline),
		zap.String("target", req.Target),
	)
	return m, nil
}

// Subscribe returns the monitor of a running report
func (w *Workers) Subscribe(id string) (*Monitor, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	m, ok := w.running[id]
	return m, ok
}

// Running returns the number of reports pending or in progress
func (w *Workers) Running() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.running)
}

// ReportPath returns where the report of id is stored
func (w *Workers) ReportPath(id string) string {
	return filepath.Join(w.config.ReportsDir, id+".json.gz")
}

// LoadReport reads a completed report
func (w *Workers) LoadReport(id string) (*model.Report, error) {
	return report.ReadJSON(w.fs, w.ReportPath(id))
}

// process runs one report to a final status. Panics become report errors.
func (w *Workers) process(ctx context.Context, j job) {
	rec, m := j.record, j.monitor
	logger := w.logger.With(zap.String("report_id", rec.ID))

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	ctx, span := w.tracer.Start(ctx, "worker.process", trace.WithAttributes(attribute.String("report_id", rec.ID)))
	defer span.End()
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	rec.Status = reportdb.StatusRunning
	if err := w.registry.Update(ctx, rec); err != nil {
		logger.Warn("Failed to mark report running", zap.Error(err))
	}
	m.status(string(rec.Status), 0, "")

	start := time.Now()
	r, err := w.run(ctx, rec, m)
	if err == nil {
		rec.Fingerprint = r.Fingerprint
		rec.Anomalies = r.Summary.Anomalies
		if err = report.WriteJSON(w.fs, w.ReportPath(rec.ID), r); err != nil {
			err = fmt.Errorf("saving failed: %w", err)
		}
	}

	if err != nil {
		rec.Status, rec.Error = reportdb.StatusFailed, err.Error()
		logger.Warn("Report failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		span.RecordError(err)
	} else {
		rec.Status = reportdb.StatusCompleted
		metrics.LinesScored.Add(float64(r.Summary.Scored))
		metrics.Anomalies.Add(float64(r.Summary.Anomalies))
		logger.Info("Report completed",
			zap.String("summary", report.Summarize(r)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	metrics.Reports.WithLabelValues(string(rec.Status)).Inc()

	// the final status is recorded even when ctx expired
	if uerr := w.registry.Update(context.WithoutCancel(ctx), rec); uerr != nil {
		logger.Error("Failed to record report status", zap.Error(uerr))
	}

	w.mu.Lock()
	delete(w.running, rec.ID)
	w.mu.Unlock()

	m.status(string(rec.Status), rec.Anomalies, rec.Error)
	close(m.done)
}

func (w *Workers) run(ctx context.Context, rec *reportdb.Record, m *Monitor) (r *model.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("crashed: %v", p)
		}
	}()

	m.progress("start", fmt.Sprintf("Running diff %s %s", rec.Baseline, rec.Target), 0, 0)

	target, err := w.read(ctx, rec.Target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	m.progress("target", fmt.Sprintf("Content resolved: %s", rec.Target), countSources(target), len(target))

	baseline, err := w.read(ctx, rec.Baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	m.progress("baseline", fmt.Sprintf("Baseline found: %s", rec.Baseline), countSources(baseline), len(baseline))

	key := w.engine.Key(model.ComputeFingerprint(baseline))
	trained, err := w.cache.GetOrBuild(ctx, key, func(ctx context.Context) (*model.Model, error) {
		m.progress("train", "Training model", countSources(baseline), len(baseline))
		return w.engine.Train(ctx, baseline)
	})
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	m.progress("score", "Starting analysis", countSources(target), len(target))
	r, err = w.engine.Score(ctx, trained, target)
	if err != nil {
		return nil, fmt.Errorf("report failed: %w", err)
	}
	return r, nil
}

func (w *Workers) read(ctx context.Context, root string) ([]source.RawLine, error) {
	lines, _, err := w.reader.Read(ctx, root)
	return lines, err
}

func countSources(lines []source.RawLine) int {
	seen := make(map[source.ID]struct{})
	for _, l := range lines {
		seen[l.Source] = struct{}{}
	}
	return len(seen)
}
