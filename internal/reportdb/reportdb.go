package reportdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a report id is unknown
var ErrNotFound = errors.New("report not found")

// Status is the lifecycle state of a report
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Done reports whether the status is final
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one row of the report registry
type Record struct {
	ID              string `db:"id" json:"id"`
	Baseline        string `db:"baseline" json:"baseline"`
	Target          string `db:"target" json:"target"`
	Status          Status `db:"status" json:"status"`
	Fingerprint     string `db:"fingerprint" json:"fingerprint,omitempty"`
	Anomalies       int    `db:"anomaly_count" json:"anomaly_count"`
	Error           string `db:"error" json:"error,omitempty"`
	CreatedAtUnixMs int64  `db:"created_at_unix_ms" json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `db:"updated_at_unix_ms" json:"updated_at_unix_ms"`
}

// Config contains registry database configuration
type Config struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// DB is the report registry
type DB struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id                 TEXT PRIMARY KEY,
	baseline           TEXT NOT NULL,
	target             TEXT NOT NULL,
	status             TEXT NOT NULL,
	fingerprint        TEXT NOT NULL DEFAULT '',
	anomaly_count      INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	created_at_unix_ms BIGINT NOT NULL,
	updated_at_unix_ms BIGINT NOT NULL
)`

const columns = `id, baseline, target, status, fingerprint, anomaly_count, error, created_at_unix_ms, updated_at_unix_ms`

// Open connects to the registry and creates its schema
func Open(config Config, logger *zap.Logger) (*DB, error) {
	switch config.Driver {
	case "sqlite":
		p := filepath.Clean(strings.TrimSpace(config.DSN))
		if p == "" || p == "." {
			return nil, errors.New("missing registry path")
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return nil, err
		}
		config.DSN = p
		// single process local database
		config.MaxOpenConns, config.MaxIdleConns = 1, 1
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported report database driver: %s", config.Driver)
	}

	db, err := sqlx.Connect(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to report database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	r := &DB{db: db, logger: logger}
	if err := r.initialize(config.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize report database: %w", err)
	}

	logger.Info("Report database initialized",
		zap.String("driver", config.Driver),
		zap.String("dsn", maskDatabaseURL(config.DSN)),
	)
	return r, nil
}

func (r *DB) initialize(driver string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if driver == "sqlite" {
		if _, err := r.db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
			return fmt.Errorf("pragma journal_mode: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, `PRAGMA busy_timeout=3000;`); err != nil {
			return fmt.Errorf("pragma busy_timeout: %w", err)
		}
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create inserts a new record. Timestamps are set when zero.
func (r *DB) Create(ctx context.Context, rec *Record) error {
	now := time.Now().UnixMilli()
	if rec.CreatedAtUnixMs == 0 {
		rec.CreatedAtUnixMs = now
	}
	if rec.UpdatedAtUnixMs == 0 {
		rec.UpdatedAtUnixMs = rec.CreatedAtUnixMs
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO reports (`+columns+`)
		VALUES (:id, :baseline, :target, :status, :fingerprint, :anomaly_count, :error, :created_at_unix_ms, :updated_at_unix_ms)`, rec)
	if err != nil {
		return fmt.Errorf("failed to insert report %s: %w", rec.ID, err)
	}
	return nil
}

// Update stores the mutable fields of rec and bumps its update time
func (r *DB) Update(ctx context.Context, rec *Record) error {
	rec.UpdatedAtUnixMs = time.Now().UnixMilli()
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE reports
		SET status = :status, fingerprint = :fingerprint, anomaly_count = :anomaly_count,
			error = :error, updated_at_unix_ms = :updated_at_unix_ms
		WHERE id = :id`, rec)
	if err != nil {
		return fmt.Errorf("failed to update report %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one record
func (r *DB) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.db.GetContext(ctx, &rec, r.db.Rebind(`SELECT `+columns+` FROM reports WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the most recent records first. limit <= 0 lists everything.
func (r *DB) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + columns + ` FROM reports ORDER BY created_at_unix_ms DESC, id ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	records := []Record{}
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return records, nil
}

// MarkInterrupted fails every report left unfinished by a previous process
func (r *DB) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE reports SET status = ?, error = ?, updated_at_unix_ms = ?
		WHERE status IN (?, ?)`),
		StatusFailed, "interrupted", time.Now().UnixMilli(), StatusPending, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted reports: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.Warn("Marked interrupted reports as failed", zap.Int64("count", n))
	}
	return n, nil
}

// Close closes the database
func (r *DB) Close() error {
	return r.db.Close()
}

// maskDatabaseURL hides the password of a connection URL
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
