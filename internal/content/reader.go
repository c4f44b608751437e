package content

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/source"
)

// Reader turns a local directory, a log file or a parquet dump into
// RawLines with resolved source identities
type Reader struct {
	fs       afero.Fs
	config   Config
	excluder *source.Excluder
	logger   *zap.Logger
}

// NewReader creates a reader over fs
func NewReader(fs afero.Fs, config Config, logger *zap.Logger) (*Reader, error) {
	if len(config.Includes) == 0 {
		config.Includes = []string{"**"}
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = DefaultMaxLineBytes
	}
	for _, pattern := range config.Includes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern: %s", pattern)
		}
	}

	excluder, err := source.NewExcluder(config.Excludes, config.DefaultExcludes)
	if err != nil {
		return nil, err
	}

	return &Reader{fs: fs, config: config, excluder: excluder, logger: logger}, nil
}

// Read collects the lines of every accepted file under root. Files are
// visited in lexical order and lines of files sharing a source identity
// are numbered continuously.
func (r *Reader) Read(ctx context.Context, root string) ([]source.RawLine, *ReadResult, error) {
	info, err := r.fs.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}

	result := &ReadResult{}
	positions := make(map[source.ID]int)
	var lines []source.RawLine

	visit := func(path, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.accepted(rel) {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}

		var (
			fileLines []source.RawLine
			stats     *FileStats
			err       error
		)
		if strings.HasSuffix(rel, ".parquet") {
			fileLines, stats, err = r.readParquet(path, rel, positions)
		} else {
			fileLines, stats, err = r.readFile(path, rel, positions)
		}
		if errors.Is(err, errBinary) {
			result.Skipped = append(result.Skipped, rel)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}

		lines = append(lines, fileLines...)
		result.Files = append(result.Files, *stats)
		result.Lines += stats.Lines
		result.Bytes += stats.Bytes
		return nil
	}

	if !info.IsDir() {
		err = visit(root, filepath.ToSlash(filepath.Base(root)))
	} else {
		err = afero.Walk(r.fs, root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			return visit(path, filepath.ToSlash(rel))
		})
	}
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("Content read",
		zap.String("root", root),
		zap.Int("files", len(result.Files)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("lines", result.Lines),
		zap.String("size", humanize.Bytes(uint64(result.Bytes))),
	)
	return lines, result, nil
}

// Provenance reads root and returns its baseline fingerprint without
// training a model
func (r *Reader) Provenance(ctx context.Context, root string) (string, *ReadResult, error) {
	lines, result, err := r.Read(ctx, root)
	if err != nil {
		return "", nil, err
	}
	return model.ComputeFingerprint(lines), result, nil
}

func (r *Reader) accepted(rel string) bool {
	if r.excluder.Excluded(rel) {
		return false
	}
	for _, pattern := range r.config.Includes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

var errBinary = errors.New("binary content")

func (r *Reader) readFile(path, rel string, positions map[source.ID]int) ([]source.RawLine, *FileStats, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var in io.Reader = f
	if strings.HasSuffix(rel, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, err
		}
		defer gz.Close()
		in = gz
	}
	if r.config.MaxFileBytes > 0 {
		in = io.LimitReader(in, r.config.MaxFileBytes)
	}

	br := bufio.NewReaderSize(in, 64*1024)
	if head, _ := br.Peek(binarySniffBytes); bytes.IndexByte(head, 0) >= 0 {
		return nil, nil, errBinary
	}

	id := source.Identify(rel)
	stats := &FileStats{Path: rel, Source: string(id)}
	var (
		lines  []source.RawLine
		offset int64
	)
	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			n := int64(len(raw))
			text := strings.TrimRight(raw, "\r\n")
			if r.stopAt(text) {
				stats.Stopped = true
				break
			}
			if len(text) > r.config.MaxLineBytes {
				text = text[:r.config.MaxLineBytes]
				stats.Truncated++
			}

			positions[id]++
			lines = append(lines, source.RawLine{Source: id, Pos: positions[id], Offset: offset, Text: text})
			offset += n
			stats.Lines++
			stats.Bytes += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return lines, stats, nil
}

// stopAt reports whether a skip marker ends the current file
func (r *Reader) stopAt(text string) bool {
	for _, marker := range r.config.SkipMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
