package content

import (
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/source"
)

// readParquet reads a parquet dump of ParquetRow records. Rows without a
// source belong to the source of the dump file itself.
func (r *Reader) readParquet(path, rel string, positions map[source.ID]int) ([]source.RawLine, *FileStats, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}

	reader := parquet.NewReader(pf)
	defer reader.Close()

	fileID := source.Identify(rel)
	stats := &FileStats{Path: rel, Source: string(fileID)}
	var lines []source.RawLine
	for {
		var row ParquetRow
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			r.logger.Warn("Failed to read Parquet record", zap.String("path", rel), zap.Error(err))
			break
		}

		id := fileID
		if row.Source != "" {
			id = source.Identify(row.Source)
		}
		text := row.Text
		if len(text) > r.config.MaxLineBytes {
			text = text[:r.config.MaxLineBytes]
			stats.Truncated++
		}

		positions[id]++
		lines = append(lines, source.RawLine{Source: id, Pos: positions[id], Text: text})
		stats.Lines++
		stats.Bytes += int64(len(row.Text))
	}
	return lines, stats, nil
}

// WriteParquet dumps lines as ParquetRow records
func WriteParquet(w io.Writer, lines []source.RawLine) error {
	writer := parquet.NewWriter(w)
	for _, l := range lines {
		row := ParquetRow{Source: string(l.Source), Pos: int64(l.Pos), Text: l.Text}
		if err := writer.Write(&row); err != nil {
			return fmt.Errorf("failed to write Parquet record: %w", err)
		}
	}
	return writer.Close()
}
