package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/olekukonko/tablewriter"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/afero"

	"github.com/raaihank/log-sentinel/internal/model"
)

// Summarize returns a one line description of a report
func Summarize(r *model.Report) string {
	s := r.Summary
	line := fmt.Sprintf("%s in %s across %s (%s lines scored, max score %.2f)",
		plural(s.Anomalies, "anomaly", "anomalies"),
		plural(s.Chunks, "chunk", "chunks"),
		plural(s.Sources, "source", "sources"),
		humanize.Comma(int64(s.Scored)),
		s.MaxScore,
	)

	var notes []string
	if s.CoverageGaps > 0 {
		notes = append(notes, plural(s.CoverageGaps, "coverage gap", "coverage gaps"))
	}
	if s.EmptyBaselines > 0 {
		notes = append(notes, plural(s.EmptyBaselines, "empty baseline", "empty baselines"))
	}
	if s.Failed > 0 {
		notes = append(notes, plural(s.Failed, "failed source", "failed sources"))
	}
	if len(notes) > 0 {
		line += "; " + strings.Join(notes, ", ")
	}
	return line
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return humanize.Comma(int64(n)) + " " + many
}

// RenderText writes a per-source table followed by every chunk
func RenderText(w io.Writer, r *model.Report) error {
	if _, err := fmt.Fprintf(w, "Baseline %s, threshold %.2f, context %d\n\n", shortFingerprint(r.Fingerprint), r.Threshold, r.Context); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Source", "Status", "Lines", "Anomalies", "Chunks", "Max score"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, s := range r.Sources {
		status := string(s.Status)
		if s.Error != "" {
			status += ": " + s.Error
		}
		table.Append([]string{
			string(s.Source),
			status,
			humanize.Comma(int64(s.Lines)),
			humanize.Comma(int64(s.Anomalies)),
			fmt.Sprint(len(s.Chunks)),
			fmt.Sprintf("%.2f", s.MaxScore),
		})
	}
	table.Render()

	for _, c := range r.Chunks() {
		if _, err := fmt.Fprintf(w, "\n%s:%d-%d (max %.2f)\n", c.Source, c.Start, c.End, c.MaxScore); err != nil {
			return err
		}
		for _, l := range c.Lines {
			marker := "  "
			if l.Anomalous {
				marker = "! "
			}
			if _, err := fmt.Fprintf(w, "%s%6d %.2f | %s\n", marker, l.Pos, l.Score, l.Text); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "\n%s\n", Summarize(r))
	return err
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// WriteJSON stores a report as gzip compressed JSON
func WriteJSON(fs afero.Fs, path string, r *model.Report) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress report: %w", err)
	}
	return f.Close()
}

// ReadJSON loads a report written by WriteJSON
func ReadJSON(fs afero.Fs, path string) (*model.Report, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress report: %w", err)
	}
	defer gz.Close()

	var r model.Report
	if err := json.NewDecoder(gz).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
