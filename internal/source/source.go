package source

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// ID identifies a family of log files across runs: the same logical file of
// two different runs resolves to the same ID.
type ID string

// RawLine is one captured log line. It is never modified after capture.
type RawLine struct {
	Source ID     `json:"source"`
	Pos    int    `json:"pos"`    // 1-based ordinal within the source
	Offset int64  `json:"offset"` // byte offset of the line start
	Text   string `json:"text"`
}

// compressionSuffixes are dropped so that foo.log and foo.log.gz share an ID
var compressionSuffixes = []string{".gz", ".bz2", ".xz", ".zst"}

// generalizers rewrite run specific path fragments, applied in order
var generalizers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "UUID"},
	{regexp.MustCompile(`\d{4}-?\d{2}-?\d{2}(?:[T_\-]?\d{2}[:\-]?\d{2}(?:[:\-]?\d{2})?)?`), "DATE"},
	{regexp.MustCompile(`\b[0-9a-f]{7,}\b`), "HASH"},
	{regexp.MustCompile(`\d+`), "N"},
}

// Identify derives the source ID of a log file path. Run specific
// fragments (UUIDs, timestamps, hashes, numbers) are generalized and a
// compression suffix is removed.
func Identify(p string) ID {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	for _, suffix := range compressionSuffixes {
		if strings.HasSuffix(p, suffix) {
			p = strings.TrimSuffix(p, suffix)
			break
		}
	}
	for _, g := range generalizers {
		p = g.pattern.ReplaceAllString(p, g.replacement)
	}
	return ID(p)
}

// Group splits lines by source, preserving the relative order of each
// source's lines. The returned IDs are sorted.
func Group(lines []RawLine) ([]ID, map[ID][]RawLine) {
	groups := make(map[ID][]RawLine)
	for _, l := range lines {
		groups[l.Source] = append(groups[l.Source], l)
	}
	return SortedIDs(groups), groups
}

// SortedIDs returns the keys of m in a stable order
func SortedIDs[V any](m map[ID]V) []ID {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FromText builds the lines of one source from newline separated text
func FromText(id ID, text string) []RawLine {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	parts := strings.Split(text, "\n")
	lines := make([]RawLine, len(parts))
	var offset int64
	for i, part := range parts {
		lines[i] = RawLine{
			Source: id,
			Pos:    i + 1,
			Offset: offset,
			Text:   strings.TrimSuffix(part, "\r"),
		}
		offset += int64(len(part)) + 1
	}
	return lines
}
