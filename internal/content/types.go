package content

const (
	// DefaultMaxLineBytes truncates pathological lines while reading
	DefaultMaxLineBytes = 16 * 1024
	// binarySniffBytes is how much of a file is inspected for NUL bytes
	binarySniffBytes = 512
)

// Config contains content reader configuration
type Config struct {
	Includes        []string `yaml:"includes" mapstructure:"includes"`
	Excludes        []string `yaml:"excludes" mapstructure:"excludes"`
	DefaultExcludes bool     `yaml:"default_excludes" mapstructure:"default_excludes"`
	SkipMarkers     []string `yaml:"skip_markers" mapstructure:"skip_markers"`
	MaxLineBytes    int      `yaml:"max_line_bytes" mapstructure:"max_line_bytes"`
	MaxFileBytes    int64    `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
}

// DefaultConfig returns the reader defaults
func DefaultConfig() Config {
	return Config{
		Includes:        []string{"**"},
		DefaultExcludes: true,
		MaxLineBytes:    DefaultMaxLineBytes,
	}
}

// FileStats describes what was read from one file
type FileStats struct {
	Path      string `json:"path"`
	Source    string `json:"source"`
	Lines     int    `json:"lines"`
	Bytes     int64  `json:"bytes"`
	Truncated int    `json:"truncated"`
	Stopped   bool   `json:"stopped"`
}

// ReadResult holds the outcome of reading one root
type ReadResult struct {
	Files   []FileStats `json:"files"`
	Skipped []string    `json:"skipped"`
	Lines   int         `json:"lines"`
	Bytes   int64       `json:"bytes"`
}

// ParquetRow is the row layout of parquet line dumps
type ParquetRow struct {
	Source string `parquet:"source" json:"source"`
	Pos    int64  `parquet:"pos" json:"pos"`
	Text   string `parquet:"text" json:"text"`
}
