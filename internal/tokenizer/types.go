package tokenizer

import (
	"regexp"
	"slices"
)

// Token is one normalized unit of a log line: a word, a punctuation run or
// a category placeholder standing for a masked variable substring.
type Token string

// Placeholder tokens, one per masked category
const (
	PlaceholderNum      Token = "%num"
	PlaceholderHex      Token = "%hex"
	PlaceholderID       Token = "%id"
	PlaceholderUUID     Token = "%uuid"
	PlaceholderIP       Token = "%ip"
	PlaceholderDate     Token = "%date"
	PlaceholderTime     Token = "%time"
	PlaceholderDateTime Token = "%datetime"
	PlaceholderPath     Token = "%path"
	PlaceholderURL      Token = "%url"
)

const (
	// DefaultMaxTokens bounds the number of tokens kept per line
	DefaultMaxTokens = 64
	// DefaultMaxLineBytes bounds the raw bytes inspected per line
	DefaultMaxLineBytes = 4096

	// hexMinLen is the shortest bare word classified as %hex
	hexMinLen = 6
	// idMinLen is the shortest mixed alphanumeric word classified as %id
	idMinLen = 16
	// letterIDMinLen is the shortest digit-free word that may be a random
	// base62 identifier
	letterIDMinLen = 24
	// maxPrefixPasses bounds repeated structural prefix stripping
	maxPrefixPasses = 8
)

// MaskRule replaces every match of Pattern with Placeholder. When the pattern
// has a capture group, only the first group is replaced so that rules can
// anchor on a delimiter without consuming it.
type MaskRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder Token
	// Accept, when set, must hold for a match to be replaced
	Accept      func(match string) bool
}

// Options configures a Tokenizer
type Options struct {
	MaxTokens    int      `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`
	MaxLineBytes int      `yaml:"max_line_bytes" mapstructure:"max_line_bytes" json:"max_line_bytes"`
	Maskers      []string `yaml:"maskers" mapstructure:"maskers" json:"maskers"`
}

// DefaultOptions returns the options used by the package level Tokenize
func DefaultOptions() Options {
	return Options{
		MaxTokens:    DefaultMaxTokens,
		MaxLineBytes: DefaultMaxLineBytes,
		Maskers:      []string{"all"},
	}
}

// Effective returns o with unset fields replaced by their defaults
func (o Options) Effective() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if len(o.Maskers) == 0 {
		o.Maskers = []string{"all"}
	}
	return o
}

// Equal reports whether o and other configure identical tokenizers
func (o Options) Equal(other Options) bool {
	a, b := o.Effective(), other.Effective()
	return a.MaxTokens == b.MaxTokens &&
		a.MaxLineBytes == b.MaxLineBytes &&
		slices.Equal(a.Maskers, b.Maskers)
}

// segment is a piece of a line that is either still raw text or already
// replaced by a placeholder.
type segment struct {
	text        string
	placeholder Token
}
