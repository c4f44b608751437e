package tokenizer

import (
	"regexp"
	"strings"
)

// prefixPatterns match structural prefixes that carry no content. They are
// stripped repeatedly from the start of a line until none applies.
var prefixPatterns = []*regexp.Regexp{
	// 2024-01-02T03:04:05.678Z, [2024-01-02 03:04:05,678], optional zuul "|" separator
	regexp.MustCompile(`^\[?\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?\]?\s*(?:\|\s*)?`),
	// Jan  2 03:04:05
	regexp.MustCompile(`^[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+`),
	// 03:04:05.678 or [03:04:05]
	regexp.MustCompile(`^\[?\d{2}:\d{2}:\d{2}(?:[.,]\d+)?\]?\s*(?:\|\s*)?`),
	// [ 1234.567890] kernel style uptime stamps
	regexp.MustCompile(`^\[\s*\d+\.\d+\]\s*`),
	// 1700000000.123 epoch seconds
	regexp.MustCompile(`^\d{10}(?:\.\d+)?\s+`),
	// INFO, [warning], ERROR:
	regexp.MustCompile(`^(?:\[(?i:trace|debug|info|notice|warn|warning|error|err|fatal|critical|crit)\]|TRACE|DEBUG|INFO|NOTICE|WARN|WARNING|ERROR|ERR|FATAL|CRITICAL|CRIT):?\s+`),
	// pid=123, [tid 42], (pid:7)
	regexp.MustCompile(`^[\[(]?(?i:pid|tid|thread)[=: ]?\s*\d+[\])]?:?\s*`),
	// [1234]:
	regexp.MustCompile(`^\[\d+\]:?\s+`),
	// zuul console separator left after a timestamp was removed
	regexp.MustCompile(`^\|\s*`),
}

// GetDefaultMaskRules returns the ordered masking rules. Order matters: the
// wider structures (URLs, UUIDs, datetimes) must be claimed before their
// pieces would be taken by the narrower rules.
func GetDefaultMaskRules() []MaskRule {
	return []MaskRule{
		{
			Name:        "url",
			Pattern:     regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s'"<>]+`),
			Placeholder: PlaceholderURL,
		},
		{
			Name:        "uuid",
			Pattern:     regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`),
			Placeholder: PlaceholderUUID,
		},
		{
			Name:        "datetime",
			Pattern:     regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{1,2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`),
			Placeholder: PlaceholderDateTime,
		},
		{
			Name:        "date",
			Pattern:     regexp.MustCompile(`\b(?:\d{4}[-/]\d{2}[-/]\d{2}|\d{2}/[A-Z][a-z]{2}/\d{4})\b`),
			Placeholder: PlaceholderDate,
		},
		{
			Name:        "time",
			Pattern:     regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:[.,]\d+)?\b`),
			Placeholder: PlaceholderTime,
		},
		{
			Name:        "ipv4",
			Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`),
			Placeholder: PlaceholderIP,
		},
		{
			Name:        "ipv6",
			Pattern:     regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b|\b(?:[0-9a-fA-F]{1,4}:){1,6}:(?:[0-9a-fA-F]{1,4}(?::[0-9a-fA-F]{1,4})*)?\b`),
			Placeholder: PlaceholderIP,
			Accept:      hasDigit,
		},
		{
			Name:        "path",
			Pattern:     regexp.MustCompile(`(?:^|[\s=:'"(\[,])(/[\w.\-@+~%]+(?:/[\w.\-@+~%]*)*)`),
			Placeholder: PlaceholderPath,
		},
		{
			Name:        "hex",
			Pattern:     regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b`),
			Placeholder: PlaceholderHex,
		},
		{
			Name:        "float",
			Pattern:     regexp.MustCompile(`\b\d+\.\d+(?:[eE][+-]?\d+)?\b`),
			Placeholder: PlaceholderNum,
		},
	}
}

// hasDigit keeps scoped names such as Add::dead out of the ipv6 rule
func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
