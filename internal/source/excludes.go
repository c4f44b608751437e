package source

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultExcludes lists path patterns of files that are never log content
var DefaultExcludes = []string{
	// binary data with known extension
	`\.ico$`, `\.png$`, `\.jpe?g$`, `\.gif$`, `\.clf$`, `\.tar$`, `\.tar\.bzip2$`,
	`\.subunit$`, `\.sqlite$`, `\.db$`, `\.bin$`, `\.pcap\.log\.txt$`,
	// fonts
	`\.eot$`, `\.otf$`, `\.woff2?$`, `\.ttf$`,
	// configuration
	`\.ya?ml$`, `\.ini$`, `\.conf$`,
	// job metadata and rendered pages
	`job-output\.json$`, `zuul-manifest\.json$`, `\.html$`,
	// binary data with known location
	`cacerts$`, `local/creds$`, `/authkey$`, `mysql/tc\.log\.txt$`,
	`object\.builder$`, `account\.builder$`, `container\.builder$`,
	// system configuration
	`(^|/)etc/`,
	// hidden files
	`(^|/)\.`,
}

// Excluder matches paths against a set of exclusion patterns
type Excluder struct {
	patterns []*regexp.Regexp
}

// NewExcluder compiles the default excludes followed by extra
func NewExcluder(extra []string, withDefaults bool) (*Excluder, error) {
	var sources []string
	if withDefaults {
		sources = append(sources, DefaultExcludes...)
	}
	sources = append(sources, extra...)

	e := &Excluder{patterns: make([]*regexp.Regexp, 0, len(sources))}
	for _, s := range sources {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", s, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// Excluded reports whether p matches any pattern
func (e *Excluder) Excluded(p string) bool {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, re := range e.patterns {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}
