package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer normalizes raw log lines into comparable token sequences.
// It holds no mutable state and is safe for concurrent use.
type Tokenizer struct {
	rules     []MaskRule
	maxTokens int
	maxBytes  int
}

var defaultTokenizer = mustNew(DefaultOptions())

// Tokenize normalizes a raw line with the default options
func Tokenize(raw string) []Token {
	return defaultTokenizer.Tokenize(raw)
}

// New creates a Tokenizer with the mask rules named in opts.Maskers enabled
func New(opts Options) (*Tokenizer, error) {
	opts = opts.Effective()
	rules, err := selectRules(GetDefaultMaskRules(), opts.Maskers)
	if err != nil {
		return nil, err
	}

	return &Tokenizer{
		rules:     rules,
		maxTokens: opts.MaxTokens,
		maxBytes:  opts.MaxLineBytes,
	}, nil
}

func mustNew(opts Options) *Tokenizer {
	t, err := New(opts)
	if err != nil {
		panic(err)
	}
	return t
}

// selectRules keeps the enabled rules in their default order
func selectRules(all []MaskRule, names []string) ([]MaskRule, error) {
	enabled := make(map[string]bool, len(all))
	for _, name := range names {
		if name == "all" {
			for _, rule := range all {
				enabled[rule.Name] = true
			}
			continue
		}

		found := false
		for _, rule := range all {
			if rule.Name == name {
				enabled[rule.Name] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown masker: %s", name)
		}
	}

	rules := make([]MaskRule, 0, len(all))
	for _, rule := range all {
		if enabled[rule.Name] {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Tokenize returns the token sequence of raw. It never fails: invalid UTF-8
// is replaced, over-long input is truncated and an empty or blank line
// yields an empty sequence.
func (t *Tokenizer) Tokenize(raw string) []Token {
	if len(raw) > t.maxBytes {
		raw = raw[:t.maxBytes]
	}
	text := strings.ToValidUTF8(raw, string(utf8.RuneError))
	text = strings.TrimSpace(stripPrefixes(text))
	if text == "" {
		return []Token{}
	}

	segments := []segment{{text: text}}
	for _, rule := range t.rules {
		segments = applyRule(segments, rule)
	}

	tokens := make([]Token, 0, 16)
	for _, seg := range segments {
		if seg.placeholder != "" {
			tokens = append(tokens, seg.placeholder)
		} else {
			tokens = lex(seg.text, tokens)
		}
		if len(tokens) >= t.maxTokens {
			return tokens[:t.maxTokens]
		}
	}
	return tokens
}

// Key returns a canonical string for a token sequence, suitable as a map key
func Key(tokens []Token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(string(tok))
	}
	return b.String()
}

func stripPrefixes(text string) string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	for pass := 0; pass < maxPrefixPasses; pass++ {
		stripped := false
		for _, pattern := range prefixPatterns {
			if loc := pattern.FindStringIndex(text); loc != nil && loc[1] > 0 {
				text = text[loc[1]:]
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return text
}

// applyRule splits every raw segment around the matches of rule
func applyRule(segments []segment, rule MaskRule) []segment {
	out := make([]segment, 0, len(segments))
	for _, seg := range segments {
		if seg.placeholder != "" {
			out = append(out, seg)
			continue
		}

		matches := rule.Pattern.FindAllStringSubmatchIndex(seg.text, -1)
		if len(matches) == 0 {
			out = append(out, seg)
			continue
		}

		last := 0
		for _, m := range matches {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			if rule.Accept != nil && !rule.Accept(seg.text[start:end]) {
				continue
			}
			if start > last {
				out = append(out, segment{text: seg.text[last:start]})
			}
			out = append(out, segment{placeholder: rule.Placeholder})
			last = end
		}
		if last < len(seg.text) {
			out = append(out, segment{text: seg.text[last:]})
		}
	}
	return out
}

// lex splits raw text into word tokens and punctuation runs
func lex(text string, tokens []Token) []Token {
	const (
		none = iota
		word
		punct
	)

	state, start := none, 0
	flush := func(end int) {
		switch state {
		case word:
			if w := text[start:end]; isLetterID(w) {
				tokens = append(tokens, PlaceholderID)
			} else {
				tokens = appendWord(tokens, strings.ToLower(w))
			}
		case punct:
			tokens = append(tokens, Token(text[start:end]))
		}
	}

	for i, r := range text {
		var kind int
		switch {
		case unicode.IsSpace(r):
			kind = none
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			kind = word
		default:
			kind = punct
		}
		if kind != state {
			flush(i)
			state, start = kind, i
		}
	}
	flush(len(text))
	return tokens
}

// appendWord classifies a lowercased word and appends its tokens
func appendWord(tokens []Token, w string) []Token {
	var digits, hexLetters, otherLetters int
	for _, r := range w {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'f':
			hexLetters++
		default:
			otherLetters++
		}
	}

	switch {
	case digits == 0:
		return append(tokens, Token(w))
	case hexLetters == 0 && otherLetters == 0:
		return append(tokens, PlaceholderNum)
	case otherLetters == 0 && len(w) >= hexMinLen:
		return append(tokens, PlaceholderHex)
	case len(w) >= idMinLen:
		return append(tokens, PlaceholderID)
	}

	// Short mixed words keep their letters and mask digit runs: 120ms -> %num ms
	start := 0
	inDigits := false
	for i, r := range w {
		isDigit := r >= '0' && r <= '9'
		if i > 0 && isDigit != inDigits {
			tokens = appendPart(tokens, w[start:i], inDigits)
			start = i
		}
		inDigits = isDigit
	}
	return appendPart(tokens, w[start:], inDigits)
}

// isLetterID reports whether a digit-free word looks like a random base62
// identifier: long, with case flipping far more often than in camel case
func isLetterID(w string) bool {
	if len(w) < letterIDMinLen {
		return false
	}
	flips := 0
	prevUpper, prevLower := false, false
	for _, r := range w {
		upper, lower := r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z'
		if !upper && !lower {
			return false
		}
		if (upper && prevLower) || (lower && prevUpper) {
			flips++
		}
		prevUpper, prevLower = upper, lower
	}
	return flips*3 >= len(w)
}

func appendPart(tokens []Token, part string, digits bool) []Token {
	if digits {
		return append(tokens, PlaceholderNum)
	}
	return append(tokens, Token(part))
}
