package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Abbreviations that end in a period without ending a sentence. Lowercased,
// without the trailing period. Tuned for legislative prose ("H. Stand. Com.
// Rep. No. 101").
var nonTerminalAbbrev = map[string]struct{}{
	"no":    {},
	"nos":   {},
	"rep":   {},
	"sen":   {},
	"com":   {},
	"stand": {},
	"sec":   {},
	"sess":  {},
	"dept":  {},
	"stat":  {},
	"mr":    {},
	"mrs":   {},
	"ms":    {},
	"dr":    {},
	"jr":    {},
	"sr":    {},
	"st":    {},
	"vs":    {},
	"h":     {},
	"s":     {},
	"b":     {},
	"d":     {},
	"c":     {},
	"r":     {},
}

// SentenceSpans returns byte [start,end) ranges of the sentences in text.
// A sentence ends at '.', '!' or '?' (plus any trailing quotes, brackets or
// parentheses) when followed by whitespace and an upper-case letter, a digit
// or end of text. Decimal points and known abbreviations do not split.
func SentenceSpans(text string) [][2]int {
	var spans [][2]int
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			i++
			continue
		}
		end := i + 1
		// Trailing closers belong to the sentence: `act.")` or `cost.]`.
		for end < len(text) && (text[end] == '"' || text[end] == '\'' || text[end] == ')' || text[end] == ']') {
			end++
		}
		if !boundaryAfter(text, end) || (c == '.' && isAbbreviation(text[start:i])) {
			i = end
			continue
		}
		if s := trimmedSpan(text, start, end); s != nil {
			spans = append(spans, *s)
		}
		start = end
		i = end
	}
	if s := trimmedSpan(text, start, len(text)); s != nil {
		spans = append(spans, *s)
	}
	return spans
}

// SplitSentences returns the trimmed sentences of text, in order.
func SplitSentences(text string) []string {
	spans := SentenceSpans(text)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, text[s[0]:s[1]])
	}
	return out
}

// boundaryAfter reports whether position end can close a sentence: end of
// text, or whitespace followed by an upper-case letter, digit, opening
// quote/bracket or end of text.
func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, size := utf8.DecodeRuneInString(text[end:])
	if !unicode.IsSpace(r) {
		return false
	}
	j := end + size
	for j < len(text) {
		r, size = utf8.DecodeRuneInString(text[j:])
		if !unicode.IsSpace(r) {
			break
		}
		j += size
	}
	if j >= len(text) {
		return true
	}
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '(' || r == '['
}

// isAbbreviation reports whether the text before a period ends in a token
// that conventionally carries one, so "Rep. No. 101." only splits once.
func isAbbreviation(before string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(strings.Trim(fields[len(fields)-1], `("'[`))
	// "H.B." style initialisms keep their internal periods.
	if idx := strings.LastIndexByte(last, '.'); idx >= 0 {
		last = last[idx+1:]
	}
	_, ok := nonTerminalAbbrev[last]
	return ok
}

// trimmedSpan shrinks [start,end) to exclude surrounding whitespace, or
// returns nil when nothing remains.
func trimmedSpan(text string, start, end int) *[2]int {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start >= end {
		return nil
	}
	return &[2]int{start, end}
}
