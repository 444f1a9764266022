// Package numbers scans document text for literal dollar amounts. Every
// match is recorded with a ±50-token context window; nothing is
// deduplicated, because the same figure appearing in two places is two
// pieces of evidence.
package numbers

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"fiscal_notes/pkg/models"
)

// contextWindow is the token count kept on each side of a match.
const contextWindow = 50

// amountPattern accepts comma-grouped amounts and plain digit runs, each
// with up to two decimal places.
const amountPattern = `\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?`

var (
	// The \b guards keep digits embedded in identifiers out: "HB1483 $"
	// must not yield 1483.
	leadingRe  = regexp.MustCompile(`(?:\$|\bUSD)\s*(` + amountPattern + `)`)
	trailingRe = regexp.MustCompile(`\b(` + amountPattern + `)\s*(?:\$|USD\b)`)
)

// ExtractFromText returns every money occurrence in one document's text,
// in position order. Pure: the result depends only on the text.
func ExtractFromText(filename, text string) []models.MoneyOccurrence {
	if text == "" {
		return nil
	}
	spans := tokenize(text)

	type match struct {
		start, end int
	}
	var matches []match

	taken := leadingRe.FindAllStringSubmatchIndex(text, -1)
	for _, loc := range taken {
		matches = append(matches, match{loc[2], loc[3]})
	}
	for _, loc := range trailingRe.FindAllStringSubmatchIndex(text, -1) {
		s, e := loc[2], loc[3]
		// An amount flanked by markers on both sides ("$5,000 USD") is
		// still one occurrence.
		overlaps := false
		for _, prior := range taken {
			if s < prior[3] && e > prior[2] {
				overlaps = true
				break
			}
		}
		if !overlaps {
			matches = append(matches, match{s, e})
		}
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].start < matches[b].start })

	var out []models.MoneyOccurrence
	for _, m := range matches {
		amount, err := ParseAmount(text[m.start:m.end])
		if err != nil {
			continue
		}
		out = append(out, models.MoneyOccurrence{
			Amount:      amount,
			Currency:    "USD",
			Filename:    filename,
			Context:     contextAround(spans, m.start),
			OffsetChars: m.start,
		})
	}
	return out
}

// ExtractDocuments runs the extractor over documents/{name}.txt in the
// given order. Discovery order is document order, then in-file position.
// Filenames in the output carry the on-disk .txt suffix.
func ExtractDocuments(docsDir string, names []string) ([]models.MoneyOccurrence, error) {
	all := []models.MoneyOccurrence{}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(docsDir, name+".txt"))
		if os.IsNotExist(err) {
			fmt.Printf("⚠️  No text file for %s, skipping\n", name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", name, err)
		}
		all = append(all, ExtractFromText(name+".txt", string(data))...)
	}
	return all, nil
}

// ParseAmount normalizes a literal amount ("250,000.50") to its value. The
// attribution pass uses the same normalization when matching note text back
// to occurrences.
func ParseAmount(raw string) (float64, error) {
	amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, err
	}
	return amount, nil
}

type tokenSpan struct {
	text  string
	start int
	end   int
}

func tokenize(text string) []tokenSpan {
	var spans []tokenSpan
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, tokenSpan{text[start:i], start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, tokenSpan{text[start:], start, len(text)})
	}
	return spans
}

// contextAround joins the tokens within the window around the byte offset,
// truncating at document boundaries.
func contextAround(spans []tokenSpan, offset int) string {
	i := sort.Search(len(spans), func(k int) bool { return spans[k].end > offset })
	if i == len(spans) {
		i = len(spans) - 1
	}
	lo := i - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := i + contextWindow + 1
	if hi > len(spans) {
		hi = len(spans)
	}
	parts := make([]string, 0, hi-lo)
	for _, s := range spans[lo:hi] {
		parts = append(parts, s.text)
	}
	return strings.Join(parts, " ")
}
