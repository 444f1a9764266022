// Package attribution rewrites generated fiscal notes into their citable
// form. Parenthetical document references become [n] brackets backed by the
// bill's document_mapping.json, dollar amounts gain [m] brackets backed by
// the note's money-citation map, and each sentence is scored against the
// source passages it cites so the web backend can surface the evidence
// behind every claim.
package attribution

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fiscal_notes/pkg/core/notes"
)

// minPrefixRefLen is the shortest reference eligible for prefix matching.
// Anything shorter ("(H)", "(no)") is prose, not a truncated document name.
const minPrefixRefLen = 4

var parenRe = regexp.MustCompile(`\(([^()\n]+)\)`)

// docIndex is the per-bill docnum namespace: chronological document order,
// 1-indexed. The assignment is a pure function of the document order, so
// re-running a bill reproduces the same numbering.
type docIndex struct {
	names []string
	byKey map[string]int
}

func newDocIndex(names []string) *docIndex {
	idx := &docIndex{names: names, byKey: make(map[string]int, len(names))}
	for i, n := range names {
		key := normalizeRef(n)
		if _, dup := idx.byKey[key]; !dup {
			idx.byKey[key] = i + 1
		}
	}
	return idx
}

// Mapping serializes the namespace for document_mapping.json. Keys are
// stringified docnums because JSON object keys are strings.
func (idx *docIndex) Mapping() map[string]string {
	m := make(map[string]string, len(idx.names))
	for i, n := range idx.names {
		m[strconv.Itoa(i+1)] = n
	}
	return m
}

// resolve maps one parenthetical reference to a docnum. Exact match wins;
// otherwise the longest name sharing a prefix with the reference, so a
// truncated "HB1483_HD1" lands on HB1483_HD1_ rather than HB1483_.
func (idx *docIndex) resolve(ref string) (int, bool) {
	key := normalizeRef(ref)
	if key == "" {
		return 0, false
	}
	if n, ok := idx.byKey[key]; ok {
		return n, true
	}
	best, bestLen := 0, 0
	for i, name := range idx.names {
		nk := normalizeRef(name)
		if len(nk) < minPrefixRefLen {
			continue
		}
		refIsPrefix := len(key) >= minPrefixRefLen && strings.HasPrefix(nk, key)
		nameIsPrefix := strings.HasPrefix(key, nk)
		if !refIsPrefix && !nameIsPrefix {
			continue
		}
		if len(nk) > bestLen {
			best, bestLen = i+1, len(nk)
		}
	}
	return best, best != 0
}

// replaceDocRefs rewrites resolvable parenthetical references to [n]
// citation brackets and reports how many parentheticals were replaced. A
// parenthetical containing a list replaces only when every element
// resolves; anything else is left as prose.
func (idx *docIndex) replaceDocRefs(body string) (string, int) {
	replaced := 0
	out := parenRe.ReplaceAllStringFunc(body, func(m string) string {
		parts := splitRefList(m[1 : len(m)-1])
		if len(parts) == 0 {
			return m
		}
		nums := make([]string, 0, len(parts))
		for _, p := range parts {
			n, ok := idx.resolve(p)
			if !ok {
				return m
			}
			nums = append(nums, fmt.Sprintf("[%d]", n))
		}
		replaced++
		return strings.Join(nums, " ")
	})
	return out, replaced
}

// citedDocs returns the document names referenced by parentheticals in
// text, in first-appearance order without duplicates.
func (idx *docIndex) citedDocs(text string) []string {
	var out []string
	seen := map[int]bool{}
	for _, m := range parenRe.FindAllStringSubmatch(text, -1) {
		for _, p := range splitRefList(m[1]) {
			if n, ok := idx.resolve(p); ok && !seen[n] {
				seen[n] = true
				out = append(out, idx.names[n-1])
			}
		}
	}
	return out
}

// splitRefList splits "HB999, HSCR101_" style lists. Document names never
// contain commas or semicolons.
func splitRefList(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeRef reduces a name or reference to its comparison key: artifact
// suffixes stripped, trailing underscores and periods dropped, upper-cased.
func normalizeRef(s string) string {
	s = notes.StripTextSuffix(strings.TrimSpace(s))
	s = strings.TrimRight(s, "_.")
	return strings.ToUpper(s)
}
