package attribution

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"fiscal_notes/pkg/core/notes"
	"fiscal_notes/pkg/core/numbers"
	"fiscal_notes/pkg/core/portal"
	"fiscal_notes/pkg/core/utils"
	"fiscal_notes/pkg/models"
)

// amountRe matches the dollar amounts the prompt tells the model to write:
// "$250,000", "$1,500,000.50", "$750".
var amountRe = regexp.MustCompile(`\$\s?((?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?)`)

// citedTailRe recognizes an amount that already carries a bracket from an
// earlier enhancement pass.
var citedTailRe = regexp.MustCompile(`^ \[(\d+)\]`)

// moneyCiter assigns a note's numnum namespace while decorating its bodies.
// Numbers are allocated in order of first use across the sections, reusing
// the same m when one occurrence backs several mentions.
type moneyCiter struct {
	bill      models.BillID
	visible   []models.MoneyOccurrence
	assigned  map[int]int
	citations map[string]models.MoneyCitation
}

func newMoneyCiter(bill models.BillID, visible []models.MoneyOccurrence) *moneyCiter {
	return &moneyCiter{
		bill:      bill,
		visible:   visible,
		assigned:  map[int]int{},
		citations: map[string]models.MoneyCitation{},
	}
}

// decorate appends " [m]" after every dollar amount that matches a visible
// occurrence. Amounts with no visible source are left bare rather than
// cited speculatively. An amount that already carries a bracket is recorded
// under its existing number and left untouched, so a re-run of the stage
// over persisted notes is a no-op.
func (mc *moneyCiter) decorate(body string) string {
	matches := amountRe.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body
	}
	spans := utils.SentenceSpans(body)
	var b strings.Builder
	last := 0
	for _, loc := range matches {
		value, err := numbers.ParseAmount(body[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		occIdx, ok := mc.match(value, enclosingSentence(body, spans, loc[0]))
		if !ok {
			continue
		}
		if tail := citedTailRe.FindStringSubmatch(body[loc[1]:]); tail != nil {
			m, _ := strconv.Atoi(tail[1])
			mc.record(occIdx, m)
			continue
		}
		b.WriteString(body[last:loc[1]])
		fmt.Fprintf(&b, " [%d]", mc.assign(occIdx))
		last = loc[1]
	}
	b.WriteString(body[last:])
	return b.String()
}

// match finds the visible occurrence with the same normalized amount whose
// context reads most like the citing sentence. Ties keep discovery order.
func (mc *moneyCiter) match(value float64, sentence string) (int, bool) {
	best, bestScore, found := 0, -1.0, false
	for i, occ := range mc.visible {
		if !amountsEqual(occ.Amount, value) {
			continue
		}
		if score := tokenOverlap(occ.Context, sentence); score > bestScore {
			best, bestScore, found = i, score, true
		}
	}
	return best, found
}

// assign returns the numnum for a visible occurrence, allocating the next
// integer on first use.
func (mc *moneyCiter) assign(occIdx int) int {
	if m, ok := mc.assigned[occIdx]; ok {
		return m
	}
	m := len(mc.assigned) + 1
	mc.record(occIdx, m)
	return m
}

// record pins a numnum to an occurrence and emits its citation entry.
func (mc *moneyCiter) record(occIdx, m int) {
	if _, ok := mc.assigned[occIdx]; ok {
		return
	}
	mc.assigned[occIdx] = m
	occ := mc.visible[occIdx]
	mc.citations[strconv.Itoa(m)] = models.MoneyCitation{
		Amount:   occ.Amount,
		Filename: occ.Filename,
		Context:  occ.Context,
		DocType:  portal.ClassifyDocument(mc.bill, notes.StripTextSuffix(occ.Filename)),
	}
}

// amountsEqual compares normalized amounts, which carry at most two
// decimal places.
func amountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// tokenOverlap is a Dice coefficient over lowercased word sets. Enough to
// tell "$500,000 for teacher stipends" apart from "$500,000 in
// administrative costs" without an embedding round-trip.
func tokenOverlap(a, b string) float64 {
	as, bs := wordSet(a), wordSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	common := 0
	for w := range as {
		if _, ok := bs[w]; ok {
			common++
		}
	}
	return 2 * float64(common) / float64(len(as)+len(bs))
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		if f = strings.Trim(f, `.,;:()"'`); f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// enclosingSentence returns the sentence containing the byte offset,
// falling back to the whole body.
func enclosingSentence(body string, spans [][2]int, offset int) string {
	for _, s := range spans {
		if offset >= s[0] && offset < s[1] {
			return body[s[0]:s[1]]
		}
	}
	return body
}
