package notes

import (
	"fmt"
	"math"
	"strings"

	"fiscal_notes/pkg/core/portal"
	"fiscal_notes/pkg/models"
)

// renderNumbers formats the visible occurrences as the bullet list the
// prompt expects: one "$X from {doc_type} ({filename})" line each, so the
// model can cite the source document next to every amount it uses.
func renderNumbers(bill models.BillID, visible []models.MoneyOccurrence) string {
	if len(visible) == 0 {
		return "(no monetary figures found in the documents so far)"
	}
	var b strings.Builder
	for _, occ := range visible {
		docType := portal.ClassifyDocument(bill, StripTextSuffix(occ.Filename))
		fmt.Fprintf(&b, "- $%s from %s (%s)\n", moneyString(occ.Amount), docType, StripTextSuffix(occ.Filename))
	}
	return strings.TrimRight(b.String(), "\n")
}

// moneyString renders an amount the way it appears in bill text:
// comma-grouped dollars, cents only when present.
func moneyString(amount float64) string {
	whole := int64(amount)
	cents := int(math.Round((amount - float64(whole)) * 100))
	if cents >= 100 {
		whole++
		cents -= 100
	}
	s := groupThousands(whole)
	if cents > 0 {
		s += fmt.Sprintf(".%02d", cents)
	}
	return s
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	return s + "," + strings.Join(parts, ",")
}
