package portal

import (
	"fmt"
	"regexp"

	"fiscal_notes/pkg/models"
)

var (
	committeeReportRe = regexp.MustCompile(`HSCR|SSCR|CCR|SCR|HCR`)
	amendmentRe       = regexp.MustCompile(`HD\d|SD\d|CD\d|HFA\d|SFA\d`)
	testimonyRe       = regexp.MustCompile(`TESTIMONY`)
)

// ClassifyDocument derives the document type from its name alone. Order
// matters: a committee report's name usually also carries a draft token
// (HB1483_HD1_HSCR629_), and the report classification wins.
func ClassifyDocument(bill models.BillID, name string) string {
	if name == "" {
		return models.DocTypeOther
	}
	if testimonyRe.MatchString(name) {
		return models.DocTypeTestimony
	}
	if committeeReportRe.MatchString(name) {
		return models.DocTypeCommitteeReport
	}
	if amendmentRe.MatchString(name) {
		return models.DocTypeAmendment
	}
	if isIntroductionName(bill, name) {
		return models.DocTypeIntroduction
	}
	return models.DocTypeOther
}

// isIntroductionName matches the bare "{chamber}B{number}" form with no
// underscored modifier ("HB1483" and the portal's "HB1483_" both count).
func isIntroductionName(bill models.BillID, name string) bool {
	base := fmt.Sprintf("%sB%d", bill.Chamber, bill.Number)
	return name == base || name == base+"_"
}
