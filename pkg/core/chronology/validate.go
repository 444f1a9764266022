package chronology

import (
	"fmt"
	"strings"

	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/core/utils"
	"fiscal_notes/pkg/models"
)

// parseTimeline decodes a model response and checks the two join
// post-conditions: every document name appears exactly once across all
// entries, and entries track the status rows positionally. A violation
// comes back as ChronologyInvalid so the caller can re-prompt or degrade.
func parseTimeline(raw string, rows []models.StatusEvent, names []string) ([]models.TimelineEntry, error) {
	var entries []models.TimelineEntry
	if _, err := utils.SmartParse(raw, &entries); err != nil {
		return nil, faults.New(faults.ChronologyInvalid, "chronology.parse", "response is not a JSON array: %v", err)
	}

	var problems []string

	if len(entries) != len(rows) {
		problems = append(problems, fmt.Sprintf("expected %d entries (one per status event), got %d", len(rows), len(entries)))
	} else {
		for i := range entries {
			if normalize(entries[i].Date) != normalize(rows[i].Date) {
				problems = append(problems, fmt.Sprintf("entry %d date %q does not match status event date %q", i+1, entries[i].Date, rows[i].Date))
			}
		}
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	seen := make(map[string]int)
	var unknown []string
	for _, e := range entries {
		for _, n := range e.Documents {
			seen[n]++
			if !want[n] && seen[n] == 1 {
				unknown = append(unknown, n)
			}
		}
	}
	for _, n := range names {
		switch seen[n] {
		case 0:
			problems = append(problems, fmt.Sprintf("document %q was not placed in any entry", n))
		case 1:
		default:
			problems = append(problems, fmt.Sprintf("document %q was placed %d times", n, seen[n]))
		}
	}
	for _, n := range unknown {
		problems = append(problems, fmt.Sprintf("document %q is not one of the listed names", n))
	}

	if len(problems) > 0 {
		return nil, faults.New(faults.ChronologyInvalid, "chronology.validate", "%s", strings.Join(problems, "; "))
	}

	for i := range entries {
		if entries[i].Documents == nil {
			entries[i].Documents = []string{}
		}
	}
	return entries, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
