package notes

import (
	"strings"

	"fiscal_notes/pkg/models"
)

// versionIndicators are the tokens that mark a filename as belonging to a
// later draft, a report, or testimony. A number whose filename carries one
// of these past the matched base must not leak into an earlier
// checkpoint's note.
var versionIndicators = []string{
	"CD1", "CD2", "CD3",
	"HD1", "HD2", "HD3",
	"SD1", "SD2", "SD3",
	"TESTIMONY", "HSCR", "SSCR", "CCR",
}

// VisibleNumbers filters the bill's money occurrences down to those whose
// source document has been processed at this checkpoint, preserving
// discovery order.
func VisibleNumbers(all []models.MoneyOccurrence, processed []string) []models.MoneyOccurrence {
	var out []models.MoneyOccurrence
	for _, occ := range all {
		if numberVisible(occ.Filename, processed) {
			out = append(out, occ)
		}
	}
	return out
}

// numberVisible reports whether a number's filename matches any processed
// document: exactly, or as a base-prefixed relative whose suffix carries
// no version indicator.
func numberVisible(filename string, processed []string) bool {
	f := StripTextSuffix(filename)
	for _, name := range processed {
		if f == name {
			return true
		}
		base := strings.TrimSuffix(name, "_")
		if !strings.HasPrefix(f, base+"_") {
			continue
		}
		suffix := f[len(base)+1:]
		if !containsIndicator(suffix) {
			return true
		}
	}
	return false
}

// StripTextSuffix removes the on-disk artifact suffixes so comparison
// happens on portal names.
func StripTextSuffix(filename string) string {
	for _, suf := range []string{".PDF.txt", ".HTM.txt", ".txt"} {
		if strings.HasSuffix(filename, suf) {
			return strings.TrimSuffix(filename, suf)
		}
	}
	return filename
}

func containsIndicator(s string) bool {
	for _, ind := range versionIndicators {
		if strings.Contains(s, ind) {
			return true
		}
	}
	return false
}
