// Package changes compares consecutive fiscal notes and records how each
// section moved between checkpoints. The comparison works on sentence
// sets, so reflowed whitespace and renumbered citation brackets never
// count as revisions.
package changes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"fiscal_notes/pkg/core/utils"
	"fiscal_notes/pkg/models"
)

// Versioned pairs one checkpoint's name with its final, citation-rewritten
// note.
type Versioned struct {
	Checkpoint string
	Note       *models.FiscalNote
}

// Money citation numbers are allocated per note, so the same sentence can
// legitimately renumber between checkpoints. Brackets are stripped from
// the comparison key.
var bracketRe = regexp.MustCompile(`\s*\[\d+\]`)

// Track builds the per-checkpoint change ledger for a bill. The first note
// has no predecessor and produces no entry; every later note yields one
// entry with a status for each of the twelve sections.
func Track(versions []Versioned) []models.CheckpointChange {
	out := []models.CheckpointChange{}
	for i := 1; i < len(versions); i++ {
		prev, cur := versions[i-1], versions[i]
		fmt.Printf("🔀 Comparing %s against %s\n", cur.Checkpoint, prev.Checkpoint)

		entry := models.CheckpointChange{
			Checkpoint: cur.Checkpoint,
			Previous:   prev.Checkpoint,
			Sections:   make(map[string]models.SectionChange, len(models.SectionKeys)),
		}
		for _, key := range models.SectionKeys {
			entry.Sections[key] = compareSection(prev, cur, key)
		}
		out = append(out, entry)
	}
	return out
}

func compareSection(prev, cur Versioned, key string) models.SectionChange {
	prevBody := prev.Note.Section(key)
	curBody := cur.Note.Section(key)
	prevSents := utils.SplitSentences(prevBody)
	curSents := utils.SplitSentences(curBody)

	switch {
	case len(prevSents) == 0 && len(curSents) == 0:
		return models.SectionChange{Status: models.ChangeUnchanged}
	case len(prevSents) == 0:
		return models.SectionChange{
			Status:           models.ChangeAdded,
			ChangedSentences: curSents,
		}
	case len(curSents) == 0:
		return models.SectionChange{
			Status:            models.ChangeRemoved,
			PreviousSentences: prevSents,
		}
	}

	prevKeys := sentenceKeys(prevSents)
	curKeys := sentenceKeys(curSents)

	var added []string
	for _, s := range curSents {
		if _, ok := prevKeys[normalizeSentence(s)]; !ok {
			added = append(added, s)
		}
	}
	var dropped []string
	for _, s := range prevSents {
		if _, ok := curKeys[normalizeSentence(s)]; !ok {
			dropped = append(dropped, s)
		}
	}
	if len(added) == 0 && len(dropped) == 0 {
		return models.SectionChange{Status: models.ChangeUnchanged}
	}
	return models.SectionChange{
		Status:            models.ChangeRevised,
		ChangedSentences:  added,
		PreviousSentences: dropped,
		Diff:              udiff.Unified(prev.Checkpoint, cur.Checkpoint, prevBody+"\n", curBody+"\n"),
	}
}

// sentenceKeys builds the comparison key set. A sentence's key is its text
// with citation brackets removed and whitespace collapsed.
func sentenceKeys(sentences []string) map[string]struct{} {
	keys := make(map[string]struct{}, len(sentences))
	for _, s := range sentences {
		keys[normalizeSentence(s)] = struct{}{}
	}
	return keys
}

func normalizeSentence(s string) string {
	s = bracketRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
