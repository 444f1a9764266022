// Package chronology turns the portal's alphabetical document listing into
// a timeline. The status table is already ordered; an LLM joins each
// document to the status event it belongs to, and the resolver validates
// the join before trusting it.
package chronology

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fiscal_notes/pkg/core/prompt"
	"fiscal_notes/pkg/models"
)

// Generator produces a JSON response for a prompt pair. llm.Client
// satisfies this.
type Generator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Resolver struct {
	gen Generator
}

func NewResolver(gen Generator) *Resolver {
	return &Resolver{gen: gen}
}

// Resolve asks the model for the event→document join and validates it.
// One invalid answer earns a corrective re-prompt; a second earns the
// deterministic fallback with the result flagged degraded. Transport
// failures (after the client's own retries) propagate and fail the job.
func (r *Resolver) Resolve(ctx context.Context, scrape *models.ScrapeResult) (*models.ChronologyResult, error) {
	names := make([]string, 0, len(scrape.Documents))
	for _, d := range scrape.Documents {
		names = append(names, d.Name)
	}

	reg := prompt.Get()
	system, err := reg.SystemPrompt(prompt.ChronologyJoin)
	if err != nil {
		return nil, fmt.Errorf("chronology prompt: %w", err)
	}
	user, err := reg.Render(prompt.ChronologyJoin, map[string]interface{}{
		"StatusEvents":     formatStatusEvents(scrape.StatusRows),
		"DocumentNames":    formatNameList(names),
		"CommitteeReports": formatNameList(scrape.CommitteeReportNames),
	})
	if err != nil {
		return nil, fmt.Errorf("render chronology prompt: %w", err)
	}

	raw, err := r.gen.GenerateJSON(ctx, system, user)
	if err != nil {
		return nil, err
	}
	entries, verr := parseTimeline(raw, scrape.StatusRows, names)
	if verr == nil {
		return r.result(scrape.Bill, entries, false), nil
	}

	fmt.Printf("⚠️  Chronology join rejected (%v), re-prompting once\n", verr)
	retryUser := user + "\n\nYour previous answer was rejected:\n" + verr.Error() +
		"\nProduce a corrected JSON array following every rule."
	raw, err = r.gen.GenerateJSON(ctx, system, retryUser)
	if err != nil {
		return nil, err
	}
	entries, verr = parseTimeline(raw, scrape.StatusRows, names)
	if verr == nil {
		return r.result(scrape.Bill, entries, false), nil
	}

	fmt.Printf("⚠️  Chronology join rejected twice (%v), falling back to status order\n", verr)
	return r.result(scrape.Bill, fallbackTimeline(scrape.StatusRows, names), true), nil
}

func (r *Resolver) result(bill string, entries []models.TimelineEntry, degraded bool) *models.ChronologyResult {
	return &models.ChronologyResult{
		Bill:        bill,
		Entries:     entries,
		Degraded:    degraded,
		GeneratedAt: time.Now().UTC(),
	}
}

// fallbackTimeline mirrors the status rows in order and appends every
// document, sorted by name, to a trailing entry. Deterministic by
// construction: it depends only on the scrape envelope.
func fallbackTimeline(rows []models.StatusEvent, names []string) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, len(rows)+1)
	for _, row := range rows {
		entries = append(entries, models.TimelineEntry{Date: row.Date, Text: row.Text, Documents: []string{}})
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	entries = append(entries, models.TimelineEntry{
		Text:      "Documents not associated with a specific status event",
		Documents: sorted,
	})
	return entries
}

func formatStatusEvents(rows []models.StatusEvent) string {
	var b strings.Builder
	for i, row := range rows {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, row.Date, row.Chamber, row.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatNameList(names []string) string {
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}
