package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BillID identifies a measure by chamber, number, and session year.
// Canonical string form: {chamber}B_{number}_{year}, e.g. "HB_1483_2025"
// renders as "HB_1483_2025" for chamber "H".
type BillID struct {
	Chamber string `json:"chamber"` // "H" or "S"
	Number  int    `json:"number"`
	Year    int    `json:"year"`
}

func (b BillID) String() string {
	return fmt.Sprintf("%sB_%d_%d", b.Chamber, b.Number, b.Year)
}

func (b BillID) Validate() error {
	if b.Chamber != "H" && b.Chamber != "S" {
		return fmt.Errorf("invalid chamber %q (want H or S)", b.Chamber)
	}
	if b.Number <= 0 {
		return fmt.Errorf("invalid bill number %d", b.Number)
	}
	if b.Year < 1900 || b.Year > 2999 {
		return fmt.Errorf("invalid year %d", b.Year)
	}
	return nil
}

// ParseBillID parses the canonical form back into its parts.
func ParseBillID(s string) (BillID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 || len(parts[0]) != 2 || parts[0][1] != 'B' {
		return BillID{}, fmt.Errorf("malformed bill id %q", s)
	}
	number, err := strconv.Atoi(parts[1])
	if err != nil {
		return BillID{}, fmt.Errorf("malformed bill number in %q: %w", s, err)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return BillID{}, fmt.Errorf("malformed year in %q: %w", s, err)
	}
	id := BillID{Chamber: parts[0][:1], Number: number, Year: year}
	if err := id.Validate(); err != nil {
		return BillID{}, err
	}
	return id, nil
}

// Document kinds as served by the portal.
const (
	DocKindHTM = "htm"
	DocKindPDF = "pdf"
)

// Document is one entry of a bill's document trail. Name is the portal's
// label (e.g. "HB1483_HD1_HSCR629_") and is the join key used everywhere
// downstream; within one bill names are unique.
type Document struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"` // "htm" or "pdf"
	Text      string    `json:"text,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// Document types derived from Name alone. Never stored as authority;
// reclassification is always possible from the name.
const (
	DocTypeIntroduction    = "Introduction"
	DocTypeAmendment       = "Amendment"
	DocTypeCommitteeReport = "CommitteeReport"
	DocTypeTestimony       = "Testimony"
	DocTypeOther           = "Other"
)

// StatusEvent is one row of the portal's status table. Order of events is
// intrinsic to the page; Date stays an opaque string (never parsed).
type StatusEvent struct {
	Date    string `json:"date"`
	Chamber string `json:"chamber"`
	Text    string `json:"text"`
}

// TimelineEntry associates documents to one status event.
type TimelineEntry struct {
	Date      string   `json:"date"`
	Text      string   `json:"text"`
	Documents []string `json:"documents"`
}

// ScrapeResult is the Stage 1 envelope, persisted as bills/{id}/{id}.json.
// It carries no timestamps: the same page HTML must serialize to the same
// bytes on every run.
type ScrapeResult struct {
	Bill                 string        `json:"bill"`
	StatusRows           []StatusEvent `json:"status_rows"`
	Documents            []Document    `json:"documents"`
	CommitteeReportNames []string      `json:"committee_report_names"`
}

// ChronologyResult is the Stage 2 envelope, persisted as
// bills/{id}/{id}_chronological.json. Degraded is set when the LLM join
// failed validation twice and the deterministic fallback ordering was used.
type ChronologyResult struct {
	Bill        string          `json:"bill"`
	Entries     []TimelineEntry `json:"entries"`
	Degraded    bool            `json:"chronology_degraded"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// DocumentNames flattens the timeline into chronological document order.
func (c ChronologyResult) DocumentNames() []string {
	var names []string
	for _, e := range c.Entries {
		names = append(names, e.Documents...)
	}
	return names
}

// MoneyOccurrence is a single monetary amount discovered in a document,
// with ±50 tokens of surrounding context. Amount is non-negative and was
// literally present in the text after normalizing "$", commas, and "USD".
type MoneyOccurrence struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"` // always "USD"
	Filename    string  `json:"filename"`
	Context     string  `json:"context"`
	OffsetChars int     `json:"offset_chars"`
}

// Retrieval outcomes for the per-document fetch log.
const (
	RetrievalOK     = "ok"
	RetrievalFailed = "failed"

	ExtractorPrimary   = "primary"
	ExtractorSecondary = "secondary"
	ExtractorNone      = "none"
)

// RetrievalRecord is one line of bills/{id}/retrieval_log.json.
type RetrievalRecord struct {
	Document  string    `json:"document"`
	URL       string    `json:"url"`
	Outcome   string    `json:"outcome"`
	Extractor string    `json:"extractor,omitempty"` // pdf only
	Bytes     int       `json:"bytes"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}
