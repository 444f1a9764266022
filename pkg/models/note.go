package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SectionKeys lists the fiscal note's 12 section keys in presentation order.
// The generator requires every key in the LLM response; the web backend
// renders them in this order.
var SectionKeys = []string{
	"overview",
	"appropriations",
	"assumptions_and_methodology",
	"agency_impact",
	"economic_impact",
	"policy_impact",
	"revenue_sources",
	"six_year_fiscal_implications",
	"operating_revenue_impact",
	"capital_expenditure_impact",
	"fiscal_implications_after_6_years",
	"updates_from_previous_fiscal_note",
}

// FiscalNote is the structured narrative emitted at one checkpoint. Bodies
// may contain parenthetical document references (replaced with [n] citations
// by the attribution pass) and dollar amounts (decorated with [m]).
type FiscalNote struct {
	Overview                      string `json:"overview"`
	Appropriations                string `json:"appropriations"`
	AssumptionsAndMethodology     string `json:"assumptions_and_methodology"`
	AgencyImpact                  string `json:"agency_impact"`
	EconomicImpact                string `json:"economic_impact"`
	PolicyImpact                  string `json:"policy_impact"`
	RevenueSources                string `json:"revenue_sources"`
	SixYearFiscalImplications     string `json:"six_year_fiscal_implications"`
	OperatingRevenueImpact        string `json:"operating_revenue_impact"`
	CapitalExpenditureImpact      string `json:"capital_expenditure_impact"`
	FiscalImplicationsAfter6Years string `json:"fiscal_implications_after_6_years"`
	UpdatesFromPreviousFiscalNote string `json:"updates_from_previous_fiscal_note"`
}

// Section returns the body for a section key, or "" for an unknown key.
func (n *FiscalNote) Section(key string) string {
	switch key {
	case "overview":
		return n.Overview
	case "appropriations":
		return n.Appropriations
	case "assumptions_and_methodology":
		return n.AssumptionsAndMethodology
	case "agency_impact":
		return n.AgencyImpact
	case "economic_impact":
		return n.EconomicImpact
	case "policy_impact":
		return n.PolicyImpact
	case "revenue_sources":
		return n.RevenueSources
	case "six_year_fiscal_implications":
		return n.SixYearFiscalImplications
	case "operating_revenue_impact":
		return n.OperatingRevenueImpact
	case "capital_expenditure_impact":
		return n.CapitalExpenditureImpact
	case "fiscal_implications_after_6_years":
		return n.FiscalImplicationsAfter6Years
	case "updates_from_previous_fiscal_note":
		return n.UpdatesFromPreviousFiscalNote
	}
	return ""
}

// SetSection writes the body for a section key; unknown keys are ignored.
func (n *FiscalNote) SetSection(key, body string) {
	switch key {
	case "overview":
		n.Overview = body
	case "appropriations":
		n.Appropriations = body
	case "assumptions_and_methodology":
		n.AssumptionsAndMethodology = body
	case "agency_impact":
		n.AgencyImpact = body
	case "economic_impact":
		n.EconomicImpact = body
	case "policy_impact":
		n.PolicyImpact = body
	case "revenue_sources":
		n.RevenueSources = body
	case "six_year_fiscal_implications":
		n.SixYearFiscalImplications = body
	case "operating_revenue_impact":
		n.OperatingRevenueImpact = body
	case "capital_expenditure_impact":
		n.CapitalExpenditureImpact = body
	case "fiscal_implications_after_6_years":
		n.FiscalImplicationsAfter6Years = body
	case "updates_from_previous_fiscal_note":
		n.UpdatesFromPreviousFiscalNote = body
	}
}

// Sections returns key→body over all 12 sections.
func (n *FiscalNote) Sections() map[string]string {
	m := make(map[string]string, len(SectionKeys))
	for _, k := range SectionKeys {
		m[k] = n.Section(k)
	}
	return m
}

// Digest is a stable sha256 over the note's canonical JSON, used as
// prev_note_digest in the successor's metadata.
func (n *FiscalNote) Digest() string {
	raw, err := json.Marshal(n)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// MoneyCitation is one entry of a note's numnum namespace.
type MoneyCitation struct {
	Amount   float64 `json:"amount"`
	Filename string  `json:"filename"`
	Context  string  `json:"context"`
	DocType  string  `json:"doc_type"`
}

// NoteMetadata accompanies each emitted note as
// bills/{id}/notes/{DocName}_metadata.json. MoneyCitations is populated by
// the attribution pass.
type NoteMetadata struct {
	Bill               string                   `json:"bill"`
	CheckpointDocument string                   `json:"checkpoint_document"`
	Predecessors       []string                 `json:"predecessors"`
	NumbersUsed        int                      `json:"numbers_used"`
	GeneratedAt        time.Time                `json:"generated_at"`
	PrevNoteDigest     string                   `json:"prev_note_digest,omitempty"`
	MoneyCitations     map[string]MoneyCitation `json:"money_citations,omitempty"`
}

// AttributedChunk is one candidate source passage for a generated sentence.
type AttributedChunk struct {
	Filename  string  `json:"filename"`
	ChunkText string  `json:"chunk_text"`
	Score     float64 `json:"score"`
}

// SentenceAttribution binds one generated sentence to its best source
// passage. BestChunkIndex is -1 when no candidate passage existed.
type SentenceAttribution struct {
	SentenceText     string            `json:"sentence_text"`
	AttributedChunks []AttributedChunk `json:"attributed_chunks"`
	BestChunkIndex   int               `json:"best_chunk_index"`
}

// SectionChange states.
const (
	ChangeUnchanged = "unchanged"
	ChangeAdded     = "added"
	ChangeRevised   = "revised"
	ChangeRemoved   = "removed"
)

// SectionChange records how one section moved between consecutive
// checkpoints. Diff is a unified diff of the section body, present for
// revised sections only.
type SectionChange struct {
	Status            string   `json:"status"`
	ChangedSentences  []string `json:"changed_sentences,omitempty"`
	PreviousSentences []string `json:"previous_sentences,omitempty"`
	Diff              string   `json:"diff,omitempty"`
}

// CheckpointChange is the per-checkpoint entry of bills/{id}/changes.json.
type CheckpointChange struct {
	Checkpoint string                   `json:"checkpoint"`
	Previous   string                   `json:"previous"`
	Sections   map[string]SectionChange `json:"sections"`
}
