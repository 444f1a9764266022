package notes

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/models"
)

type scriptedLLM struct {
	responses []string
	calls     int
	systems   []string
	users     []string
}

func (s *scriptedLLM) GenerateJSON(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	s.systems = append(s.systems, systemPrompt)
	s.users = append(s.users, userPrompt)
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return s.responses[len(s.responses)-1], nil
}

type captureSink struct {
	names []string
	notes []*models.FiscalNote
	metas []*models.NoteMetadata
}

func (s *captureSink) EmitNote(name string, note *models.FiscalNote, meta *models.NoteMetadata) error {
	s.names = append(s.names, name)
	s.notes = append(s.notes, note)
	s.metas = append(s.metas, meta)
	return nil
}

func fullNote(overview string) *models.FiscalNote {
	n := &models.FiscalNote{}
	for _, k := range models.SectionKeys {
		n.SetSection(k, "Nothing noted for this section.")
	}
	n.Overview = overview
	return n
}

func noteJSON(t *testing.T, overview string) string {
	t.Helper()
	raw, err := json.Marshal(fullNote(overview))
	require.NoError(t, err)
	return string(raw)
}

func fixtureInput(t *testing.T) Input {
	t.Helper()
	bill, err := models.ParseBillID("HB_1483_2025")
	require.NoError(t, err)

	docsDir := t.TempDir()
	writeDoc := func(name, text string) {
		require.NoError(t, os.WriteFile(filepath.Join(docsDir, name+".txt"), []byte(text+"\n"), 0644))
	}
	writeDoc("HB1483_", "A Bill for an Act appropriating $1,000,000.")
	writeDoc("HB1483_TESTIMONY_FIN_", "Testimony in support.")
	writeDoc("HB1483_HD1_", "Amended draft appropriating $2,000,000.")
	writeDoc("HB1483_HD1_HSCR101_", "Your committee recommends passage, $250,000 reduction.")

	return Input{
		Bill: bill,
		Timeline: &models.ChronologyResult{
			Bill: "HB_1483_2025",
			Entries: []models.TimelineEntry{
				{Date: "1/23/2025", Text: "Introduced.", Documents: []string{"HB1483_"}},
				{Date: "2/06/2025", Text: "Hearing held.", Documents: []string{"HB1483_TESTIMONY_FIN_"}},
				{Date: "2/10/2025", Text: "Reported from FIN.", Documents: []string{"HB1483_HD1_", "HB1483_HD1_HSCR101_"}},
			},
		},
		Documents: []models.Document{
			{Name: "HB1483_", URL: "https://www.capitol.hawaii.gov/session2025/bills/HB1483_.HTM", Kind: models.DocKindHTM},
			{Name: "HB1483_TESTIMONY_FIN_", URL: "https://www.capitol.hawaii.gov/session2025/Testimony/HB1483_TESTIMONY_FIN_.PDF", Kind: models.DocKindPDF},
			{Name: "HB1483_HD1_", URL: "https://www.capitol.hawaii.gov/session2025/bills/HB1483_HD1_.HTM", Kind: models.DocKindHTM},
			{Name: "HB1483_HD1_HSCR101_", URL: "https://www.capitol.hawaii.gov/session2025/CommReports/HB1483_HD1_HSCR101_.HTM", Kind: models.DocKindHTM},
		},
		Numbers: []models.MoneyOccurrence{
			{Amount: 1000000, Currency: "USD", Filename: "HB1483_"},
			{Amount: 2000000, Currency: "USD", Filename: "HB1483_HD1_"},
			{Amount: 250000, Currency: "USD", Filename: "HB1483_HD1_HSCR101_"},
		},
		DocsDir: docsDir,
	}
}

func TestGeneratorCheckpoints(t *testing.T) {
	in := fixtureInput(t)
	llm := &scriptedLLM{responses: []string{
		noteJSON(t, "Initial note."),
		noteJSON(t, "Updated note after committee report."),
	}}
	sink := &captureSink{}
	g := NewGenerator(llm, "CommReports")

	emitted, err := g.Run(context.Background(), in, sink)
	require.NoError(t, err)

	// The introduction and the committee report are checkpoints; the
	// testimony and the amended draft alone are not.
	assert.Equal(t, []string{"HB1483_", "HB1483_HD1_HSCR101_"}, emitted)
	require.Len(t, sink.metas, 2)

	first := sink.metas[0]
	assert.Equal(t, "HB_1483_2025", first.Bill)
	assert.Equal(t, "HB1483_", first.CheckpointDocument)
	assert.Equal(t, []string{"HB1483_"}, first.Predecessors)
	assert.Equal(t, 1, first.NumbersUsed)
	assert.Empty(t, first.PrevNoteDigest)

	second := sink.metas[1]
	assert.Equal(t, "HB1483_HD1_HSCR101_", second.CheckpointDocument)
	assert.Equal(t, []string{"HB1483_", "HB1483_TESTIMONY_FIN_", "HB1483_HD1_", "HB1483_HD1_HSCR101_"}, second.Predecessors)
	assert.Equal(t, 3, second.NumbersUsed)
	assert.Equal(t, sink.notes[0].Digest(), second.PrevNoteDigest)
}

func TestGeneratorContextResetsAfterEmission(t *testing.T) {
	in := fixtureInput(t)
	llm := &scriptedLLM{responses: []string{
		noteJSON(t, "Initial note."),
		noteJSON(t, "Second note."),
	}}
	g := NewGenerator(llm, "CommReports")

	_, err := g.Run(context.Background(), in, &captureSink{})
	require.NoError(t, err)
	require.Len(t, llm.users, 2)

	assert.Contains(t, llm.users[0], "=== Document: HB1483_ ===")
	assert.Contains(t, llm.users[0], "appropriating $1,000,000")
	assert.NotContains(t, llm.users[0], "Previous fiscal note")

	// After the first emission the buffer restarts: the second prompt
	// carries only the documents since, plus the previous note.
	assert.NotContains(t, llm.users[1], "=== Document: HB1483_ ===\nA Bill")
	assert.Contains(t, llm.users[1], "=== Document: HB1483_TESTIMONY_FIN_ ===")
	assert.Contains(t, llm.users[1], "=== Document: HB1483_HD1_HSCR101_ ===")
	assert.Contains(t, llm.users[1], "Previous fiscal note")
	assert.Contains(t, llm.users[1], "Initial note.")
}

func TestGeneratorVisibleNumbersInPrompt(t *testing.T) {
	in := fixtureInput(t)
	llm := &scriptedLLM{responses: []string{
		noteJSON(t, "Initial note."),
		noteJSON(t, "Second note."),
	}}
	g := NewGenerator(llm, "CommReports")

	_, err := g.Run(context.Background(), in, &captureSink{})
	require.NoError(t, err)

	// First checkpoint sees only the introduction's figure.
	assert.Contains(t, llm.users[0], "$1,000,000 from Introduction (HB1483_)")
	assert.NotContains(t, llm.users[0], "$2,000,000")
	assert.NotContains(t, llm.users[0], "$250,000")

	// Second checkpoint sees everything processed so far.
	assert.Contains(t, llm.users[1], "$1,000,000 from Introduction (HB1483_)")
	assert.Contains(t, llm.users[1], "$2,000,000 from Amendment (HB1483_HD1_)")
	assert.Contains(t, llm.users[1], "$250,000 from CommitteeReport (HB1483_HD1_HSCR101_)")
}

func TestGeneratorSingleDocumentBill(t *testing.T) {
	bill, err := models.ParseBillID("SB_500_2025")
	require.NoError(t, err)
	docsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "SB500_.txt"), []byte("Introduction only.\n"), 0644))

	in := Input{
		Bill: bill,
		Timeline: &models.ChronologyResult{
			Bill:    "SB_500_2025",
			Entries: []models.TimelineEntry{{Date: "1/20/2025", Text: "Introduced.", Documents: []string{"SB500_"}}},
		},
		Documents: []models.Document{{Name: "SB500_", URL: "https://x/bills/SB500_.HTM", Kind: models.DocKindHTM}},
		DocsDir:   docsDir,
	}
	llm := &scriptedLLM{responses: []string{noteJSON(t, "Only note.")}}
	sink := &captureSink{}

	emitted, err := NewGenerator(llm, "CommReports").Run(context.Background(), in, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"SB500_"}, emitted)
	require.Len(t, sink.metas, 1)
	assert.Empty(t, sink.metas[0].PrevNoteDigest, "a single-document bill has no previous note")
	assert.Equal(t, 0, sink.metas[0].NumbersUsed)
}

func TestGeneratorRepairSucceeds(t *testing.T) {
	in := fixtureInput(t)
	partial := `{"overview": "missing the rest"}`
	llm := &scriptedLLM{responses: []string{
		partial,
		noteJSON(t, "Repaired note."),
		noteJSON(t, "Second note."),
	}}
	sink := &captureSink{}

	emitted, err := NewGenerator(llm, "CommReports").Run(context.Background(), in, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"HB1483_", "HB1483_HD1_HSCR101_"}, emitted)
	assert.Equal(t, 3, llm.calls)
	assert.Equal(t, "Repaired note.", sink.notes[0].Overview)

	// The repair prompt carries the failed response and the error.
	assert.Contains(t, llm.users[1], "missing the rest")
	assert.Contains(t, llm.users[1], "missing required keys")
}

func TestGeneratorSchemaFailureIsTerminal(t *testing.T) {
	in := fixtureInput(t)
	llm := &scriptedLLM{responses: []string{
		`{"overview": "partial"}`,
		`still not a full note`,
	}}
	sink := &captureSink{}

	emitted, err := NewGenerator(llm, "CommReports").Run(context.Background(), in, sink)
	require.Error(t, err)
	assert.Equal(t, faults.LLMSchemaFailure, faults.KindOf(err))
	assert.Empty(t, emitted)
	assert.Empty(t, sink.names)
	assert.Equal(t, 2, llm.calls, "one generation plus one repair attempt")
}

func TestGeneratorCancelledBetweenCheckpoints(t *testing.T) {
	in := fixtureInput(t)
	llm := &scriptedLLM{responses: []string{
		noteJSON(t, "Initial note."),
		noteJSON(t, "never used"),
	}}
	sink := &captureSink{}
	g := NewGenerator(llm, "CommReports")

	polls := 0
	g.Cancelled = func() bool {
		polls++
		return polls > 1
	}

	emitted, err := g.Run(context.Background(), in, sink)
	require.Error(t, err)
	assert.Equal(t, faults.CancelRequested, faults.KindOf(err))
	assert.Equal(t, []string{"HB1483_"}, emitted, "the first note was already emitted")
}

func TestCheckpointPredicateUsesURLPath(t *testing.T) {
	g := NewGenerator(nil, "CommReports")

	assert.True(t, g.isCheckpoint(0, models.Document{URL: "https://x/bills/HB1_.HTM"}), "first document is always a checkpoint")
	assert.True(t, g.isCheckpoint(3, models.Document{URL: "https://x/session2025/CommReports/HB1_HSCR1_.HTM"}))
	assert.False(t, g.isCheckpoint(1, models.Document{URL: "https://x/bills/HB1_HD1_.HTM"}))
	// Pattern in the query string does not count; only the path does.
	assert.False(t, g.isCheckpoint(2, models.Document{URL: "https://x/doc.aspx?src=CommReports"}))
}
