// Package notes walks the timeline and emits a fiscal note at each
// checkpoint: the first document, and every committee report after it. The
// note carries knowledge forward through the previous note rather than
// re-reading all history, so the cumulative text buffer resets after each
// emission.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/core/prompt"
	"fiscal_notes/pkg/core/utils"
	"fiscal_notes/pkg/models"
)

// llmGenerator produces a JSON response for a prompt pair. llm.Client
// satisfies this.
type llmGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Sink receives each emitted note; the pipeline backs it with the bill's
// notes directory.
type Sink interface {
	EmitNote(checkpoint string, note *models.FiscalNote, meta *models.NoteMetadata) error
}

// Input bundles everything the generator consumes: the timeline fixes the
// order, the scrape envelope supplies URLs for the checkpoint predicate,
// and the occurrences were extracted in Stage 4.
type Input struct {
	Bill      models.BillID
	Timeline  *models.ChronologyResult
	Documents []models.Document
	Numbers   []models.MoneyOccurrence
	DocsDir   string
}

type Generator struct {
	llm           llmGenerator
	reportPattern string

	// Cancelled is polled at each checkpoint.
	Cancelled func() bool
}

// NewGenerator builds a generator. reportPattern is the URL-path substring
// that marks a committee report ("CommReports" on the current portal).
func NewGenerator(llm llmGenerator, reportPattern string) *Generator {
	return &Generator{llm: llm, reportPattern: reportPattern}
}

// Run drives the checkpoint state machine over the timeline and returns
// the checkpoint document names that were emitted, in order.
func (g *Generator) Run(ctx context.Context, in Input, sink Sink) ([]string, error) {
	byName := make(map[string]models.Document, len(in.Documents))
	for _, doc := range in.Documents {
		byName[doc.Name] = doc
	}

	var cumulative strings.Builder
	var prev *models.FiscalNote
	processed := make([]string, 0, len(in.Documents))
	emitted := []string{}

	names := in.Timeline.DocumentNames()
	for i, name := range names {
		text := readDocumentText(in.DocsDir, name)
		fmt.Fprintf(&cumulative, "=== Document: %s ===\n%s\n\n", name, text)
		processed = append(processed, name)

		if !g.isCheckpoint(i, byName[name]) {
			continue
		}
		if g.Cancelled != nil && g.Cancelled() {
			return emitted, faults.New(faults.CancelRequested, "notes.run", "cancel requested at checkpoint %s", name)
		}
		if err := ctx.Err(); err != nil {
			return emitted, faults.Wrap(faults.CancelRequested, "notes.run", err)
		}

		visible := VisibleNumbers(in.Numbers, processed)
		fmt.Printf("📝 Checkpoint %s: generating fiscal note (%d documents, %d figures)\n",
			name, len(processed), len(visible))

		note, err := g.generateNote(ctx, in.Bill, cumulative.String(), visible, prev)
		if err != nil {
			return emitted, err
		}

		meta := &models.NoteMetadata{
			Bill:               in.Bill.String(),
			CheckpointDocument: name,
			Predecessors:       append([]string(nil), processed...),
			NumbersUsed:        len(visible),
			GeneratedAt:        time.Now().UTC(),
		}
		if prev != nil {
			meta.PrevNoteDigest = prev.Digest()
		}
		if err := sink.EmitNote(name, note, meta); err != nil {
			return emitted, fmt.Errorf("emit note %s: %w", name, err)
		}

		prev = note
		cumulative.Reset()
		emitted = append(emitted, name)
	}
	return emitted, nil
}

func (g *Generator) isCheckpoint(index int, doc models.Document) bool {
	return IsCheckpoint(index, doc, g.reportPattern)
}

// IsCheckpoint applies the emission predicate: the first document overall,
// or any document whose URL path carries the committee-report marker.
// Amendments alone do not trigger a note; the report that accompanies them
// does.
func IsCheckpoint(index int, doc models.Document, reportPattern string) bool {
	if index == 0 {
		return true
	}
	if reportPattern == "" {
		return false
	}
	u, err := url.Parse(doc.URL)
	if err != nil {
		return strings.Contains(doc.URL, reportPattern)
	}
	return strings.Contains(u.Path, reportPattern)
}

// Checkpoints lists the documents that will trigger a note, in timeline
// order, without generating anything. The orchestrator uses it to decide
// whether the note set on disk is complete.
func Checkpoints(timeline *models.ChronologyResult, documents []models.Document, reportPattern string) []string {
	byName := make(map[string]models.Document, len(documents))
	for _, doc := range documents {
		byName[doc.Name] = doc
	}
	var out []string
	for i, name := range timeline.DocumentNames() {
		if IsCheckpoint(i, byName[name], reportPattern) {
			out = append(out, name)
		}
	}
	return out
}

func (g *Generator) generateNote(ctx context.Context, bill models.BillID, cumulativeContext string, visible []models.MoneyOccurrence, prev *models.FiscalNote) (*models.FiscalNote, error) {
	reg := prompt.Get()
	system, err := reg.SystemPrompt(prompt.FiscalNote)
	if err != nil {
		return nil, fmt.Errorf("fiscal note prompt: %w", err)
	}

	vars := map[string]interface{}{
		"CumulativeContext": cumulativeContext,
		"VisibleNumbers":    renderNumbers(bill, visible),
		"PreviousNote":      "",
	}
	if prev != nil {
		prevJSON, merr := json.MarshalIndent(prev, "", "  ")
		if merr != nil {
			return nil, fmt.Errorf("marshal previous note: %w", merr)
		}
		vars["PreviousNote"] = string(prevJSON)
	}
	user, err := reg.Render(prompt.FiscalNote, vars)
	if err != nil {
		return nil, fmt.Errorf("render fiscal note prompt: %w", err)
	}

	raw, err := g.llm.GenerateJSON(ctx, system, user)
	if err != nil {
		return nil, err
	}
	note, perr := parseNote(raw)
	if perr == nil {
		return note, nil
	}

	fmt.Printf("⚠️  Note response failed validation (%v), sending repair prompt\n", perr)
	note, err = g.repairNote(ctx, raw, perr)
	if err != nil {
		return nil, err
	}
	return note, nil
}

// repairNote gives the model one shot at fixing its own response; a second
// failure is terminal for the bill.
func (g *Generator) repairNote(ctx context.Context, raw string, cause error) (*models.FiscalNote, error) {
	reg := prompt.Get()
	system, err := reg.SystemPrompt(prompt.SchemaRepair)
	if err != nil {
		return nil, fmt.Errorf("repair prompt: %w", err)
	}
	schema, err := reg.GetSchema(prompt.FiscalNote)
	if err != nil {
		return nil, fmt.Errorf("note schema: %w", err)
	}
	user, err := reg.Render(prompt.SchemaRepair, map[string]interface{}{
		"Error":    cause.Error(),
		"Schema":   schema.JSONSchema,
		"Response": raw,
	})
	if err != nil {
		return nil, fmt.Errorf("render repair prompt: %w", err)
	}

	repaired, err := g.llm.GenerateJSON(ctx, system, user)
	if err != nil {
		return nil, err
	}
	note, perr := parseNote(repaired)
	if perr != nil {
		return nil, faults.Wrap(faults.LLMSchemaFailure, "notes.generate", perr)
	}
	return note, nil
}

// parseNote decodes a response and requires all 12 section keys. Partial
// notes are rejected, never zero-filled.
func parseNote(raw string) (*models.FiscalNote, error) {
	var note models.FiscalNote
	accepted, err := utils.SmartParse(raw, &note)
	if err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %v", err)
	}
	if err := utils.RequireKeys(accepted, models.SectionKeys); err != nil {
		return nil, err
	}
	return &note, nil
}

func readDocumentText(docsDir, name string) string {
	data, err := os.ReadFile(filepath.Join(docsDir, name+".txt"))
	if err != nil {
		fmt.Printf("⚠️  Missing text for %s, treating as empty\n", name)
		return ""
	}
	return string(data)
}
