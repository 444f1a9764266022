// Package store mirrors finished runs and job records into Postgres for
// the web backend's read model. The filesystem under the bills root stays
// the source of truth; losing the database only costs the mirror, so
// writers warn and move on instead of failing a completed pipeline.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fiscal_notes/pkg/core/attribution"
	"fiscal_notes/pkg/core/jobs"
	"fiscal_notes/pkg/models"
)

// Archive persists enhanced notes, run envelopes, and job records.
type Archive struct {
	pool *pgxpool.Pool
}

func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// EnsureSchema creates the archive tables when they are missing. Sections,
// metadata, attributions, the document mapping, and the change ledger are
// stored as JSONB so the web backend reads the same shapes the pipeline
// writes to disk.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if a.pool == nil {
		return fmt.Errorf("database pool not configured")
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS fiscal_notes (
			bill TEXT NOT NULL,
			checkpoint_document TEXT NOT NULL,
			sections JSONB NOT NULL,
			metadata JSONB,
			attributions JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (bill, checkpoint_document)
		)`,
		`CREATE TABLE IF NOT EXISTS fiscal_runs (
			bill TEXT PRIMARY KEY,
			document_mapping JSONB,
			changes JSONB,
			note_count INT NOT NULL DEFAULT 0,
			archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS fiscal_jobs (
			bill TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			error_kind TEXT,
			error_message TEXT,
			enqueued_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range ddl {
		if _, err := a.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ArchiveRun upserts every enhanced note plus the run-level envelope
// (document mapping, change ledger, note count). A single note failing to
// save is warned and skipped; only the envelope write is fatal.
func (a *Archive) ArchiveRun(ctx context.Context, bill string, enhanced []attribution.EnhancedNote, mapping map[string]string, ledger []models.CheckpointChange) error {
	if a.pool == nil {
		return fmt.Errorf("database pool not configured")
	}

	for _, en := range enhanced {
		if err := a.saveNote(ctx, bill, en); err != nil {
			fmt.Printf("⚠️  Failed to archive note %s/%s: %v\n", bill, en.Checkpoint, err)
		}
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("marshal document mapping: %w", err)
	}
	ledgerJSON, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("marshal change ledger: %w", err)
	}

	query := `
		INSERT INTO fiscal_runs (bill, document_mapping, changes, note_count, archived_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (bill)
		DO UPDATE SET
			document_mapping = EXCLUDED.document_mapping,
			changes = EXCLUDED.changes,
			note_count = EXCLUDED.note_count,
			archived_at = NOW()
	`
	if _, err := a.pool.Exec(ctx, query, bill, mappingJSON, ledgerJSON, len(enhanced)); err != nil {
		return fmt.Errorf("archive run %s: %w", bill, err)
	}
	return nil
}

func (a *Archive) saveNote(ctx context.Context, bill string, en attribution.EnhancedNote) error {
	sections, err := json.Marshal(en.Note)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	meta, err := json.Marshal(en.Meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	attrs, err := json.Marshal(en.Attributions)
	if err != nil {
		return fmt.Errorf("marshal attributions: %w", err)
	}

	query := `
		INSERT INTO fiscal_notes (bill, checkpoint_document, sections, metadata, attributions, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (bill, checkpoint_document)
		DO UPDATE SET
			sections = EXCLUDED.sections,
			metadata = EXCLUDED.metadata,
			attributions = EXCLUDED.attributions,
			updated_at = NOW()
	`
	_, err = a.pool.Exec(ctx, query, bill, en.Checkpoint, sections, meta, attrs)
	return err
}

// SaveJob mirrors one queue transition. The queue calls it outside its
// locks, so a slow database never stalls admission.
func (a *Archive) SaveJob(ctx context.Context, job jobs.Job) error {
	if a.pool == nil {
		return fmt.Errorf("database pool not configured")
	}
	query := `
		INSERT INTO fiscal_jobs (bill, state, error_kind, error_message, enqueued_at, started_at, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (bill)
		DO UPDATE SET
			state = EXCLUDED.state,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			enqueued_at = EXCLUDED.enqueued_at,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = NOW()
	`
	if _, err := a.pool.Exec(ctx, query, job.ID, string(job.State), job.ErrorKind, job.ErrorMessage, job.EnqueuedAt, job.StartedAt, job.FinishedAt); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
