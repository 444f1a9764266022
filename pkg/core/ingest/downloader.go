package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/models"
)

// Browser is the slice of the stealth session the downloader needs.
type Browser interface {
	Get(ctx context.Context, url string) (string, error)
	Download(ctx context.Context, url, ext string) (string, error)
}

type pdfExtractor interface {
	Extract(path string) (string, string, error)
}

// Downloader walks the timeline in order and persists one .txt per
// document. A single document's failure is recorded and skipped; a bot
// challenge or cancellation aborts the whole stage.
type Downloader struct {
	browser Browser
	pdf     pdfExtractor

	// Cancelled is polled between documents; the orchestrator wires it to
	// the job's cancel flag.
	Cancelled func() bool
}

func NewDownloader(browser Browser) *Downloader {
	return &Downloader{
		browser: browser,
		pdf:     NewPDFExtractor(),
	}
}

// Run fetches every document named on the timeline, in timeline order, and
// writes documents/{name}.txt files under docsDir. It returns one
// retrieval record per document, including the failed ones.
func (d *Downloader) Run(ctx context.Context, timeline *models.ChronologyResult, documents []models.Document, docsDir string) ([]models.RetrievalRecord, error) {
	if err := os.MkdirAll(docsDir, 0755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}

	byName := make(map[string]models.Document, len(documents))
	for _, doc := range documents {
		byName[doc.Name] = doc
	}

	names := timeline.DocumentNames()
	records := make([]models.RetrievalRecord, 0, len(names))
	for i, name := range names {
		if d.Cancelled != nil && d.Cancelled() {
			return records, faults.New(faults.CancelRequested, "ingest.run", "cancel requested after %d of %d documents", i, len(names))
		}
		if err := ctx.Err(); err != nil {
			return records, faults.Wrap(faults.CancelRequested, "ingest.run", err)
		}

		doc, ok := byName[name]
		if !ok {
			// The chronology validator guarantees this in practice.
			records = append(records, models.RetrievalRecord{
				Document:  name,
				Outcome:   models.RetrievalFailed,
				Error:     "document not present in scrape envelope",
				FetchedAt: time.Now().UTC(),
			})
			continue
		}

		fmt.Printf("📄 [%d/%d] Fetching %s\n", i+1, len(names), name)
		rec, fault := d.fetchOne(ctx, doc, docsDir)
		records = append(records, rec)

		if fault != nil {
			if faults.KindOf(fault) == faults.BotChallengeDetected {
				return records, fault
			}
			fmt.Printf("⚠️  %s failed (%s), continuing with empty text\n", name, rec.Error)
		}
	}
	return records, nil
}

// fetchOne fetches and persists a single document. Failures come back as a
// classified fault with an empty file already written; the caller decides
// whether that fault aborts the stage.
func (d *Downloader) fetchOne(ctx context.Context, doc models.Document, docsDir string) (models.RetrievalRecord, error) {
	start := time.Now()
	rec := models.RetrievalRecord{
		Document:  doc.Name,
		URL:       doc.URL,
		FetchedAt: start.UTC(),
	}

	var text string
	var err error
	switch doc.Kind {
	case models.DocKindHTM:
		var page string
		page, err = d.browser.Get(ctx, doc.URL)
		if err == nil {
			text, err = ExtractVisibleText(page)
		}
	case models.DocKindPDF:
		var path string
		path, err = d.browser.Download(ctx, doc.URL, ".pdf")
		if err == nil {
			text, rec.Extractor, err = d.pdf.Extract(path)
		} else {
			rec.Extractor = models.ExtractorNone
		}
	default:
		err = fmt.Errorf("unknown document kind %q", doc.Kind)
	}

	rec.ElapsedMs = time.Since(start).Milliseconds()

	written, werr := writeDocumentText(docsDir, doc.Name, text)
	if err == nil {
		err = werr
	}
	rec.Bytes = written

	if err != nil {
		rec.Outcome = models.RetrievalFailed
		rec.Error = err.Error()
		return rec, classifyFetchError(err)
	}
	rec.Outcome = models.RetrievalOK
	return rec, nil
}

// classifyFetchError keeps a bot challenge fatal and downgrades everything
// else to the recoverable per-document kind.
func classifyFetchError(err error) error {
	if faults.KindOf(err) == faults.BotChallengeDetected {
		return err
	}
	return faults.Wrap(faults.DocumentFetchFailed, "ingest.fetch", err)
}

// writeDocumentText persists UTF-8, LF-terminated text. A failed fetch
// still gets its (empty) file so downstream stages see a complete set.
func writeDocumentText(docsDir, name, text string) (int, error) {
	content := text
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	path := filepath.Join(docsDir, name+".txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return len(content), nil
}
