package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/models"
)

type fakeBrowser struct {
	pages map[string]string
	errs  map[string]error
	dir   string
}

func (f *fakeBrowser) Get(_ context.Context, url string) (string, error) {
	if err := f.errs[url]; err != nil {
		return "", err
	}
	return f.pages[url], nil
}

func (f *fakeBrowser) Download(_ context.Context, url, ext string) (string, error) {
	if err := f.errs[url]; err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, "download"+ext)
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

type fakePDF struct {
	text      string
	extractor string
	err       error
}

func (f fakePDF) Extract(string) (string, string, error) {
	return f.text, f.extractor, f.err
}

func twoDocTimeline() (*models.ChronologyResult, []models.Document) {
	timeline := &models.ChronologyResult{
		Bill: "HB_1483_2025",
		Entries: []models.TimelineEntry{
			{Date: "1/23/2025", Text: "Introduced.", Documents: []string{"HB1483_"}},
			{Date: "2/10/2025", Text: "Reported.", Documents: []string{"HB1483_HD1_HSCR101_"}},
		},
	}
	docs := []models.Document{
		{Name: "HB1483_", URL: "https://x/HB1483_.HTM", Kind: models.DocKindHTM},
		{Name: "HB1483_HD1_HSCR101_", URL: "https://x/HB1483_HD1_HSCR101_.pdf", Kind: models.DocKindPDF},
	}
	return timeline, docs
}

func TestDownloaderRun(t *testing.T) {
	timeline, docs := twoDocTimeline()
	docsDir := t.TempDir()
	browser := &fakeBrowser{
		pages: map[string]string{
			"https://x/HB1483_.HTM": "<html><body><p>A Bill for an Act</p></body></html>",
		},
		dir: t.TempDir(),
	}
	d := NewDownloader(browser)
	d.pdf = fakePDF{text: "Committee report text.", extractor: models.ExtractorPrimary}

	records, err := d.Run(context.Background(), timeline, docs, docsDir)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "HB1483_", records[0].Document)
	assert.Equal(t, models.RetrievalOK, records[0].Outcome)
	assert.Empty(t, records[0].Extractor)
	assert.Greater(t, records[0].Bytes, 0)

	assert.Equal(t, models.RetrievalOK, records[1].Outcome)
	assert.Equal(t, models.ExtractorPrimary, records[1].Extractor)

	htm, err := os.ReadFile(filepath.Join(docsDir, "HB1483_.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A Bill for an Act\n", string(htm))

	pdf, err := os.ReadFile(filepath.Join(docsDir, "HB1483_HD1_HSCR101_.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Committee report text.\n", string(pdf))
}

func TestDownloaderContinuesAfterFetchFailure(t *testing.T) {
	timeline, docs := twoDocTimeline()
	docsDir := t.TempDir()
	browser := &fakeBrowser{
		errs: map[string]error{
			"https://x/HB1483_.HTM": faults.New(faults.NavigationTimeout, "browser.get", "no response after 30s"),
		},
		dir: t.TempDir(),
	}
	d := NewDownloader(browser)
	d.pdf = fakePDF{text: "Committee report text.", extractor: models.ExtractorPrimary}

	records, err := d.Run(context.Background(), timeline, docs, docsDir)
	require.NoError(t, err, "one bad document must not abort the stage")
	require.Len(t, records, 2)

	assert.Equal(t, models.RetrievalFailed, records[0].Outcome)
	assert.Contains(t, records[0].Error, "no response")
	assert.Equal(t, models.RetrievalOK, records[1].Outcome)

	// The failed document still has its (empty) file.
	data, err := os.ReadFile(filepath.Join(docsDir, "HB1483_.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDownloaderAbortsOnBotChallenge(t *testing.T) {
	timeline, docs := twoDocTimeline()
	browser := &fakeBrowser{
		errs: map[string]error{
			"https://x/HB1483_.HTM": faults.New(faults.BotChallengeDetected, "browser.get", "challenge page after retries"),
		},
		dir: t.TempDir(),
	}
	d := NewDownloader(browser)
	d.pdf = fakePDF{text: "unused"}

	records, err := d.Run(context.Background(), timeline, docs, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, faults.BotChallengeDetected, faults.KindOf(err))
	assert.Len(t, records, 1, "stage aborts, later documents are not attempted")
}

func TestDownloaderCancelBetweenDocuments(t *testing.T) {
	timeline, docs := twoDocTimeline()
	browser := &fakeBrowser{
		pages: map[string]string{"https://x/HB1483_.HTM": "<html><body>text</body></html>"},
		dir:   t.TempDir(),
	}
	d := NewDownloader(browser)
	d.pdf = fakePDF{text: "unused"}

	// The flag is polled once before each document; flip it after the
	// first poll so cancellation lands between document one and two.
	polls := 0
	d.Cancelled = func() bool {
		polls++
		return polls > 1
	}

	records, err := d.Run(context.Background(), timeline, docs, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, faults.CancelRequested, faults.KindOf(err))
	require.Len(t, records, 1)
	assert.Equal(t, models.RetrievalOK, records[0].Outcome)
}

func TestDownloaderRecordsSecondaryExtractor(t *testing.T) {
	timeline := &models.ChronologyResult{
		Bill: "HB_1483_2025",
		Entries: []models.TimelineEntry{
			{Date: "2/10/2025", Text: "Reported.", Documents: []string{"HB1483_HD1_HSCR101_"}},
		},
	}
	docs := []models.Document{
		{Name: "HB1483_HD1_HSCR101_", URL: "https://x/HB1483_HD1_HSCR101_.pdf", Kind: models.DocKindPDF},
	}
	d := NewDownloader(&fakeBrowser{dir: t.TempDir()})
	d.pdf = fakePDF{text: "long report text recovered by poppler", extractor: models.ExtractorSecondary}

	records, err := d.Run(context.Background(), timeline, docs, t.TempDir())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RetrievalOK, records[0].Outcome)
	assert.Equal(t, models.ExtractorSecondary, records[0].Extractor)
}

func TestPDFExtractorRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0644))

	_, extractor, err := NewPDFExtractor().Extract(path)
	require.Error(t, err)
	assert.Equal(t, models.ExtractorNone, extractor)
}
