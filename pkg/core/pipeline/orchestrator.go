// Package pipeline drives the acquisition stages for one bill, in order,
// writing each stage's artifact before the next begins. Artifacts double
// as resume markers: a re-run skips any stage whose output already exists,
// so a failed job can be retried without repeating finished work.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"fiscal_notes/pkg/core/agent"
	"fiscal_notes/pkg/core/artifacts"
	"fiscal_notes/pkg/core/attribution"
	"fiscal_notes/pkg/core/changes"
	"fiscal_notes/pkg/core/chronology"
	"fiscal_notes/pkg/core/config"
	"fiscal_notes/pkg/core/embedding"
	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/core/ingest"
	"fiscal_notes/pkg/core/notes"
	"fiscal_notes/pkg/core/numbers"
	"fiscal_notes/pkg/core/portal"
	"fiscal_notes/pkg/models"
)

// Browser is the slice of the stealth session the pipeline needs.
type Browser interface {
	Get(ctx context.Context, url string) (string, error)
	Download(ctx context.Context, url, ext string) (string, error)
	Close()
}

// BrowserOpener launches a fresh session for one job. Each job gets its
// own browser so a crashed Chrome never takes a second bill down with it.
type BrowserOpener func(billID string) (Browser, error)

// Event is one progress tick; the SSE handler forwards it verbatim.
type Event struct {
	Step     string `json:"step"`
	Status   string `json:"status"` // running | done | failed
	Detail   string `json:"detail,omitempty"`
	TimingMs int64  `json:"timing_ms"`
}

// Progress receives events as stages start and finish.
type Progress func(bill string, ev Event)

// Archiver mirrors a finished run into the web backend's read model.
type Archiver interface {
	ArchiveRun(ctx context.Context, bill string, enhanced []attribution.EnhancedNote, mapping map[string]string, ledger []models.CheckpointChange) error
}

type Options struct {
	Store         *artifacts.Store
	Browser       BrowserOpener
	Agents        *agent.Manager
	Embedder      embedding.Engine // nil skips sentence attribution
	Archive       Archiver         // nil skips the Postgres mirror
	Host          string
	ReportPattern string
	Progress      Progress
	ForceScrape   bool // refetch the landing page even when cached
}

// Orchestrator runs Stages 1–8 for one bill at a time. It holds no
// per-bill state, so one instance serves every concurrent job.
type Orchestrator struct {
	store         *artifacts.Store
	openBrowser   BrowserOpener
	agents        *agent.Manager
	enhancer      *attribution.Enhancer
	archive       Archiver
	host          string
	reportPattern string
	progress      Progress
	forceScrape   bool
}

func New(opts Options) *Orchestrator {
	if opts.ReportPattern == "" {
		opts.ReportPattern = config.DefaultCommitteeReportURLPattern
	}
	return &Orchestrator{
		store:         opts.Store,
		openBrowser:   opts.Browser,
		agents:        opts.Agents,
		enhancer:      attribution.NewEnhancer(opts.Embedder),
		archive:       opts.Archive,
		host:          opts.Host,
		reportPattern: opts.ReportPattern,
		progress:      opts.Progress,
		forceScrape:   opts.ForceScrape,
	}
}

// Run executes the full pipeline for one bill. It satisfies jobs.Runner:
// the queue wires cancelled to the job's cancel flag, and the downloader
// and note generator poll it between documents and checkpoints.
func (o *Orchestrator) Run(ctx context.Context, billID string, cancelled func() bool) error {
	bill, err := models.ParseBillID(billID)
	if err != nil {
		return err
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	if _, err := o.store.EnsureBillDir(billID); err != nil {
		return err
	}

	start := time.Now()
	fmt.Printf("🚀 Pipeline starting for %s\n", billID)
	o.emit(billID, Event{Step: "pipeline", Status: "running"})

	br := &lazyBrowser{open: o.openBrowser, bill: billID}
	defer br.close()

	var (
		scrape   models.ScrapeResult
		timeline models.ChronologyResult
		occs     []models.MoneyOccurrence
	)

	fail := func(err error) error {
		o.emit(billID, Event{Step: "pipeline", Status: "failed", Detail: err.Error(), TimingMs: time.Since(start).Milliseconds()})
		return err
	}

	err = o.stage(billID, "scrape", "1", "Scraping measure page", cancelled, func() (string, error) {
		return o.runScrape(ctx, bill, br, &scrape)
	})
	if err != nil {
		return fail(err)
	}

	err = o.stage(billID, "chronology", "2", "Resolving chronology", cancelled, func() (string, error) {
		return o.runChronology(ctx, billID, &scrape, &timeline)
	})
	if err != nil {
		return fail(err)
	}

	err = o.stage(billID, "download", "3", "Downloading documents", cancelled, func() (string, error) {
		return o.runDownload(ctx, billID, br, &scrape, &timeline, cancelled)
	})
	if err != nil {
		return fail(err)
	}

	err = o.stage(billID, "numbers", "4", "Extracting money figures", cancelled, func() (string, error) {
		var derr error
		occs, derr = o.runNumbers(billID, &timeline)
		return fmt.Sprintf("%d money figures", len(occs)), derr
	})
	if err != nil {
		return fail(err)
	}

	checkpoints := notes.Checkpoints(&timeline, scrape.Documents, o.reportPattern)

	err = o.stage(billID, "notes", "5", "Generating fiscal notes", cancelled, func() (string, error) {
		return o.runNotes(ctx, bill, &scrape, &timeline, occs, checkpoints, cancelled)
	})
	if err != nil {
		return fail(err)
	}

	err = o.stage(billID, "citations", "6/7", "Attributing citations", cancelled, func() (string, error) {
		return o.runCitations(ctx, bill, &timeline, occs, checkpoints)
	})
	if err != nil {
		return fail(err)
	}

	err = o.stage(billID, "changes", "8", "Tracking changes across checkpoints", cancelled, func() (string, error) {
		return o.runChanges(billID, checkpoints)
	})
	if err != nil {
		return fail(err)
	}

	if o.archive != nil {
		if err := o.archiveRun(ctx, billID, checkpoints); err != nil {
			fmt.Printf("⚠️  Archive failed for %s: %v\n", billID, err)
		}
	}

	elapsed := time.Since(start)
	fmt.Printf("✅ Pipeline completed for %s in %v\n", billID, elapsed.Round(time.Millisecond))
	o.emit(billID, Event{Step: "pipeline", Status: "done", TimingMs: elapsed.Milliseconds()})
	return nil
}

// stage brackets one stage with its marker, progress events, and the
// cooperative cancel check at the boundary.
func (o *Orchestrator) stage(bill, step, number, title string, cancelled func() bool, fn func() (string, error)) error {
	if cancelled() {
		err := faults.New(faults.CancelRequested, "pipeline."+step, "cancel requested")
		o.emit(bill, Event{Step: step, Status: "failed", Detail: err.Error()})
		return err
	}
	fmt.Printf("\n--- [Stage %s] %s ---\n", number, title)
	o.emit(bill, Event{Step: step, Status: "running", Detail: title})
	begin := time.Now()
	detail, err := fn()
	ms := time.Since(begin).Milliseconds()
	if err != nil {
		o.emit(bill, Event{Step: step, Status: "failed", Detail: err.Error(), TimingMs: ms})
		return err
	}
	o.emit(bill, Event{Step: step, Status: "done", Detail: detail, TimingMs: ms})
	return nil
}

func (o *Orchestrator) emit(bill string, ev Event) {
	if o.progress != nil {
		o.progress(bill, ev)
	}
}

func (o *Orchestrator) runScrape(ctx context.Context, bill models.BillID, br *lazyBrowser, out *models.ScrapeResult) (string, error) {
	path := o.store.ScrapePath(bill.String())
	if artifacts.Exists(path) {
		return "artifact present", artifacts.ReadJSON(path, out)
	}

	cache := ingest.NewPageCache(o.store.BillDir(bill.String()))
	var fetcher portal.Fetcher
	detail := ""
	if !o.forceScrape && cache.Has() {
		fetcher = cannedPage(cache.Get())
		detail = "from cached page"
	} else {
		b, err := br.get()
		if err != nil {
			return "", err
		}
		fetcher = &cachingFetcher{inner: b, cache: cache}
	}

	res, err := portal.NewScraper(fetcher, o.host).Scrape(ctx, bill)
	if err != nil {
		return "", err
	}
	*out = *res
	return detail, artifacts.WriteJSON(path, out)
}

func (o *Orchestrator) runChronology(ctx context.Context, billID string, scrape *models.ScrapeResult, out *models.ChronologyResult) (string, error) {
	path := o.store.ChronologyPath(billID)
	if artifacts.Exists(path) {
		return "artifact present", artifacts.ReadJSON(path, out)
	}

	res, err := chronology.NewResolver(o.agents.Client(agent.RoleChronology)).Resolve(ctx, scrape)
	if err != nil {
		return "", err
	}
	*out = *res
	detail := fmt.Sprintf("%d documents on timeline", len(out.DocumentNames()))
	if out.Degraded {
		detail = "degraded fallback ordering"
	}
	return detail, artifacts.WriteJSON(path, out)
}

// runDownload writes the retrieval log only when the stage finishes; an
// aborted stage leaves the .txt files fetched so far but no log, so the
// re-run repeats the whole walk.
func (o *Orchestrator) runDownload(ctx context.Context, billID string, br *lazyBrowser, scrape *models.ScrapeResult, timeline *models.ChronologyResult, cancelled func() bool) (string, error) {
	logPath := o.store.RetrievalLogPath(billID)
	if artifacts.Exists(logPath) {
		return "artifact present", nil
	}

	b, err := br.get()
	if err != nil {
		return "", err
	}
	d := ingest.NewDownloader(b)
	d.Cancelled = cancelled
	records, err := d.Run(ctx, timeline, scrape.Documents, o.store.DocumentsDir(billID))
	if err != nil {
		return "", err
	}
	failed := 0
	for _, r := range records {
		if r.Outcome == models.RetrievalFailed {
			failed++
		}
	}
	detail := fmt.Sprintf("%d fetched, %d failed", len(records)-failed, failed)
	return detail, artifacts.WriteJSON(logPath, records)
}

func (o *Orchestrator) runNumbers(billID string, timeline *models.ChronologyResult) ([]models.MoneyOccurrence, error) {
	path := o.store.NumbersPath(billID)
	if artifacts.Exists(path) {
		occs := []models.MoneyOccurrence{}
		return occs, artifacts.ReadJSON(path, &occs)
	}

	occs, err := numbers.ExtractDocuments(o.store.DocumentsDir(billID), timeline.DocumentNames())
	if err != nil {
		return nil, err
	}
	return occs, artifacts.WriteJSON(path, occs)
}

func (o *Orchestrator) runNotes(ctx context.Context, bill models.BillID, scrape *models.ScrapeResult, timeline *models.ChronologyResult, occs []models.MoneyOccurrence, checkpoints []string, cancelled func() bool) (string, error) {
	billID := bill.String()
	if len(checkpoints) > 0 && o.notesComplete(billID, checkpoints) {
		return fmt.Sprintf("%d notes present", len(checkpoints)), nil
	}

	gen := notes.NewGenerator(o.agents.Client(agent.RoleFiscalNote), o.reportPattern)
	gen.Cancelled = cancelled
	emitted, err := gen.Run(ctx, notes.Input{
		Bill:      bill,
		Timeline:  timeline,
		Documents: scrape.Documents,
		Numbers:   occs,
		DocsDir:   o.store.DocumentsDir(billID),
	}, o.store.NoteSink(billID))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d notes emitted", len(emitted)), nil
}

func (o *Orchestrator) notesComplete(billID string, checkpoints []string) bool {
	for _, cp := range checkpoints {
		if !artifacts.Exists(o.store.NotePath(billID, cp)) ||
			!artifacts.Exists(o.store.NoteMetadataPath(billID, cp)) {
			return false
		}
	}
	return true
}

// runCitations rewrites every note into its citable form. The document
// mapping is written last and marks the stage complete; decoration itself
// is idempotent, so a crash between note writes cannot corrupt a re-run.
func (o *Orchestrator) runCitations(ctx context.Context, bill models.BillID, timeline *models.ChronologyResult, occs []models.MoneyOccurrence, checkpoints []string) (string, error) {
	billID := bill.String()
	mappingPath := o.store.MappingPath(billID)
	if artifacts.Exists(mappingPath) {
		return "artifact present", nil
	}

	bundles := make([]attribution.NoteBundle, 0, len(checkpoints))
	for _, cp := range checkpoints {
		var note models.FiscalNote
		if err := artifacts.ReadJSON(o.store.NotePath(billID, cp), &note); err != nil {
			return "", fmt.Errorf("load note %s: %w", cp, err)
		}
		var meta models.NoteMetadata
		if err := artifacts.ReadJSON(o.store.NoteMetadataPath(billID, cp), &meta); err != nil {
			return "", fmt.Errorf("load note metadata %s: %w", cp, err)
		}
		bundles = append(bundles, attribution.NoteBundle{Checkpoint: cp, Note: &note, Meta: &meta})
	}

	res, err := o.enhancer.Enhance(ctx, bill, timeline.DocumentNames(), occs, bundles, o.store.DocumentsDir(billID))
	if err != nil {
		return "", err
	}
	for _, en := range res.Notes {
		if err := artifacts.WriteJSON(o.store.NotePath(billID, en.Checkpoint), en.Note); err != nil {
			return "", err
		}
		if err := artifacts.WriteJSON(o.store.NoteMetadataPath(billID, en.Checkpoint), en.Meta); err != nil {
			return "", err
		}
		if err := artifacts.WriteJSON(o.store.AttributionsPath(billID, en.Checkpoint), en.Attributions); err != nil {
			return "", err
		}
	}
	detail := fmt.Sprintf("%d notes enhanced", len(res.Notes))
	return detail, artifacts.WriteJSON(mappingPath, res.DocumentMapping)
}

func (o *Orchestrator) runChanges(billID string, checkpoints []string) (string, error) {
	path := o.store.ChangesPath(billID)
	if artifacts.Exists(path) {
		return "artifact present", nil
	}

	versions := make([]changes.Versioned, 0, len(checkpoints))
	for _, cp := range checkpoints {
		var note models.FiscalNote
		if err := artifacts.ReadJSON(o.store.NotePath(billID, cp), &note); err != nil {
			return "", fmt.Errorf("load note %s: %w", cp, err)
		}
		versions = append(versions, changes.Versioned{Checkpoint: cp, Note: &note})
	}
	ledger := changes.Track(versions)
	return fmt.Sprintf("%d checkpoint comparisons", len(ledger)), artifacts.WriteJSON(path, ledger)
}

// archiveRun reloads the finished artifacts and hands them to the archive.
// Best effort: a dead database never fails a completed pipeline.
func (o *Orchestrator) archiveRun(ctx context.Context, billID string, checkpoints []string) error {
	var mapping map[string]string
	if err := artifacts.ReadJSON(o.store.MappingPath(billID), &mapping); err != nil {
		return err
	}
	var ledger []models.CheckpointChange
	if err := artifacts.ReadJSON(o.store.ChangesPath(billID), &ledger); err != nil {
		return err
	}

	enhanced := make([]attribution.EnhancedNote, 0, len(checkpoints))
	for _, cp := range checkpoints {
		var note models.FiscalNote
		if err := artifacts.ReadJSON(o.store.NotePath(billID, cp), &note); err != nil {
			return err
		}
		var meta models.NoteMetadata
		if err := artifacts.ReadJSON(o.store.NoteMetadataPath(billID, cp), &meta); err != nil {
			return err
		}
		attrs := []models.SentenceAttribution{}
		if artifacts.Exists(o.store.AttributionsPath(billID, cp)) {
			if err := artifacts.ReadJSON(o.store.AttributionsPath(billID, cp), &attrs); err != nil {
				return err
			}
		}
		enhanced = append(enhanced, attribution.EnhancedNote{Checkpoint: cp, Note: &note, Meta: &meta, Attributions: attrs})
	}
	return o.archive.ArchiveRun(ctx, billID, enhanced, mapping, ledger)
}

// lazyBrowser defers the Chrome launch until a stage actually needs the
// network; cached and resumed runs never pay for it.
type lazyBrowser struct {
	open func(billID string) (Browser, error)
	bill string
	b    Browser
}

func (l *lazyBrowser) get() (Browser, error) {
	if l.b != nil {
		return l.b, nil
	}
	b, err := l.open(l.bill)
	if err != nil {
		return nil, err
	}
	l.b = b
	return l.b, nil
}

func (l *lazyBrowser) close() {
	if l.b != nil {
		l.b.Close()
	}
}

// cannedPage satisfies portal.Fetcher with a fixed page, used when the
// landing page is already cached.
type cannedPage string

func (p cannedPage) Get(ctx context.Context, url string) (string, error) {
	return string(p), nil
}

// cachingFetcher tees fetched HTML into the bill's page cache so Stage 1
// can re-run offline.
type cachingFetcher struct {
	inner portal.Fetcher
	cache *ingest.PageCache
}

func (f *cachingFetcher) Get(ctx context.Context, url string) (string, error) {
	html, err := f.inner.Get(ctx, url)
	if err != nil {
		return "", err
	}
	if cerr := f.cache.Set(html); cerr != nil {
		fmt.Printf("⚠️  Failed to cache page HTML: %v\n", cerr)
	}
	return html, nil
}
