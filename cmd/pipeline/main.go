// Command pipeline drives fiscal note generation from the terminal: a
// synchronous single-bill run, a queue-draining worker for batches, local
// artifact status, and enqueueing against a running API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fiscal_notes/pkg/core/agent"
	"fiscal_notes/pkg/core/artifacts"
	"fiscal_notes/pkg/core/browser"
	"fiscal_notes/pkg/core/config"
	"fiscal_notes/pkg/core/embedding"
	"fiscal_notes/pkg/core/jobs"
	"fiscal_notes/pkg/core/pipeline"
	"fiscal_notes/pkg/core/prompt"
	"fiscal_notes/pkg/core/store"
	"fiscal_notes/pkg/models"
)

var (
	billFlag    string
	forceScrape bool
	serverURL   string
)

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Generate legislative fiscal notes from Hawaii legislature bills",
	Long: `Scrapes a bill's measure page, orders its documents chronologically,
downloads and extracts their text, and generates a cumulative fiscal note
at every committee-report checkpoint, with per-sentence citations and a
version-to-version change ledger.

Artifacts live under the bills root; a re-run resumes after the last
completed stage.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		godotenv.Load()
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for one bill synchronously",
	RunE:  runBill,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a bill on a running API server",
	RunE:  enqueueBill,
}

var workerCmd = &cobra.Command{
	Use:   "worker <bill>...",
	Short: "Drain a batch of bills through the job queue",
	Long: `Enqueues every listed bill and processes them under the concurrent
job cap. With Redis available, liveness keys gate admission across
worker and server processes sharing the same store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorker,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report artifact progress from the bills root",
	RunE:  reportStatus,
}

func init() {
	runCmd.Flags().StringVar(&billFlag, "bill", "", "bill ID, e.g. HB_1483_2025 (required)")
	runCmd.Flags().BoolVar(&forceScrape, "force-scrape", false, "refetch the measure page even when cached")
	runCmd.MarkFlagRequired("bill")

	enqueueCmd.Flags().StringVar(&billFlag, "bill", "", "bill ID, e.g. HB_1483_2025 (required)")
	enqueueCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "API server base URL")
	enqueueCmd.MarkFlagRequired("bill")

	workerCmd.Flags().BoolVar(&forceScrape, "force-scrape", false, "refetch measure pages even when cached")

	statusCmd.Flags().StringVar(&billFlag, "bill", "", "limit the report to one bill")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildOrchestrator assembles the production pipeline: rod-driven browser
// sessions, LLM routing from config/models.yaml, the optional embedding
// engine, and the optional Postgres archive.
func buildOrchestrator(ctx context.Context, cfg config.Config) (*pipeline.Orchestrator, func()) {
	if cfg.PromptsDir != "" {
		if err := prompt.LoadFromDirectory(cfg.PromptsDir); err != nil {
			fmt.Printf("⚠️  Failed to load prompt overrides: %v\n", err)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	var cleanups []func()
	cleanups = append(cleanups, func() { logger.Sync() })

	var embedder embedding.Engine
	if cfg.EmbedAPIKey != "" {
		engine, err := embedding.NewGeminiEngine(ctx, cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedEndpoint)
		if err != nil {
			fmt.Printf("⚠️  Embedding engine unavailable: %v\n", err)
		} else {
			embedder = engine
			cleanups = append(cleanups, func() { engine.Close() })
		}
	}

	var archive *store.Archive
	if cfg.DatabaseURL != "" {
		if err := store.InitDB(ctx, cfg.DatabaseURL); err != nil {
			fmt.Printf("⚠️  Database unavailable, archive disabled: %v\n", err)
		} else {
			cleanups = append(cleanups, store.Close)
			archive = store.NewArchive(store.GetPool())
			if err := archive.EnsureSchema(ctx); err != nil {
				fmt.Printf("⚠️  Schema setup failed, archive disabled: %v\n", err)
				archive = nil
			}
		}
	}

	opts := pipeline.Options{
		Store: artifacts.NewStore(cfg.BillsRoot),
		Browser: func(billID string) (pipeline.Browser, error) {
			dir, err := os.MkdirTemp("", "fiscal-dl-"+billID+"-")
			if err != nil {
				return nil, fmt.Errorf("create download dir: %w", err)
			}
			return browser.Open(billID, dir, logger)
		},
		Agents:        agent.NewManager(agent.LoadConfig("config/models.yaml")),
		Embedder:      embedder,
		Host:          cfg.PortalHost,
		ReportPattern: cfg.CommitteeReportURLPattern,
		ForceScrape:   forceScrape,
	}
	if archive != nil {
		opts.Archive = archive
	}

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return pipeline.New(opts), cleanup
}

func runBill(cmd *cobra.Command, args []string) error {
	if _, err := models.ParseBillID(billFlag); err != nil {
		return err
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup := buildOrchestrator(ctx, cfg)
	defer cleanup()

	cancelled := func() bool { return ctx.Err() != nil }
	return orch.Run(ctx, billFlag, cancelled)
}

func enqueueBill(cmd *cobra.Command, args []string) error {
	if _, err := models.ParseBillID(billFlag); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"bill": billFlag})
	resp, err := http.Post(serverURL+"/api/fiscal/generate", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("enqueue against %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server rejected enqueue (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var job jobs.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("parse server response: %w", err)
	}
	fmt.Printf("✅ Enqueued %s (state: %s)\n", job.ID, job.State)
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	for _, bill := range args {
		if _, err := models.ParseBillID(bill); err != nil {
			return err
		}
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup := buildOrchestrator(ctx, cfg)
	defer cleanup()

	var kv jobs.KV
	if redisKV, err := jobs.NewRedisKV(ctx, cfg.KVAddress); err != nil {
		fmt.Printf("⚠️  Redis unavailable at %s, job keys held in memory: %v\n", cfg.KVAddress, err)
		kv = jobs.NewMemoryKV()
	} else {
		kv = redisKV
	}

	queue := jobs.NewQueue(jobs.Options{
		KV:            kv,
		Runner:        orch.Run,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		PollInterval:  cfg.PollInterval,
		JobTimeout:    cfg.JobTimeout,
		OnTransition: func(j jobs.Job) {
			if j.State == jobs.StateFailed {
				fmt.Printf("🔀 %s → %s (%s)\n", j.ID, j.State, j.ErrorKind)
				return
			}
			fmt.Printf("🔀 %s → %s\n", j.ID, j.State)
		},
	})
	defer queue.Close()

	fmt.Printf("🚀 Worker draining %d bill(s), max %d concurrent\n", len(args), cfg.MaxConcurrentJobs)
	for _, bill := range args {
		queue.Enqueue(bill)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			fmt.Println("\n🛑 Interrupt received, cancelling remaining jobs...")
			for _, bill := range args {
				queue.RequestCancel(bill)
			}
			ctxDone = nil
		case <-ticker.C:
		}

		records := queue.Jobs()
		done := 0
		for _, j := range records {
			if j.State == jobs.StateDone || j.State == jobs.StateFailed {
				done++
			}
		}
		if len(records) > 0 && done == len(records) {
			break
		}
	}

	failed := 0
	for _, j := range queue.Jobs() {
		mark := "✅"
		if j.State == jobs.StateFailed {
			mark = "❌"
			failed++
		}
		fmt.Printf("%s %s: %s", mark, j.ID, j.State)
		if j.ErrorKind != "" {
			fmt.Printf(" (%s: %s)", j.ErrorKind, j.ErrorMessage)
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d bills failed", failed, len(args))
	}
	return nil
}

func reportStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	st := artifacts.NewStore(cfg.BillsRoot)

	var bills []string
	if billFlag != "" {
		if _, err := models.ParseBillID(billFlag); err != nil {
			return err
		}
		bills = []string{billFlag}
	} else {
		entries, err := os.ReadDir(st.Root())
		if os.IsNotExist(err) {
			fmt.Printf("No bills root at %s\n", st.Root())
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := models.ParseBillID(e.Name()); err == nil {
				bills = append(bills, e.Name())
			}
		}
		sort.Strings(bills)
	}

	if len(bills) == 0 {
		fmt.Println("No bills found.")
		return nil
	}

	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "·"
	}

	fmt.Printf("%-16s %-6s %-10s %-8s %-7s %-5s %-9s %-7s\n",
		"BILL", "SCRAPE", "CHRONOLOGY", "RETRIEVE", "NUMBERS", "NOTES", "CITATIONS", "CHANGES")
	for _, bill := range bills {
		notes, _ := st.ListNotes(bill)
		fmt.Printf("%-16s %-6s %-10s %-8s %-7s %-5d %-9s %-7s\n",
			bill,
			mark(artifacts.Exists(st.ScrapePath(bill))),
			mark(artifacts.Exists(st.ChronologyPath(bill))),
			mark(artifacts.Exists(st.RetrievalLogPath(bill))),
			mark(artifacts.Exists(st.NumbersPath(bill))),
			len(notes),
			mark(artifacts.Exists(st.MappingPath(bill))),
			mark(artifacts.Exists(st.ChangesPath(bill))),
		)
	}
	return nil
}
