package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fiscal_notes/pkg/api/fiscal"
	"fiscal_notes/pkg/core/agent"
	"fiscal_notes/pkg/core/artifacts"
	"fiscal_notes/pkg/core/browser"
	"fiscal_notes/pkg/core/config"
	"fiscal_notes/pkg/core/embedding"
	"fiscal_notes/pkg/core/jobs"
	"fiscal_notes/pkg/core/pipeline"
	"fiscal_notes/pkg/core/prompt"
	"fiscal_notes/pkg/core/store"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	if cfg.PromptsDir != "" {
		if err := prompt.LoadFromDirectory(cfg.PromptsDir); err != nil {
			fmt.Printf("⚠️  Failed to load prompt overrides: %v\n", err)
			fmt.Println("  Falling back to built-in prompts")
		}
	}

	agentMgr := agent.NewManager(agent.LoadConfig("config/models.yaml"))
	artifactStore := artifacts.NewStore(cfg.BillsRoot)

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	// Embedding engine is optional; without it attribution falls back to
	// lexical overlap only.
	var embedder embedding.Engine
	if cfg.EmbedAPIKey != "" {
		engine, err := embedding.NewGeminiEngine(ctx, cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedEndpoint)
		if err != nil {
			fmt.Printf("⚠️  Embedding engine unavailable: %v\n", err)
		} else {
			embedder = engine
			defer embedder.Close()
		}
	}

	// Postgres archive is optional; without DATABASE_URL completed runs
	// stay on the filesystem only.
	var archive *store.Archive
	if cfg.DatabaseURL != "" {
		if err := store.InitDB(ctx, cfg.DatabaseURL); err != nil {
			fmt.Printf("⚠️  Database unavailable, archive disabled: %v\n", err)
		} else {
			defer store.Close()
			archive = store.NewArchive(store.GetPool())
			if err := archive.EnsureSchema(ctx); err != nil {
				fmt.Printf("⚠️  Schema setup failed, archive disabled: %v\n", err)
				archive = nil
			}
		}
	}

	var kv jobs.KV
	if redisKV, err := jobs.NewRedisKV(ctx, cfg.KVAddress); err != nil {
		fmt.Printf("⚠️  Redis unavailable at %s, job keys held in memory: %v\n", cfg.KVAddress, err)
		kv = jobs.NewMemoryKV()
	} else {
		kv = redisKV
	}

	broker := fiscal.NewBroker()

	opts := pipeline.Options{
		Store: artifactStore,
		Browser: func(billID string) (pipeline.Browser, error) {
			dir, err := os.MkdirTemp("", "fiscal-dl-"+billID+"-")
			if err != nil {
				return nil, fmt.Errorf("create download dir: %w", err)
			}
			return browser.Open(billID, dir, logger)
		},
		Agents:        agentMgr,
		Embedder:      embedder,
		Host:          cfg.PortalHost,
		ReportPattern: cfg.CommitteeReportURLPattern,
		Progress:      broker.Publish,
	}
	if archive != nil {
		opts.Archive = archive
	}
	orch := pipeline.New(opts)

	queue := jobs.NewQueue(jobs.Options{
		KV:            kv,
		Runner:        orch.Run,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		PollInterval:  cfg.PollInterval,
		JobTimeout:    cfg.JobTimeout,
		OnTransition: func(j jobs.Job) {
			broker.Publish(j.ID, pipeline.Event{Step: "job", Status: string(j.State), Detail: j.ErrorKind})
			if archive != nil {
				if err := archive.SaveJob(context.Background(), j); err != nil {
					fmt.Printf("⚠️  Failed to mirror job %s: %v\n", j.ID, err)
				}
			}
		},
	})
	defer queue.Close()

	handler := fiscal.NewHandler(queue, artifactStore, broker)
	http.HandleFunc("/api/fiscal/generate", handler.HandleGenerate)
	http.HandleFunc("/api/fiscal/status", handler.HandleStatus)
	http.HandleFunc("/api/fiscal/jobs", handler.HandleJobs)
	http.HandleFunc("/api/fiscal/note", handler.HandleNote)
	http.HandleFunc("/api/fiscal/stream", handler.HandleStream)
	http.HandleFunc("/api/fiscal/cancel", handler.HandleCancel)

	fmt.Printf("API server starting on :%s...\n", cfg.Port)
	fmt.Println("  - POST /api/fiscal/generate")
	fmt.Println("  - GET  /api/fiscal/status?bill=")
	fmt.Println("  - GET  /api/fiscal/jobs")
	fmt.Println("  - GET  /api/fiscal/note?bill=&doc=")
	fmt.Println("  - GET  /api/fiscal/stream?bill=  (SSE progress)")
	fmt.Println("  - POST /api/fiscal/cancel?bill=")
	fmt.Printf("  Bills root: %s\n", filepath.Clean(cfg.BillsRoot))

	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		fmt.Printf("❌ Server failed to start: %v\n", err)
		os.Exit(1)
	}
}
