package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jxucoder/previewd/internal/agentpipeline"
	"github.com/jxucoder/previewd/internal/auth"
	"github.com/jxucoder/previewd/internal/config"
	"github.com/jxucoder/previewd/internal/devpreview"
	"github.com/jxucoder/previewd/internal/httpapi"
	"github.com/jxucoder/previewd/internal/llm"
	"github.com/jxucoder/previewd/internal/orchestrator"
	"github.com/jxucoder/previewd/internal/planreview"
	"github.com/jxucoder/previewd/internal/sandboxmgr"
	"github.com/jxucoder/previewd/internal/store"
)

var devWatchAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the previewd API server",
	Long:  "Start the previewd server that manages per-user sandboxes and streams agent activity over SSE.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&devWatchAddr, "dev-watch-addr", "", "if set, also serve a WebSocket event mirror at this address (e.g. 127.0.0.1:8090), for `previewd watch`")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	authSvc := auth.New(st, cfg.JWTSecret, int(cfg.JWTExpire.Hours()/24))

	sandboxDir := filepath.Join(cfg.DataDir, "sandboxes")
	if err := os.MkdirAll(sandboxDir, 0o755); err != nil {
		return fmt.Errorf("creating sandbox directory: %w", err)
	}
	provider, err := sandboxmgr.NewLocalProvider(sandboxDir)
	if err != nil {
		return fmt.Errorf("creating sandbox provider: %w", err)
	}
	sandboxes := sandboxmgr.New(provider, sandboxmgr.Config{
		Template:       cfg.SandboxTemplate,
		Timeout:        cfg.SandboxTimeout,
		DefaultPreview: cfg.PreviewPort,
	})

	llmClient, err := llm.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("building LLM client: %w", err)
	}
	pipeline := agentpipeline.New(llmClient, systemPrompt)

	var planner orchestrator.Planner
	if cfg.PlanReview {
		planner = planreview.New(llmClient)
	}

	engine := orchestrator.New(st, sandboxes, pipeline, orchestrator.Config{
		HistoryLimit: cfg.HistoryLimit,
		PreviewPort:  cfg.PreviewPort,
		Planner:      planner,
		MaxRevisions: cfg.MaxRevisions,
	})

	handler := httpapi.New(authSvc, engine, cfg.CORSOrigins)

	if devWatchAddr != "" {
		hub := devpreview.NewHub()
		go hub.Run()
		handler.SetDevPreviewHub(hub)

		watchServer := &http.Server{Addr: devWatchAddr, Handler: http.HandlerFunc(hub.HandleWatch)}
		go func() {
			log.Printf("previewd: dev watch mirror listening on %s", devWatchAddr)
			if err := watchServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("previewd: dev watch mirror stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: cfg.ServerAddr, Handler: handler.Router()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
		srv.Close()
	}()

	log.Printf("previewd: listening on %s", cfg.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	<-ctx.Done()
	return nil
}

const systemPrompt = `You are previewd's coding assistant. You work inside a single user's
sandboxed workspace, building and iterating on a small webapp in response to
their chat messages. Use the tools available to read, search, and edit
files, and to run commands when needed. Narrate what you're doing to the
user in plain language with show_user_message before or between tool calls.`
