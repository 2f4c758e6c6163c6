package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/embeddings"
	"github.com/fyrsmithlabs/triaged/internal/httpapi"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/ingest"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/notify"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
	"github.com/fyrsmithlabs/triaged/internal/triage"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage daemon",
	Long: `Start the HTTP daemon. Configuration comes from an optional YAML file
and environment variable overrides (SERVER_HTTP_PORT, PLANNER_API_KEY, ...).

When ingest.tickets_path or ingest.docs_dir is configured, the index is
populated at startup before the server accepts requests.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logging.Sync(logger) //nolint:errcheck

	idx, err := index.New(cfg.Index.Dimension)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey.Value(),
		Dimension: cfg.Index.Dimension,
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	retriever, err := retrieval.New(idx, cfg.Retrieval.PreviewLength, logger.Named("retrieval"))
	if err != nil {
		return fmt.Errorf("creating retriever: %w", err)
	}

	llmClient, err := planner.NewClient(planner.ClientConfig{
		BaseURL: cfg.Planner.BaseURL,
		Model:   cfg.Planner.Model,
		APIKey:  cfg.Planner.APIKey.Value(),
		Timeout: cfg.Planner.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	planSvc, err := planner.NewService(llmClient, planner.Config{
		MaxAttempts:    cfg.Planner.RetryLimit,
		AttemptTimeout: cfg.Planner.Timeout,
	}, logger.Named("planner"))
	if err != nil {
		return fmt.Errorf("creating planner: %w", err)
	}

	store, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer store.Close()

	replayer, err := audit.NewReplayer(store, idx, planSvc, cfg.Retrieval.PreviewLength, logger.Named("replay"))
	if err != nil {
		return fmt.Errorf("creating replayer: %w", err)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.WebhookURL != "" {
		notifier, err = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger.Named("notify"))
		if err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
	}

	triageSvc, err := triage.NewService(
		triage.Config{Thresholds: cfg.Thresholds},
		embedder, retriever, planSvc, store, replayer, notifier,
		logger.Named("triage"),
	)
	if err != nil {
		return fmt.Errorf("creating triage service: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := seedIndex(ctx, cfg, embedder, idx, logger); err != nil {
		return err
	}

	srv, err := httpapi.NewServer(triageSvc, logger.Named("http"), &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// seedIndex loads configured tickets and runbooks before the server
// starts taking traffic.
func seedIndex(ctx context.Context, cfg *config.Config, embedder *embeddings.Service, idx *index.Index, logger *zap.Logger) error {
	if cfg.Ingest.TicketsPath == "" && cfg.Ingest.DocsDir == "" {
		return nil
	}

	ingestor, err := ingest.New(embedder, idx, cfg.Ingest.MaxChunkChars, logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("creating ingestor: %w", err)
	}

	if cfg.Ingest.TicketsPath != "" {
		f, err := os.Open(cfg.Ingest.TicketsPath)
		if err != nil {
			return fmt.Errorf("opening tickets file: %w", err)
		}
		count, err := ingestor.IngestTickets(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("ingesting tickets: %w", err)
		}
		logger.Info("tickets loaded", zap.String("path", cfg.Ingest.TicketsPath), zap.Int("count", count))
	}

	if cfg.Ingest.DocsDir != "" {
		entries, err := os.ReadDir(cfg.Ingest.DocsDir)
		if err != nil {
			return fmt.Errorf("reading docs dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if ext != ".txt" && ext != ".md" {
				continue
			}
			path := filepath.Join(cfg.Ingest.DocsDir, entry.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			docID := strings.TrimSuffix(entry.Name(), ext)
			count, err := ingestor.IngestDocument(ctx, docID, string(raw), index.Metadata{})
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", path, err)
			}
			logger.Info("document loaded", zap.String("document_id", docID), zap.Int("chunks", count))
		}
	}

	return nil
}
