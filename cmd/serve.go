package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/retention"
	"github.com/kozaktomas/face-finder/internal/search"
	"github.com/kozaktomas/face-finder/internal/web"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Finder HTTP API.

The server connects to PostgreSQL (DATABASE_URL), opens the blob store and the
search cache, trims the collection to MAX_RECORDS and then serves /upload,
/search and the image endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default $WEB_PORT or 5000)")
	serveCmd.Flags().String("host", "", "Host to bind to (default $WEB_HOST or 0.0.0.0)")
}

// applyServeFlags lets explicit flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("closing stores")
		}
	}()

	searchCache, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to open search cache: %w", err)
	}
	defer searchCache.Close()
	fmt.Printf("Search cache: %s (TTL %s)\n", cfg.Cache.Backend, searchCache.TTL())

	mgr, err := retention.NewManager(st.images, st.blobs, cfg.Retention.MaxRecords,
		retention.WithLocker(postgres.NewAdmissionLock(st.pool)),
		retention.WithInvalidator(searchCache),
	)
	if err != nil {
		return err
	}
	if res, err := mgr.Enforce(ctx); err != nil {
		logging.Warn().Err(err).Msg("startup retention check failed")
	} else if len(res.Evicted) > 0 {
		fmt.Printf("Evicted %d record(s) above the retention ceiling of %d\n", len(res.Evicted), mgr.MaxRecords())
	}

	extractor := embedder.NewClient(cfg.Embedding)
	scorer := facematch.NewScorer(facematch.Options{
		Threshold:   cfg.Search.Threshold,
		Dedupe:      cfg.Search.Dedupe,
		TopK:        cfg.Search.TopK,
		Concurrency: cfg.Search.Concurrency,
	})

	server := web.NewServer(cfg, web.Dependencies{
		Search:     search.NewService(st.images, extractor, scorer, searchCache),
		Ingest:     ingest.NewService(st.images, st.blobs, extractor, mgr),
		Images:     st.images,
		Blobs:      st.blobs,
		MaxRecords: mgr.MaxRecords(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("Starting Face Finder on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
