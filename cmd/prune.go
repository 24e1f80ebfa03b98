package cmd

import (
	"fmt"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/retention"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Trim the collection to the retention ceiling",
	Long: `Evict the oldest records until at most MAX_RECORDS remain, working directly
on the stores. With --reconcile, also delete blobs that have no metadata and
metadata whose blob is missing.

Run it while the server is stopped: a badger search cache can only be opened
by one process, and the server checks the ceiling itself on startup.

Example:
  face-finder prune
  face-finder prune --max 20 --reconcile`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().Int("max", 0, "Retention ceiling (default $MAX_RECORDS)")
	pruneCmd.Flags().Bool("reconcile", false, "Also remove orphan blobs and records without a blob")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if ceiling := mustGetInt(cmd, "max"); ceiling > 0 {
		cfg.Retention.MaxRecords = ceiling
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []retention.Option{retention.WithLocker(postgres.NewAdmissionLock(st.pool))}
	if cfg.Cache.Backend == "badger" {
		// Persisted results must not outlive the records they point to
		searchCache, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to open search cache: %w", err)
		}
		defer searchCache.Close()
		opts = append(opts, retention.WithInvalidator(searchCache))
	}

	mgr, err := retention.NewManager(st.images, st.blobs, cfg.Retention.MaxRecords, opts...)
	if err != nil {
		return err
	}

	res, err := mgr.Enforce(ctx)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	fmt.Printf("Records: %d (ceiling %d)\n", res.Count, mgr.MaxRecords())
	fmt.Printf("Evicted: %d\n", len(res.Evicted))
	for _, f := range res.Failed {
		fmt.Printf("  failed %s at %s: %v\n", f.ImageID, f.Stage, f.Err)
	}

	if !mustGetBool(cmd, "reconcile") {
		return nil
	}
	rec, err := mgr.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	fmt.Printf("Removed %d orphan blob(s) and %d record(s) without a blob\n", len(rec.OrphanBlobs), len(rec.DanglingRecords))
	return nil
}
