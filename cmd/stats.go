package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Server:      %s\n", c.URL())
	fmt.Printf("Records:     %d / %d\n", stats.Records, stats.MaxRecords)
	fmt.Printf("Blobs:       %d\n", stats.Blobs)
	if stats.Blobs != stats.Records {
		fmt.Println("\nRecord and blob counts differ; run 'face-finder prune --reconcile' with the server stopped.")
	}
	return nil
}
