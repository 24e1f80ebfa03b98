package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find stored photos containing a face",
	Long: `Send a photo of one person to the server and list the stored photos that
contain the same face, best match first.

Example:
  face-finder search selfie.jpg
  face-finder search selfie.jpg --event "City Marathon" --date 2024-05-01
  face-finder search selfie.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().String("event", "", "Only match photos from this event")
	searchCmd.Flags().String("date", "", "Only match photos from this date")
	searchCmd.Flags().String("department", "", "Only match photos from this department")
	searchCmd.Flags().String("district", "", "Only match photos from this district")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path) //nolint:gosec // user-provided image path
	if err != nil {
		return fmt.Errorf("cannot read image: %w", err)
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	filters := database.Filters{
		Event:      mustGetString(cmd, "event"),
		Date:       mustGetString(cmd, "date"),
		Department: mustGetString(cmd, "department"),
		District:   mustGetString(cmd, "district"),
	}
	res, err := c.Search(cmd.Context(), filepath.Base(path), data, filters)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if mustGetBool(cmd, "json") {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(res.Matches) == 0 {
		fmt.Printf("No matching images found (%s)\n", res.ProcessingTime)
		return nil
	}

	cached := ""
	if res.Cached {
		cached = ", cached"
	}
	fmt.Printf("Found %d match(es) in %s%s\n\n", len(res.Matches), res.ProcessingTime, cached)
	fmt.Printf("%-38s %-10s %-20s %-12s %-14s %s\n", "IMAGE ID", "SIMILARITY", "EVENT", "DATE", "DEPARTMENT", "DISTRICT")
	for _, m := range res.Matches {
		fmt.Printf("%-38s %-10.4f %-20s %-12s %-14s %s\n", m.ImageID, m.Similarity, m.Event, m.Date, m.Department, m.District)
	}
	fmt.Printf("\nDownload with: face-finder download <image-id> <output>\n")
	return nil
}
