package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-finder/internal/client"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path> [path...]",
	Short: "Upload photos to the server",
	Long: `Upload image files, or every image in the given folders, to a running
Face Finder server. All images are tagged with the same metadata.

By default, only files directly in a folder are uploaded (non-recursive).
Use -r to search recursively in subdirectories.
Supported formats: jpg, jpeg, png, gif, webp, tiff, bmp

Example:
  face-finder ingest --event "City Marathon" --date 2024-05-01 \
    --department Police --district North /path/to/photos
  face-finder ingest -r --event Parade --date 2024-06-02 \
    --department Fire --district South photo1.jpg /path/to/folder`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	ingestCmd.Flags().String("event", "", "Event name (required)")
	ingestCmd.Flags().String("date", "", "Event date, e.g. 2024-05-01 (required)")
	ingestCmd.Flags().String("department", "", "Department (required)")
	ingestCmd.Flags().String("district", "", "District (required)")
	for _, name := range []string{"event", "date", "department", "district"} {
		_ = ingestCmd.MarkFlagRequired(name)
	}
}

// isImageFile checks if a file has a supported image extension
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".tiff", ".tif", ".bmp":
		return true
	}
	return false
}

// collectImages expands folders into the image files they contain.
func collectImages(paths []string, recursive bool) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		if recursive {
			err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					files = append(files, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", path, err)
			}
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read folder %s: %w", path, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isImageFile(entry.Name()) {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
	}
	return files, nil
}

// ingestFailure records a file the server rejected.
type ingestFailure struct {
	path string
	err  error
}

func runIngest(cmd *cobra.Command, args []string) error {
	meta := client.Metadata{
		Event:      mustGetString(cmd, "event"),
		Date:       mustGetString(cmd, "date"),
		Department: mustGetString(cmd, "department"),
		District:   mustGetString(cmd, "district"),
	}

	files, err := collectImages(args, mustGetBool(cmd, "recursive"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No image files found.")
		return nil
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	fmt.Printf("Uploading %d image(s) to %s\n\n", len(files), c.URL())

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	ctx := cmd.Context()
	var stored int
	var failures []ingestFailure
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		if err := ingestFile(ctx, c, path, meta); err != nil {
			failures = append(failures, ingestFailure{path: path, err: err})
		} else {
			stored++
		}
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("\n\nUploaded %d of %d image(s)\n", stored, len(files))
	for _, f := range failures {
		fmt.Printf("  %s: %v\n", f.path, f.err)
	}
	if stored == 0 {
		return errors.New("no images were uploaded")
	}
	return nil
}

func ingestFile(ctx context.Context, c *client.Client, path string, meta client.Metadata) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > constants.MaxImageBytes {
		return fmt.Errorf("file is larger than %d MiB", constants.MaxImageBytes>>20)
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-provided file path for upload
	if err != nil {
		return err
	}
	resp, err := c.Upload(ctx, filepath.Base(path), data, meta)
	if err != nil {
		return err
	}
	if len(resp.Items) == 1 && resp.Items[0].Status != "success" {
		return errors.New(resp.Items[0].Message)
	}
	return nil
}
