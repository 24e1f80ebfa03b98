package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-finder/internal/client"
	"github.com/kozaktomas/face-finder/internal/imaging"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download <image-id> [output]",
	Short: "Download a stored photo",
	Long: `Download the original bytes of a stored photo.

When output is omitted the file is written to the current directory as
<image-id> with an extension matching its format. When output is a folder
the same name is used inside it.

Example:
  face-finder download 6f1c9a52-0b7e-4c8e-9f5e-1c2d3e4f5a6b
  face-finder download 6f1c9a52-0b7e-4c8e-9f5e-1c2d3e4f5a6b ./match.jpg`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	imageID := args[0]

	c, err := newClient()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "face-finder-download-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	contentType, err := c.Download(cmd.Context(), imageID, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if client.IsNotFoundError(err) {
			return fmt.Errorf("image %s not found", imageID)
		}
		return fmt.Errorf("download failed: %w", err)
	}

	output := imageID + imaging.Extension(contentType)
	if len(args) > 1 {
		if info, err := os.Stat(args[1]); err == nil && info.IsDir() {
			output = filepath.Join(args[1], output)
		} else {
			output = args[1]
		}
	}

	if err := moveFile(tmp.Name(), output); err != nil {
		return err
	}
	fmt.Printf("Image downloaded successfully as %s\n", output)
	return nil
}

// moveFile renames src to dst, copying when they are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src) //nolint:gosec // temp file created above
	if err != nil {
		return fmt.Errorf("cannot read downloaded image: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil { //nolint:gosec // user-chosen output file
		return errors.Join(fmt.Errorf("cannot write %s", dst), err)
	}
	return nil
}
