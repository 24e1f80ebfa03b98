package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/face-finder/internal/client"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "face-finder",
	Short: "Find photos of a person by their face",
	Long: `Face Finder stores uploaded event photos together with the face embeddings
found in them, and answers "which photos contain this face" queries.

Run "face-finder serve" to start the HTTP API. The ingest, search, download
and stats commands are clients of a running server.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Face Finder server URL (default $FACE_FINDER_URL or "+client.DefaultURL+")")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig() *config.Config {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg
}

// newClient creates an API client for the configured server.
func newClient() (*client.Client, error) {
	url := serverURL
	if url == "" {
		url = os.Getenv("FACE_FINDER_URL")
	}
	cfg := config.Load()
	return client.New(url, cfg.Server.RequestTimeout)
}
