// previewd is a multi-tenant chat-to-webapp backend: one sandbox per
// user, a conversational coding agent per session, and an SSE stream of
// the agent's tool activity.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "previewd",
	Short: "previewd - chat your way to a running webapp",
	Long: `previewd turns a chat conversation into a running webapp, one sandbox
per user.

  previewd serve                 Start the API server
  previewd status <session-id>   Check a session's status
  previewd watch <session-id>    Tail a session's live event stream`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PREVIEWD_SERVER", "http://localhost:8080"), "previewd server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
