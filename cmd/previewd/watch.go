package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jxucoder/previewd/internal/devpreview"
)

var watchAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Tail a session's live event stream via the dev watch mirror",
	Long: `watch connects to the WebSocket mirror a server started with
--dev-watch-addr exposes, and prints each event as it's streamed. This is
an alternative to curling /sessions/{id}/sse directly — handy when a
client can't speak SSE.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "watch-addr", envOr("PREVIEWD_WATCH_ADDR", "ws://127.0.0.1:8090"), "dev watch mirror address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	w, err := devpreview.Dial(context.Background(), devpreview.WatchOptions{
		BaseURL:   watchAddr,
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("connecting to watch mirror: %w\nIs the server running with --dev-watch-addr? Start it with: previewd serve --dev-watch-addr %s", err, watchAddr)
	}
	defer w.Close()

	for {
		var frame map[string]any
		if err := w.Next(&frame); err != nil {
			return nil
		}

		kind, _ := frame["event"].(string)
		if kind == "" {
			// The hub's greeting frame carries its kind under "type".
			kind, _ = frame["type"].(string)
		}
		data, _ := frame["data"].(map[string]any)

		switch kind {
		case "connected":
			fmt.Printf("\033[36m[watching]\033[0m session %s\n", sessionID)
		case "token":
			fmt.Print(data["content"])
		case "user_message":
			fmt.Printf("\n%s\n", data["content"])
		case "tool_start":
			if step, ok := data["step"].(map[string]any); ok {
				fmt.Printf("\033[33m[tool]\033[0m %s\n", step["title"])
			}
		case "preview_ready":
			fmt.Printf("\033[32m[preview]\033[0m %s\n", data["url"])
		case "error":
			fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", data["message"])
		case "done":
			if url, _ := data["preview_url"].(string); url != "" {
				fmt.Printf("\n\033[32m✓ done:\033[0m %s\n", url)
			} else {
				fmt.Println("\n✓ done")
			}
			return nil
		default:
			if kind != "" {
				fmt.Printf("[%s] %v\n", kind, data)
			}
		}
	}
}
