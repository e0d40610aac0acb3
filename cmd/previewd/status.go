package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Get the status of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var statusToken string

func init() {
	statusCmd.Flags().StringVar(&statusToken, "token", envOr("PREVIEWD_TOKEN", ""), "bearer token for the session's owner")
	statusCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	req, err := http.NewRequest(http.MethodGet, serverURL+"/sessions/"+id, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+statusToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var sess struct {
		ID         string `json:"id"`
		SandboxID  string `json:"sandbox_id"`
		PreviewURL string `json:"preview_url"`
		Title      string `json:"title"`
		Status     string `json:"status"`
		CreatedAt  string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Status:   %s\n", statusIcon(sess.Status))
	if sess.Title != "" {
		fmt.Printf("Title:    %s\n", sess.Title)
	}
	fmt.Printf("Sandbox:  %s\n", sess.SandboxID)
	if sess.PreviewURL != "" {
		fmt.Printf("Preview:  %s\n", sess.PreviewURL)
	}
	fmt.Printf("Created:  %s\n", sess.CreatedAt)

	return nil
}

func statusIcon(status string) string {
	switch status {
	case "ready":
		return "✓ ready"
	case "busy":
		return "… busy"
	case "pending", "creating":
		return "… " + status
	case "error":
		return "✗ error"
	case "terminated":
		return "- terminated"
	default:
		return status
	}
}
