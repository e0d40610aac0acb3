package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	authEmail    string
	authPassword string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new account and print a bearer token",
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and print a bearer token",
	RunE:  runLogin,
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "account email")
		c.Flags().StringVar(&authPassword, "password", "", "account password")
		c.MarkFlagRequired("email")
		c.MarkFlagRequired("password")
	}
	rootCmd.AddCommand(registerCmd, loginCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	return postAuth("/auth/register", http.StatusCreated)
}

func runLogin(cmd *cobra.Command, args []string) error {
	return postAuth("/auth/login", http.StatusOK)
}

func postAuth(path string, wantStatus int) error {
	body, _ := json.Marshal(map[string]string{"email": authEmail, "password": authPassword})

	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Logged in as %s (%s)\n", out.User.Email, out.User.ID)
	fmt.Printf("Token: %s\n", out.Token)
	return nil
}
