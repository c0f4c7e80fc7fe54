package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	resolveEmergencyCmd.Flags().String("id", "", "emergency id (defaults to the active emergency)")
	resolveEmergencyCmd.Flags().String("resolution", "", "resolution note")
	resolveCmd.AddCommand(resolveAlertCmd, resolveEmergencyCmd)
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve alerts and emergencies",
}

var resolveAlertCmd = &cobra.Command{
	Use:   "alert <user-id> <alert-id>",
	Short: "Resolve one alert on a user's context",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/users/%s/alerts/%s/resolve", args[0], args[1])
		return apiPost(path, nil)
	},
}

var resolveEmergencyCmd = &cobra.Command{
	Use:   "emergency <user-id>",
	Short: "Resolve a user's emergency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		resolution, _ := cmd.Flags().GetString("resolution")

		body := map[string]string{
			"emergency_id": id,
			"resolution":   resolution,
		}
		path := fmt.Sprintf("/api/users/%s/emergency/resolve", args[0])
		return apiPost(path, body)
	},
}

func apiPost(path string, body any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	resp, err := http.Post(baseURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err == nil && result.Message != "" {
		fmt.Fprintln(os.Stdout, result.Message)
	} else {
		fmt.Fprintln(os.Stdout, "Resolved.")
	}
	return nil
}
