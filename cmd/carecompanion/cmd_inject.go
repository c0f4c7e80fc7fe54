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
	injectCmd.Flags().String("user", "", "user id (required)")
	injectCmd.Flags().String("type", "", "reading type: health, safety, reminder, social (required)")
	injectCmd.Flags().String("data", "{}", "reading payload as JSON")
	_ = injectCmd.MarkFlagRequired("user")
	_ = injectCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(injectCmd)
}

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Send one reading to a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		typ, _ := cmd.Flags().GetString("type")
		data, _ := cmd.Flags().GetString("data")

		var payload json.RawMessage
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("parse --data: %w", err)
		}

		body, err := json.Marshal(map[string]any{
			"type":    typ,
			"user_id": user,
			"data":    payload,
		})
		if err != nil {
			return err
		}

		resp, err := http.Post(baseURL()+"/ingest", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("contact daemon: %w", err)
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		fmt.Fprintf(os.Stdout, "Accepted %s reading for %s\n", typ, user)
		return nil
	},
}
