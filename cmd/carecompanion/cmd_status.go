package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var serverAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "base URL of a running daemon (default derived from config)")
	rootCmd.AddCommand(statusCmd)
}

// baseURL resolves the daemon address from the flag or the configured
// listen address.
func baseURL() string {
	if serverAddr != "" {
		return strings.TrimSuffix(serverAddr, "/")
	}
	listen := loadConfig().ListenAddr
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

func apiGet(path string, out any) error {
	resp, err := http.Get(baseURL() + path)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

var statusCmd = &cobra.Command{
	Use:   "status [user-id]",
	Short: "Show system status, or one user's status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return printUserStatus(args[0])
		}
		return printSystemStatus()
	},
}

func printSystemStatus() error {
	var status struct {
		ActiveUsers       int             `json:"active_users"`
		ActiveAlerts      int             `json:"active_alerts"`
		ActiveEmergencies int             `json:"active_emergencies"`
		UserStatusCounts  map[string]int  `json:"user_status_counts"`
		AgentsStatus      map[string]bool `json:"agents_status"`
		Uptime            string          `json:"uptime"`
	}
	if err := apiGet("/api/system", &status); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Uptime:             %s\n", status.Uptime)
	fmt.Fprintf(os.Stdout, "Active users:       %d\n", status.ActiveUsers)
	fmt.Fprintf(os.Stdout, "Active alerts:      %d\n", status.ActiveAlerts)
	fmt.Fprintf(os.Stdout, "Active emergencies: %d\n", status.ActiveEmergencies)

	fmt.Fprintln(os.Stdout, "\nUsers by status:")
	counts := make([]string, 0, len(status.UserStatusCounts))
	for k := range status.UserStatusCounts {
		counts = append(counts, k)
	}
	sort.Strings(counts)
	for _, k := range counts {
		fmt.Fprintf(os.Stdout, "  %-10s %d\n", k, status.UserStatusCounts[k])
	}

	fmt.Fprintln(os.Stdout, "\nAgents:")
	agents := make([]string, 0, len(status.AgentsStatus))
	for k := range status.AgentsStatus {
		agents = append(agents, k)
	}
	sort.Strings(agents)
	for _, k := range agents {
		state := "down"
		if status.AgentsStatus[k] {
			state = "up"
		}
		fmt.Fprintf(os.Stdout, "  %-20s %s\n", k, state)
	}
	return nil
}

func printUserStatus(user string) error {
	var report struct {
		Context struct {
			OverallStatus   string `json:"overall_status"`
			HealthStatus    string `json:"health_status"`
			SafetyStatus    string `json:"safety_status"`
			ReminderStatus  string `json:"reminder_status"`
			SocialStatus    string `json:"social_status"`
			EmergencyStatus string `json:"emergency_status"`
			Location        string `json:"location"`
			Activity        string `json:"activity"`
			Alerts          []struct {
				ID      string `json:"id"`
				Type    string `json:"type"`
				Level   string `json:"level"`
				Message string `json:"message"`
			} `json:"alerts"`
		} `json:"context"`
		Summary string `json:"summary"`
	}
	if err := apiGet("/api/users/"+user+"/status", &report); err != nil {
		return err
	}

	c := report.Context
	fmt.Fprintf(os.Stdout, "Overall:   %s\n", c.OverallStatus)
	fmt.Fprintf(os.Stdout, "Health:    %s\n", c.HealthStatus)
	fmt.Fprintf(os.Stdout, "Safety:    %s\n", c.SafetyStatus)
	fmt.Fprintf(os.Stdout, "Reminders: %s\n", c.ReminderStatus)
	fmt.Fprintf(os.Stdout, "Social:    %s\n", c.SocialStatus)
	fmt.Fprintf(os.Stdout, "Emergency: %s\n", c.EmergencyStatus)
	if c.Location != "" {
		fmt.Fprintf(os.Stdout, "Location:  %s (%s)\n", c.Location, c.Activity)
	}
	if len(c.Alerts) > 0 {
		fmt.Fprintln(os.Stdout, "\nAlerts:")
		for _, al := range c.Alerts {
			fmt.Fprintf(os.Stdout, "  [%s] %s: %s (%s)\n", al.Level, al.Type, al.Message, al.ID)
		}
	}
	if report.Summary != "" {
		fmt.Fprintf(os.Stdout, "\n%s\n", report.Summary)
	}
	return nil
}
