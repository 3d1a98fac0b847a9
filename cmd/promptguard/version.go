package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "PromptGuard %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var healthCheckURL string

// healthCheckCmd checks a running server, for container health checks
var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Check that a running server is healthy",
	Args:  cobra.NoArgs,
	RunE:  runHealthCheck,
}

func init() {
	healthCheckCmd.Flags().StringVar(&healthCheckURL, "url", "", "Health endpoint (default http://localhost:<server.port>/health)")
}

func runHealthCheck(cmd *cobra.Command, _ []string) error {
	url := healthCheckURL
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Health check passed")
	return nil
}
