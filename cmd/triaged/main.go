// Triaged is an incident triage daemon: it retrieves similar historical
// incidents for an alert, asks an LLM for a remediation plan, gates the
// plan on confidence, and records every run for audit and replay.
//
// Usage:
//
//	# Start the daemon with defaults
//	triaged serve
//
//	# Configure via file and environment
//	triaged serve --config triaged.yaml
//	SERVER_HTTP_PORT=9280 triaged serve
//
//	# Talk to a running daemon
//	triaged search "AUTH-500 after login" --service auth
//	triaged run "AUTH-500 after login" --notify
//	triaged replay run_3f2a...
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triaged",
	Short: "Incident triage daemon with auditable plan generation",
	Long: `triaged ingests historical incident tickets and runbooks, retrieves the
closest matches for an incoming alert, asks an LLM for a remediation plan,
and gates the result on confidence: auto_fix, needs_human, or discard.
Every completed run is recorded and can be replayed later.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show detailed version information",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("triaged %s\ncommit: %s\nbuilt: %s\n", version, gitCommit, buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
}
