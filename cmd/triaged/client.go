package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// serverURL is the base URL of a running triaged daemon.
var serverURL string

var (
	flagTopK      int
	flagService   string
	flagErrorCode string
	flagEnv       string
	flagKeyword   string
	flagNotify    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "triaged server URL")

	for _, cmd := range []*cobra.Command{searchCmd, runCmd} {
		cmd.Flags().IntVar(&flagTopK, "top-k", 5, "number of candidates to retrieve")
		cmd.Flags().StringVar(&flagService, "service", "", "filter by service")
		cmd.Flags().StringVar(&flagErrorCode, "error-code", "", "filter by error code")
		cmd.Flags().StringVar(&flagEnv, "env", "", "filter by environment")
		cmd.Flags().StringVar(&flagKeyword, "keyword", "", "filter by keyword")
	}
	runCmd.Flags().BoolVar(&flagNotify, "notify", false, "post the plan to the configured webhook")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		body, err := apiGet("/health")
		if err != nil {
			return err
		}
		cmd.Println(string(body))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <incident text>",
	Short: "Retrieve similar historical incidents without planning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost("/api/v1/search", map[string]any{
			"text":   args[0],
			"top_k":  flagTopK,
			"filter": filterPayload(),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, body)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <incident text>",
	Short: "Triage an incident end to end",
	Long: `Submit an incident for the full pipeline: retrieval, plan generation,
confidence gating, and audit recording. Prints the recorded run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost("/api/v1/run", map[string]any{
			"text":   args[0],
			"top_k":  flagTopK,
			"filter": filterPayload(),
			"notify": flagNotify,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, body)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Replay a recorded run against the current index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := apiPost(fmt.Sprintf("/api/v1/runs/%s/replay", args[0]), nil)
		if err != nil {
			return err
		}
		return printJSON(cmd, body)
	},
}

func filterPayload() map[string]string {
	filter := map[string]string{}
	if flagService != "" {
		filter["service"] = flagService
	}
	if flagErrorCode != "" {
		filter["error_code"] = flagErrorCode
	}
	if flagEnv != "" {
		filter["env"] = flagEnv
	}
	if flagKeyword != "" {
		filter["keyword"] = flagKeyword
	}
	return filter
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

func apiGet(path string) ([]byte, error) {
	resp, err := httpClient().Get(serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func apiPost(path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func printJSON(cmd *cobra.Command, raw []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		cmd.Println(string(raw))
		return nil
	}
	cmd.Println(pretty.String())
	return nil
}
