// Package main implements the execctl CLI for manual operations against the
// execd HTTP server: submitting execution requests and resolving pending
// approvals.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// serverURL is the base URL for the execd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "execctl",
	Short: "CLI for execd HTTP server operations",
	Long: `execctl is a command-line interface for interacting with the execd daemon.
It submits execution requests and resolves pending approvals.`,
	Version: version,
}

var (
	resumeApprove bool
	resumeDeny    bool
	resumePayload string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8970", "execd server URL")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(healthCmd)

	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "approve the pending execution")
	resumeCmd.Flags().BoolVar(&resumeDeny, "deny", false, "deny the pending execution")
	resumeCmd.Flags().StringVar(&resumePayload, "payload", "", "JSON object of reviewer-modified parameters")
	resumeCmd.MarkFlagsMutuallyExclusive("approve", "deny")
	resumeCmd.MarkFlagsOneRequired("approve", "deny")
}

// runCmd submits an execution request described in a YAML file
var runCmd = &cobra.Command{
	Use:   "run <request.yaml>",
	Short: "Submit an execution request",
	Long: `Submit an execution request described in a YAML file, or from stdin.

The file carries the request fields:

  user_query: what is the beam current?
  task_objective: read the storage ring beam current
  expected_results:
    current: float
  execution_folder_name: beam_current

Examples:
  # Submit a request
  execctl run request.yaml

  # Read the request from stdin
  cat request.yaml | execctl run -

  # Use a different server
  execctl run --server http://localhost:9001 request.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// resumeCmd applies an approval decision to a suspended execution
var resumeCmd = &cobra.Command{
	Use:   "resume <key>",
	Short: "Resolve a pending approval",
	Long: `Apply a reviewer decision to a suspended execution.

Examples:
  # Approve
  execctl resume 6f1d2c3a --approve

  # Approve with modified parameters
  execctl resume 6f1d2c3a --approve --payload '{"setpoint": 2.5}'

  # Deny
  execctl resume 6f1d2c3a --deny`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check execd server health",
	RunE:  runHealth,
}

// executionRequest mirrors internal/model ExecutionRequest for the wire.
type executionRequest struct {
	UserQuery           string            `yaml:"user_query" json:"user_query"`
	TaskObjective       string            `yaml:"task_objective" json:"task_objective"`
	CapabilityPrompts   []string          `yaml:"capability_prompts,omitempty" json:"capability_prompts,omitempty"`
	ExpectedResults     map[string]string `yaml:"expected_results,omitempty" json:"expected_results,omitempty"`
	ExecutionFolderName string            `yaml:"execution_folder_name" json:"execution_folder_name"`
	CapabilityContext   map[string]any    `yaml:"capability_context,omitempty" json:"capability_context,omitempty"`
	Capability          string            `yaml:"capability,omitempty" json:"capability,omitempty"`
}

// runResult mirrors internal/pipeline RunResult.
type runResult struct {
	Status     string         `json:"status"`
	Outcome    map[string]any `json:"outcome,omitempty"`
	ResumeKey  string         `json:"resume_key,omitempty"`
	ErrorChain []string       `json:"error_chain,omitempty"`
}

func runRun(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var req executionRequest
	if err := yaml.Unmarshal(content, &req); err != nil {
		return fmt.Errorf("failed to parse request file: %w", err)
	}
	if req.TaskObjective == "" {
		return fmt.Errorf("task_objective is required")
	}

	result, status, err := postJSON(fmt.Sprintf("%s/api/v1/executions", serverURL), req)
	if err != nil {
		return err
	}

	printResult(result)
	if status == http.StatusAccepted {
		fmt.Fprintf(os.Stderr, "\n[execctl] Approval required. Resolve with:\n")
		fmt.Fprintf(os.Stderr, "  execctl resume %s --approve   # or --deny\n", result.ResumeKey)
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	body := map[string]any{"approved": resumeApprove && !resumeDeny}
	if resumePayload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(resumePayload), &payload); err != nil {
			return fmt.Errorf("failed to parse --payload: %w", err)
		}
		body["payload"] = payload
	}

	url := fmt.Sprintf("%s/api/v1/executions/%s/resume", serverURL, args[0])
	result, _, err := postJSON(url, body)
	if err != nil {
		return err
	}

	printResult(result)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	return nil
}

// postJSON posts the body and decodes the RunResult, tolerating request
// durations up to the server-side execution timeout.
func postJSON(url string, body any) (*runResult, int, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, resp.StatusCode, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return nil, resp.StatusCode, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result runResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, resp.StatusCode, nil
}

func printResult(result *runResult) {
	fmt.Printf("Status: %s\n", result.Status)
	if result.ResumeKey != "" {
		fmt.Printf("Resume Key: %s\n", result.ResumeKey)
	}
	if len(result.ErrorChain) > 0 {
		fmt.Println("Error Chain:")
		for i, entry := range result.ErrorChain {
			fmt.Printf("  %d. %s\n", i+1, entry)
		}
	}
	if result.Outcome != nil {
		out, err := json.MarshalIndent(result.Outcome, "", "  ")
		if err == nil {
			fmt.Printf("Outcome:\n%s\n", out)
		}
	}
}
