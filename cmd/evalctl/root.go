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

var (
	serverURL  string
	jsonOutput bool
	httpClient = &http.Client{Timeout: 15 * time.Second}
)

var rootCmd = &cobra.Command{
	Use:   "evalctl",
	Short: "Provider evaluation orchestrator CLI",
	Long: `evalctl inspects a running eval-orchestrator instance.

Example usage:
  evalctl stats                          # Aggregate evaluation statistics
  evalctl health                         # Probe every configured provider
  evalctl compare ollama/llama3 openai/gpt-4o-mini
  evalctl history --provider primary     # Fallback attempt history
  evalctl forgetting -p ollama -m llama3 -d code`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:9020", "orchestrator base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "raw JSON output")
}

// getJSON fetches path and decodes the response into out. A non-2xx status
// is returned as an error carrying the body.
func getJSON(path string, out any) error {
	return doJSON(http.MethodGet, path, nil, out)
}

func doJSON(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// printJSON pretty-prints v to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
