package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type statsResponse struct {
	Evaluation struct {
		TotalEvaluations float64 `json:"total_evaluations"`
		AverageQuality   float64 `json:"average_quality"`
		SuccessRate      float64 `json:"success_rate"`
	} `json:"evaluation"`
	Fallback struct {
		TotalAttempts int     `json:"total_attempts"`
		SuccessRate   float64 `json:"success_rate"`
		FallbackRate  float64 `json:"fallback_rate"`
	} `json:"fallback"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate evaluation statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats statsResponse
		if err := getJSON("/v1/stats", &stats); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Printf("Evaluations: %.0f  avg quality %.3f  success rate %.1f%%\n",
			stats.Evaluation.TotalEvaluations,
			stats.Evaluation.AverageQuality,
			stats.Evaluation.SuccessRate*100)
		fmt.Printf("Providers:   %d attempts  success rate %.1f%%  fallback rate %.1f%%\n",
			stats.Fallback.TotalAttempts,
			stats.Fallback.SuccessRate*100,
			stats.Fallback.FallbackRate*100)
		return nil
	},
}

type comparisonRow struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	AvgQuality  float64 `json:"avg_quality"`
	AvgCost     float64 `json:"avg_cost"`
	AvgLatency  float64 `json:"avg_latency_ms"`
	SuccessRate float64 `json:"success_rate"`
	Samples     float64 `json:"samples"`
}

var compareCmd = &cobra.Command{
	Use:   "compare provider/model [provider/model...]",
	Short: "Rank provider/model pairs by learned quality",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		type pair struct {
			Provider string `json:"provider"`
			Model    string `json:"model"`
		}
		pairs := make([]pair, 0, len(args))
		for _, arg := range args {
			parts := strings.SplitN(arg, "/", 2)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return fmt.Errorf("invalid pair %q, expected provider/model", arg)
			}
			pairs = append(pairs, pair{Provider: parts[0], Model: parts[1]})
		}

		var rows []comparisonRow
		if err := doJSON("POST", "/v1/providers/compare", map[string]any{"pairs": pairs}, &rows); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rows)
		}
		for i, row := range rows {
			fmt.Printf("%d. %s/%s  quality %.3f  cost %.4f  latency %.0fms  success %.1f%%  (%.0f samples)\n",
				i+1, row.Provider, row.Model,
				row.AvgQuality, row.AvgCost, row.AvgLatency,
				row.SuccessRate*100, row.Samples)
		}
		return nil
	},
}

type healthRow struct {
	Provider  string        `json:"provider"`
	Enabled   bool          `json:"enabled"`
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		var rows []healthRow
		if err := getJSON("/v1/providers/health", &rows); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rows)
		}
		for _, row := range rows {
			state := "DOWN"
			if row.Available {
				state = "UP"
			}
			suffix := ""
			if !row.Enabled {
				suffix = " (disabled)"
			}
			fmt.Printf("%-12s %-4s %v%s\n", row.Provider, state, row.Latency.Round(time.Millisecond), suffix)
		}
		return nil
	},
}

type attemptRow struct {
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the fallback attempt history",
	RunE: func(cmd *cobra.Command, args []string) error {
		clear, _ := cmd.Flags().GetBool("clear")
		if clear {
			if err := doJSON("DELETE", "/v1/history", nil, nil); err != nil {
				return err
			}
			fmt.Println("History cleared.")
			return nil
		}

		providerFilter, _ := cmd.Flags().GetString("provider")
		path := "/v1/history"
		if providerFilter != "" {
			path += "?provider=" + url.QueryEscape(providerFilter)
		}

		var rows []attemptRow
		if err := getJSON(path, &rows); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rows)
		}
		for _, row := range rows {
			outcome := "fail"
			if row.Success {
				outcome = "ok"
			}
			fmt.Printf("%s  %-12s %-4s %v\n",
				row.Timestamp.Format(time.RFC3339), row.Provider, outcome,
				row.Duration.Round(time.Millisecond))
		}
		return nil
	},
}

var forgettingCmd = &cobra.Command{
	Use:   "forgetting",
	Short: "Check one provider/model/domain bucket for quality regression",
	RunE: func(cmd *cobra.Command, args []string) error {
		prov, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		dom, _ := cmd.Flags().GetString("domain")
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		if prov == "" || model == "" || dom == "" {
			return fmt.Errorf("--provider, --model and --domain are required")
		}

		query := url.Values{}
		query.Set("provider", prov)
		query.Set("model", model)
		query.Set("domain", dom)
		if threshold > 0 {
			query.Set("threshold", fmt.Sprintf("%g", threshold))
		}

		var result struct {
			Detected bool `json:"detected"`
		}
		if err := getJSON("/v1/providers/forgetting?"+query.Encode(), &result); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(result)
		}
		if result.Detected {
			fmt.Printf("Quality regression detected for %s/%s on %s.\n", prov, model, dom)
		} else {
			fmt.Printf("No regression for %s/%s on %s.\n", prov, model, dom)
		}
		return nil
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List retained performance store snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		var rows []struct {
			Version   uint64    `json:"version"`
			Timestamp time.Time `json:"timestamp"`
			Checksum  string    `json:"checksum"`
			Buckets   int       `json:"buckets"`
		}
		if err := getJSON("/v1/store/versions", &rows); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(rows)
		}
		for _, row := range rows {
			fmt.Printf("v%-4d %s  %d buckets  %s\n",
				row.Version, row.Timestamp.Format(time.RFC3339), row.Buckets, row.Checksum[:12])
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringP("provider", "p", "", "filter by provider name")
	historyCmd.Flags().Bool("clear", false, "clear the history instead of listing it")

	forgettingCmd.Flags().StringP("provider", "p", "", "provider name")
	forgettingCmd.Flags().StringP("model", "m", "", "model name")
	forgettingCmd.Flags().StringP("domain", "d", "", "query domain (code, creative, reasoning, analysis, general)")
	forgettingCmd.Flags().Float64P("threshold", "t", 0, "confidence interval width threshold (0 = server default)")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(forgettingCmd)
	rootCmd.AddCommand(versionsCmd)
}
