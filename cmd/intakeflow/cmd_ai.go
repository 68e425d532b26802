package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"intakeflow/internal/aitasks"
	"intakeflow/internal/counties"
	"intakeflow/internal/llm"
	"intakeflow/internal/store"
)

var aiJSON bool

func init() {
	runAICmd.Flags().BoolVar(&aiJSON, "json", false, "print the full run record as JSON")
}

// buildLLMClient constructs the configured chat-completion backend. Returns
// nil when no API key is configured; the orchestrator then persists a failed
// run instead of fabricating results.
func buildLLMClient(cmd *cobra.Command) (llm.Client, error) {
	if cfg.LLM.APIKey == "" {
		return nil, nil
	}
	switch cfg.LLM.Provider {
	case "gemini", "":
		return llm.NewGeminiClient(cmd.Context(), cfg.LLM.APIKey, cfg.LLM.Model)
	case "anthropic":
		anthCfg := llm.DefaultAnthropicConfig(cfg.LLM.APIKey)
		if cfg.LLM.Model != "" {
			anthCfg.Model = cfg.LLM.Model
		}
		if cfg.LLM.BaseURL != "" {
			anthCfg.BaseURL = cfg.LLM.BaseURL
		}
		anthCfg.Timeout = cfg.GetLLMTimeout()
		return llm.NewAnthropicClientWithConfig(anthCfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

var runAICmd = &cobra.Command{
	Use:   "run-ai [intake-id] [rule-run-id]",
	Short: "Run the AI task sequence over an intake and its rule evaluation",
	Long: `Runs the fixed LLM task sequence (field extraction, flag scans,
consistency check, county mentions, document classification, reviewer
summary) over the intake and the given rule evaluation run.

Runs are idempotent per content hash of the inputs: repeating the command
with unchanged inputs returns the stored record without spending.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Storage.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer s.Close()

		client, err := buildLLMClient(cmd)
		if err != nil {
			return err
		}
		if client == nil {
			logger.Warn("no LLM API key configured")
		}

		opts := []aitasks.Option{aitasks.WithLogger(logger)}
		if client != nil {
			opts = append(opts, aitasks.WithClient(client, cfg.LLMWrapperConfig()))
		}
		if cfg.Rules.CountiesPath != "" {
			table, err := counties.LoadFile(cfg.Rules.CountiesPath)
			if err != nil {
				return fmt.Errorf("load county table: %w", err)
			}
			opts = append(opts, aitasks.WithCountyTable(table))
		}

		orch := aitasks.New(s, s, s.AIRuns(), s, opts...)
		rec, err := orch.Run(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		if aiJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		fmt.Printf("AI run %s for intake %s: %s\n", rec.Log.RunID, rec.Log.IntakeID, rec.Log.Status)
		ids := make([]string, 0, len(rec.Log.TaskStatuses))
		for id := range rec.Log.TaskStatuses {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("  %-26s %s\n", id, rec.Log.TaskStatuses[aitasks.TaskID(id)])
		}
		fmt.Printf("  extractions: %d, inconsistencies: %d, county mentions: %d\n",
			len(rec.Output.Extractions), len(rec.Output.Inconsistencies), len(rec.Output.CountyMentions))
		present := 0
		for _, flags := range rec.Output.Flags {
			for _, f := range flags {
				if f.FlagPresent {
					present++
				}
			}
		}
		fmt.Printf("  flags raised: %d, review items: %d\n", present, len(rec.Output.ReviewAttention))
		fmt.Printf("  tokens: %d, cost: $%.4f\n", rec.Log.Usage.Total.Total, rec.Log.Usage.Total.CostUSD)

		logger.Info("ai run complete",
			zap.String("run_id", rec.Log.RunID),
			zap.String("status", string(rec.Log.Status)))
		return nil
	},
}
