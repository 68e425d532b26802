package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"intakeflow/internal/counties"
	"intakeflow/internal/rules"
	"intakeflow/internal/store"
)

var (
	rulesFirmID string
	rulesJSON   bool
)

func init() {
	runRulesCmd.Flags().StringVar(&rulesFirmID, "firm", "", "firm id for the ownership check")
	runRulesCmd.Flags().BoolVar(&rulesJSON, "json", false, "print the full result as JSON")
}

var runRulesCmd = &cobra.Command{
	Use:   "run-rules [intake-id]",
	Short: "Evaluate the rule catalog against a submitted intake",
	Long: `Evaluates every rule in the configured catalog against the intake's
fields and persists a versioned evaluation record. Re-running under the same
ruleset version returns the existing record without re-evaluating.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Storage.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer s.Close()

		opts := []rules.RunnerOption{rules.WithLogger(logger)}
		if cfg.Rules.CountiesPath != "" {
			table, err := counties.LoadFile(cfg.Rules.CountiesPath)
			if err != nil {
				return fmt.Errorf("load county table: %w", err)
			}
			opts = append(opts, rules.WithCountyTable(table))
		}

		runner := rules.NewRunner(s, s.RuleRuns(), cfg.Rules.CatalogPath, opts...)
		rec, err := runner.Run(cmd.Context(), args[0], rulesFirmID)
		if err != nil {
			return err
		}

		if rulesJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		if rec.Written {
			fmt.Printf("Evaluated intake %s (run %s, v%d)\n", rec.IntakeID, rec.ID, rec.Version)
		} else {
			fmt.Printf("Replayed existing evaluation for intake %s (run %s, v%d)\n", rec.IntakeID, rec.ID, rec.Version)
		}
		fmt.Printf("  ruleset_version: %s\n", rec.RulesetVersion)
		fmt.Printf("  blocks: %d, warnings: %d\n", len(rec.Result.Blocks), len(rec.Result.Warnings))
		if len(rec.Result.RequiredFieldsMissing) > 0 {
			fmt.Printf("  required fields missing: %v\n", rec.Result.RequiredFieldsMissing)
		}
		for _, f := range rec.Result.Blocks {
			fmt.Printf("  BLOCK %s: %s\n", f.RuleID, f.Message)
		}
		for _, f := range rec.Result.Warnings {
			fmt.Printf("  WARN  %s: %s\n", f.RuleID, f.Message)
		}
		for path, n := range rec.Result.Normalizations {
			fmt.Printf("  normalized %s: %q -> %q (%s)\n", path, n.RawValue, n.Normalized, n.MatchStrategy)
		}
		return nil
	},
}
