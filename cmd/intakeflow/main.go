// intakeflow runs the legal intake pipelines: deterministic rule evaluation
// against a declarative catalog, and the LLM task sequence that enriches a
// submitted intake for human review.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"intakeflow/internal/config"
	"intakeflow/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "intakeflow",
	Short: "Legal intake rule evaluation and AI review pipelines",
	Long: `intakeflow processes submitted legal intakes in two stages.

The rule engine evaluates a declarative JSON catalog against the intake's
fields, producing blocking findings, warnings, normalizations, and a full
per-rule trace, persisted as a versioned record per ruleset version.

The AI orchestrator then runs a fixed sequence of LLM tasks over the intake
and its rule result (extraction, flag scans, consistency, county mentions,
document classification, reviewer summary), with evidence-gated validation,
content-hash idempotency, and a monthly budget ceiling.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "intakeflow.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(validateCatalogCmd)
	rootCmd.AddCommand(watchCatalogCmd)
	rootCmd.AddCommand(runRulesCmd)
	rootCmd.AddCommand(runAICmd)
	rootCmd.AddCommand(seedIntakeCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(flagsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
