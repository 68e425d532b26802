package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"intakeflow/internal/rules"
)

var validateCatalogCmd = &cobra.Command{
	Use:   "validate-catalog [path]",
	Short: "Validate a rule catalog and report every schema violation",
	Long: `Parses and validates a rule catalog document. Validation is total:
every violation in the document is reported in one pass, addressed by its
JSON path.

Without an argument the configured catalog path is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Rules.CatalogPath
		if len(args) == 1 {
			path = args[0]
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		cat, err := rules.Parse(data, path)
		if err != nil {
			var catErr *rules.CatalogError
			if errors.As(err, &catErr) {
				fmt.Printf("Catalog %s is invalid (%d violations):\n", path, len(catErr.Violations))
				for _, v := range catErr.Violations {
					fmt.Printf("  %s: %s\n", v.Path, v.Message)
				}
				return fmt.Errorf("catalog validation failed")
			}
			return err
		}

		fmt.Printf("Catalog %s is valid\n", path)
		fmt.Printf("  ruleset_version: %s\n", cat.RulesetVersion)
		fmt.Printf("  rules: %d\n", len(cat.Rules))
		return nil
	},
}

var watchCatalogCmd = &cobra.Command{
	Use:   "watch-catalog",
	Short: "Watch the configured catalog file and revalidate on change",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Rules.CatalogPath
		if _, err := rules.Load(path); err != nil {
			logger.Warn("catalog invalid at startup", zap.Error(err))
		} else {
			logger.Info("catalog valid", zap.String("path", path))
		}

		watcher, err := rules.WatchCatalog(path, logger)
		if err != nil {
			return fmt.Errorf("start catalog watcher: %w", err)
		}
		defer watcher.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		fmt.Printf("Watching %s (ctrl-c to stop)\n", path)
		<-sigCh
		return nil
	},
}
