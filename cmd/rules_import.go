package cmd

import (
	"context"
	"fmt"
	"time"

	"chronicle/bootstrap"
	"chronicle/detect"
	"chronicle/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const importTimeout = 2 * time.Minute

type importSummary struct {
	File         string `json:"file"`
	Database     string `json:"database"`
	Rules        int    `json:"rules"`
	Destinations int    `json:"destinations"`
}

func newRulesImportCmd(opts *rootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a rules file into the rule store",
		Long: `Upsert the rules and destinations of a JSON or YAML rules file into the
SQLite rule store. Existing entries with the same id are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), importTimeout)
			defer cancel()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DataPaths.SQLitePath = dbPath
			}

			doc, err := detect.LoadRulesFile(args[0], nil)
			if err != nil {
				return err
			}

			sugar := zap.NewNop().Sugar()
			dirs := bootstrap.DataDirectoriesFromConfig(cfg)
			if err := bootstrap.EnsureDataDirectories(dirs, sugar); err != nil {
				return err
			}
			sqlite, err := bootstrap.InitSQLite(dirs, sugar)
			if err != nil {
				return err
			}
			defer sqlite.Close()

			var s *spinner.Spinner
			if !opts.outputJSON {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Importing rules..."
				s.Start()
			}

			err = storage.NewSQLiteAlertRuleStorage(sqlite, sugar).ImportRules(ctx, doc)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("failed to import rules: %w", err)
			}

			summary := importSummary{
				File:         args[0],
				Database:     dirs.SQLite,
				Rules:        len(doc.Rules),
				Destinations: len(doc.Destinations),
			}
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, summary)
			}
			successColor.Fprintf(out, "✓ Imported %d rule(s) and %d destination(s)\n", summary.Rules, summary.Destinations)
			infoColor.Fprintf(out, "  into %s\n", summary.Database)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default: data_paths.sqlite_path)")

	return cmd
}
