// Package cmd provides the command-line interface for Chronicle.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// options shared by every subcommand
type rootOptions struct {
	outputJSON bool
	configFile string
	noColor    bool
}

// NewRootCmd creates the chronicle command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Alert rule evaluation for activity logs",
		Long: `Chronicle evaluates logged activity events against alert rules and
notifies the destinations attached to the rules that match.

Run "chronicle serve" to start the service, or use the rules commands to
check rule files offline.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newRulesCmd(opts))
	rootCmd.AddCommand(newPresetsCmd(opts))
	rootCmd.AddCommand(newTokenCmd(opts))

	return rootCmd
}

// outputAsJSON writes v as indented JSON
func outputAsJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func printHeader(w io.Writer, title string, width int) {
	headerColor.Fprintln(w, title)
	headerColor.Fprintln(w, strings.Repeat("=", width))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
