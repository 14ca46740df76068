package cmd

import (
	"fmt"
	"strings"

	"chronicle/detect"

	"github.com/spf13/cobra"
)

func newPresetsCmd(opts *rootOptions) *cobra.Command {
	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "Inspect built-in rule presets",
	}

	presetsCmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List presets and the message types they cover",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := detect.Presets()
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, presets)
			}

			printHeader(out, "PRESETS", 100)
			fmt.Fprintf(out, "%-20s %-25s %s\n", "ID", "Name", "Description")
			fmt.Fprintln(out, strings.Repeat("-", 100))
			for _, p := range presets {
				fmt.Fprintf(out, "%-20s %-25s %s\n", p.ID, truncate(p.Name, 24), p.Description)
				for _, event := range p.Events {
					infoColor.Fprintf(out, "%-20s   %s\n", "", event)
				}
			}
			return nil
		},
	})

	return presetsCmd
}
