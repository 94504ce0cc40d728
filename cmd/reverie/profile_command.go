package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"reverie/internal/api"
)

func newProfileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <user-id>",
		Short: "Show a user's dream counters and archetype",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				prof, err := client.GetProfile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, prof)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				printSection(stdout, "Profile "+prof.UserID, colorize)
				fmt.Fprintln(stdout, renderStatusLine("Dreams", statusInfo, strconv.Itoa(prof.DreamCount), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Recorded", statusInfo, fmt.Sprintf("%.0fs", prof.TotalDurationSeconds), colorize))
				if prof.LastDreamAt != "" {
					fmt.Fprintln(stdout, renderStatusLine("Last dream", statusInfo, prof.LastDreamAt, colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Archetype", statusOK,
					fmt.Sprintf("%s (confidence %.3f)", prof.Archetype, prof.Confidence), colorize))

				rows := keywordRows(prof.ThemeKeywords)
				if len(rows) > 0 {
					fmt.Fprintln(stdout)
					fmt.Fprint(stdout, renderTable([]string{"Theme", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				}
				return nil
			})
		},
	}
}

// keywordRows orders themes by count, then by name.
func keywordRows(keywords map[string]int) [][]string {
	names := make([]string, 0, len(keywords))
	for name := range keywords {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if keywords[a] != keywords[b] {
			return keywords[b] - keywords[a]
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(keywords[name])})
	}
	return rows
}
