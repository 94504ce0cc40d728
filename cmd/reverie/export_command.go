package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reverie/internal/config"
	"reverie/internal/export"
	"reverie/internal/store"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's dreams and check-ins to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(output)
			if target == "" {
				target = fmt.Sprintf("reverie-%s-%s.xlsx", userID, time.Now().Format("20060102"))
			} else if target, err = config.ExpandPath(target); err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			result, err := export.Workbook(cmd.Context(), st, userID, target)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d dreams and %d check-ins to %s\n", result.Dreams, result.CheckIns, result.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to export")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Workbook path (defaults to reverie-<user>-<date>.xlsx)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
