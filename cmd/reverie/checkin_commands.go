package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reverie/internal/api"
)

func newCheckInCommand(ctx *commandContext) *cobra.Command {
	checkInCmd := &cobra.Command{
		Use:   "checkin",
		Short: "Submit mood check-ins and read their insights",
	}

	checkInCmd.AddCommand(newCheckInSubmitCommand(ctx))
	checkInCmd.AddCommand(newCheckInShowCommand(ctx))
	checkInCmd.AddCommand(newCheckInRetryCommand(ctx))

	return checkInCmd
}

func newCheckInSubmitCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var moods []string

	cmd := &cobra.Command{
		Use:   "submit <text>",
		Short: "Submit a check-in; its insight is generated in the background",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scores, err := parseMoodScores(moods)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				checkIn, err := client.SubmitCheckIn(cmd.Context(), api.CheckInRequest{
					UserID:     userID,
					Text:       args[0],
					MoodScores: scores,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, checkIn)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted check-in %s (insight %s)\n", checkIn.ID, checkIn.InsightStatus)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "Owner of the check-in")
	cmd.Flags().StringSliceVarP(&moods, "mood", "m", nil, "Mood score as name=value, repeatable")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCheckInShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <checkin-id>",
		Short: "Show a check-in and its insight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				checkIn, err := client.GetCheckIn(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, checkIn)
				}
				renderCheckIn(cmd.OutOrStdout(), checkIn, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func newCheckInRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <checkin-id>",
		Short: "Retry a failed insight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				checkIn, err := client.RetryCheckIn(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, checkIn)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying insight for %s (attempt %d)\n", checkIn.ID, checkIn.RetryCount+1)
				return nil
			})
		},
	}
}

func parseMoodScores(values []string) (map[string]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	scores := make(map[string]float64, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("mood %q must look like name=value", value)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("mood %q: %w", value, err)
		}
		scores[name] = score
	}
	return scores, nil
}

func renderCheckIn(w io.Writer, c api.CheckIn, colorize bool) {
	printSection(w, "Check-in "+c.ID, colorize)
	fmt.Fprintln(w, renderStatusLine("User", statusInfo, c.UserID, colorize))
	if c.CreatedAt != "" {
		fmt.Fprintln(w, renderStatusLine("Created", statusInfo, c.CreatedAt, colorize))
	}
	if len(c.MoodScores) > 0 {
		names := make([]string, 0, len(c.MoodScores))
		for name := range c.MoodScores {
			names = append(names, name)
		}
		slices.Sort(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%.2f", name, c.MoodScores[name]))
		}
		fmt.Fprintln(w, renderStatusLine("Moods", statusInfo, strings.Join(parts, " "), colorize))
	}
	insight := c.InsightStatus
	if c.RetryCount > 0 {
		insight = fmt.Sprintf("%s after %d retries", insight, c.RetryCount)
	}
	fmt.Fprintln(w, renderStatusLine("Insight", stageStatusKind(c.InsightStatus), insight, colorize))
	if c.ErrorMessage != "" {
		fmt.Fprintln(w, renderStatusLine("Error", statusError, c.ErrorMessage, colorize))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Text)
	if c.InsightText != "" {
		fmt.Fprintln(w)
		printSection(w, "Insight", colorize)
		fmt.Fprintln(w, c.InsightText)
	}
}
