package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"reverie/internal/api"
	"reverie/internal/preflight"
)

// offlineStatus is printed as JSON when no daemon answers.
type offlineStatus struct {
	Running bool              `json:"running"`
	Checks  []api.CheckStatus `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, check and workflow status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				if !api.IsAPIUnavailable(err) {
					return err
				}
				return renderOfflineStatus(cmd, ctx)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
}

// renderOfflineStatus runs the preflight checks locally so a stopped daemon
// still reports whether it could start.
func renderOfflineStatus(cmd *cobra.Command, ctx *commandContext) error {
	results := preflight.RunAll(cmd.Context(), ctx.configValue())
	checks := make([]api.CheckStatus, 0, len(results))
	for _, r := range results {
		checks = append(checks, api.CheckStatus{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, offlineStatus{Running: false, Checks: checks})
	}
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	printSection(stdout, "Daemon", colorize)
	fmt.Fprintln(stdout, renderStatusLine("Reverie", statusError, "Not running", colorize))
	fmt.Fprintln(stdout)
	printSection(stdout, "Checks", colorize)
	renderChecks(stdout, checks, colorize)
	return nil
}

func renderDaemonStatus(w io.Writer, status api.DaemonStatus, colorize bool) {
	printSection(w, "Daemon", colorize)
	fmt.Fprintln(w, renderStatusLine("Reverie", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
	fmt.Fprintln(w, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(w, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
	wfKind, wfDetail := statusOK, "Running"
	if !status.Workflow.Running {
		wfKind, wfDetail = statusWarn, "Stopped"
	}
	if status.Workflow.LastError != "" {
		wfKind, wfDetail = statusWarn, status.Workflow.LastError
	}
	fmt.Fprintln(w, renderStatusLine("Workflow", wfKind, wfDetail, colorize))
	fmt.Fprintln(w)

	printSection(w, "Checks", colorize)
	renderChecks(w, status.Checks, colorize)
	fmt.Fprintln(w)

	printSection(w, "Lanes", colorize)
	if len(status.Workflow.Lanes) == 0 {
		fmt.Fprintln(w, "No lanes have run yet")
	} else {
		rows := make([][]string, 0, len(status.Workflow.Lanes))
		for _, lane := range status.Workflow.Lanes {
			rows = append(rows, []string{lane.Name, lane.LastRun, strconv.Itoa(lane.Processed), lane.LastError})
		}
		fmt.Fprint(w, renderTable([]string{"Lane", "Last run", "Processed", "Last error"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	}
	fmt.Fprintln(w)

	printSection(w, fmt.Sprintf("Work (%d dreams)", status.Workflow.Dreams), colorize)
	rows := countRows(status.Workflow.Counts)
	if len(rows) == 0 {
		fmt.Fprintln(w, "Nothing recorded yet")
		return
	}
	fmt.Fprint(w, renderTable([]string{"Kind", "Status", "Count"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight}))
}

func renderChecks(w io.Writer, checks []api.CheckStatus, colorize bool) {
	if len(checks) == 0 {
		fmt.Fprintln(w, "No checks ran")
		return
	}
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(w, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
}

// countRows flattens the per-kind status counts into sorted table rows.
func countRows(counts map[string]map[string]int) [][]string {
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	var rows [][]string
	for _, kind := range kinds {
		statuses := make([]string, 0, len(counts[kind]))
		for status := range counts[kind] {
			statuses = append(statuses, status)
		}
		slices.Sort(statuses)
		for _, status := range statuses {
			rows = append(rows, []string{kind, status, strconv.Itoa(counts[kind][status])})
		}
	}
	return rows
}
