package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"grabber/internal/api"
	"grabber/internal/daemonrun"
	"grabber/internal/preflight"
	"grabber/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var runChecks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, the download queue and any restore prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, statusErr := client.Status(cmd.Context())
			var checks []preflight.Result
			if runChecks {
				checks = preflight.RunAll(cmd.Context(), cfg)
			}

			if jsonOutput {
				payload := map[string]any{"checks": checks}
				if statusErr == nil {
					payload["status"] = status
				} else {
					payload["error"] = ctx.daemonError(statusErr).Error()
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if statusErr != nil {
				writeLines(out, renderSectionHeader("Daemon", colorize))
				message := "Not running"
				if pid := daemonrun.ReadPID(cfg); pid > 0 {
					message = fmt.Sprintf("Not reachable (pid file names %d)", pid)
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", statusError, message, colorize))
				fmt.Fprintln(out, renderStatusLine("API", statusInfo, ctx.apiAddress(), colorize))
			} else {
				writeLines(out, renderStatus(status, colorize))
			}
			if runChecks {
				fmt.Fprintln(out)
				writeLines(out, renderChecks(checks, colorize))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&runChecks, "check", false, "Also run the preflight checks")
	return cmd
}

func renderStatus(status api.StatusResponse, colorize bool) []string {
	rt := status.Runtime
	lines := renderSectionHeader("Daemon", colorize)
	if rt.Running {
		detail := fmt.Sprintf("pid %d", rt.PID)
		if !rt.StartedAt.IsZero() {
			detail += fmt.Sprintf(", up %s", time.Since(rt.StartedAt).Truncate(time.Second))
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Stopped", colorize))
	}
	lines = append(lines,
		renderStatusLine("Queue database", statusInfo, rt.QueueDBPath, colorize),
		renderStatusLine("Download directory", statusInfo, rt.DownloadDir, colorize),
		"",
	)

	view := status.Downloads
	lines = append(lines, renderSectionHeader("Downloads", colorize)...)
	lines = append(lines, renderStatusLine("Active", statusInfo, joinIDs(view.Active), colorize))
	pending := make([]string, 0, len(view.Pending))
	for _, group := range view.Pending {
		label := joinIDs(group.LoadItemIDs)
		if group.Batch {
			label = "[" + label + "]"
		}
		pending = append(pending, label)
	}
	if len(pending) == 0 {
		pending = append(pending, "none")
	}
	lines = append(lines, renderStatusLine("Pending", statusInfo, strings.Join(pending, " "), colorize))
	s := view.Summary
	lines = append(lines, renderStatusLine("Totals", statusInfo, fmt.Sprintf(
		"%d items: %d queued, %d in progress, %d completed, %d failed, %d cancelled",
		s.Total, s.Candidate, s.InProgress, s.Completed, s.Failed, s.Cancelled), colorize))

	if db := view.Database; db != nil {
		lines = append(lines, renderDatabaseLine(*db, colorize))
	}

	if prompt := view.Restore; prompt != nil {
		count := len(prompt.Report.Broken) + len(prompt.Report.Orphans)
		lines = append(lines, renderStatusLine("Restore", statusWarn,
			fmt.Sprintf("%d interrupted downloads; run `grabber restore --yes` or `--no`", count), colorize))
		for _, broken := range prompt.Report.Broken {
			lines = append(lines, fmt.Sprintf("%s  load item %d: %s", statusIndent, broken.LoadItemID, broken.Reason))
		}
	}
	return lines
}

func renderDatabaseLine(db queue.DatabaseHealth, colorize bool) string {
	switch {
	case db.Error != "":
		return renderStatusLine("Database", statusError, db.Error, colorize)
	case !db.DatabaseExists:
		return renderStatusLine("Database", statusWarn, "missing", colorize)
	case !db.IntegrityCheck:
		return renderStatusLine("Database", statusError, "integrity check failed", colorize)
	}
	return renderStatusLine("Database", statusOK, fmt.Sprintf("schema v%d, %d load items, %d files",
		db.SchemaVersion, db.TotalLoadItems, db.TotalFileItems), colorize)
}

func renderChecks(checks []preflight.Result, colorize bool) []string {
	lines := renderSectionHeader("Checks", colorize)
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func writeLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}
