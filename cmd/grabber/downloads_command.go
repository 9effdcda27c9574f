package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"grabber/internal/downloads"
	"grabber/internal/queue"
)

func newDownloadsCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "downloads",
		Short: "List load items with their live file and progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(statusFlags))
			for _, value := range statusFlags {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			items, err := client.Downloads(cmd.Context(), statuses...)
			if err != nil {
				return ctx.daemonError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, items)
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No downloads")
				return nil
			}
			fmt.Fprintln(out, renderDownloads(items, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderDownloads(items []downloads.DownloadView, colorize bool) string {
	columns := []tableColumn{
		{Header: "ID", Align: alignRight},
		{Header: "Movie", Align: alignRight},
		{Header: "Episode"},
		{Header: "Status"},
		{Header: "File", MaxWidth: 48},
		{Header: "Progress", Align: alignRight},
		{Header: "Active"},
	}
	rows := make([][]string, 0, len(items))
	for _, view := range items {
		if view.Item == nil {
			continue
		}
		item := view.Item
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			strconv.FormatInt(item.MovieID, 10),
			episodeLabel(item),
			colorText(string(item.Status), phaseKind(item.Status), colorize),
			fileLabel(view),
			progressLabel(view),
			yesNo(view.Active),
		})
	}
	return renderTable(columns, rows)
}

func episodeLabel(item *queue.LoadItem) string {
	if !item.IsSeries() {
		return "film"
	}
	return fmt.Sprintf("s%s e%s", item.Season.ID, item.Episode.ID)
}

func fileLabel(view downloads.DownloadView) string {
	if view.ActiveFile == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", view.ActiveFile.FileName, view.ActiveFile.FileType)
}

func progressLabel(view downloads.DownloadView) string {
	t := view.Transfer
	if t == nil {
		return "-"
	}
	if t.TotalBytes <= 0 {
		return humanize.Bytes(uint64(max(t.BytesReceived, 0)))
	}
	percent := float64(t.BytesReceived) / float64(t.TotalBytes) * 100
	return fmt.Sprintf("%.0f%% of %s", percent, humanize.Bytes(uint64(t.TotalBytes)))
}
