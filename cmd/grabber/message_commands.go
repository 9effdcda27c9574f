package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"grabber/internal/api"
	"grabber/internal/downloads"
	"grabber/internal/messages"
	"grabber/internal/siteloader"
)

func newMessageCommands(ctx *commandContext) []*cobra.Command {
	triggerCmd := &cobra.Command{
		Use:   "trigger [initiator.json|-]",
		Short: "Queue a film or a range of episodes (toggles off a movie that is still downloading)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := "-"
			if len(args) == 1 {
				source = args[0]
			}
			initiator, err := readInitiator(cmd.InOrStdin(), source)
			if err != nil {
				return err
			}
			var result downloads.TriggerResult
			if err := ctx.send(cmd, messages.TriggerRequest{Initiator: initiator}, &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.Started {
				fmt.Fprintf(out, "Queued load items %s\n", joinIDs(result.LoadItemIDs))
			} else {
				fmt.Fprintf(out, "Movie was downloading; cancelled load items %s\n", joinIDs(result.Cancelled))
			}
			return nil
		},
	}

	stopAllCmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Cancel every active and pending download",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Cancelled []int64 `json:"cancelled"`
			}
			if err := ctx.send(cmd, messages.StopAllDownloadsRequest{}, &result); err != nil {
				return err
			}
			if len(result.Cancelled) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to cancel")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled load items %s\n", joinIDs(result.Cancelled))
			return nil
		},
	}

	var restoreYes, restoreNo bool
	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Answer the restore prompt left by an interrupted run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if restoreYes == restoreNo {
				return errors.New("pass exactly one of --yes or --no")
			}
			var result downloads.StabilizeResult
			if err := ctx.send(cmd, messages.RestoreStateRequest{Permission: restoreYes}, &result); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored: %s\n", joinIDs(result.Restored))
			fmt.Fprintf(out, "Cancelled: %s\n", joinIDs(result.Cancelled))
			return nil
		},
	}
	restoreCmd.Flags().BoolVar(&restoreYes, "yes", false, "Resume the interrupted downloads")
	restoreCmd.Flags().BoolVar(&restoreNo, "no", false, "Cancel the interrupted downloads")

	clearCacheCmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop cached site responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.send(cmd, messages.ClearCacheRequest{}, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}

	var confirmDelete bool
	deleteDataCmd := &cobra.Command{
		Use:   "delete-data",
		Short: "Cancel everything and erase all persisted download state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmDelete {
				return errors.New("delete-data erases every download record; rerun with --yes to confirm")
			}
			var result messages.TeardownResult
			if err := ctx.send(cmd, messages.DeleteExtensionDataRequest{}, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All data deleted (cancelled load items %s)\n", joinIDs(result.Cancelled))
			return nil
		},
	}
	deleteDataCmd.Flags().BoolVar(&confirmDelete, "yes", false, "Confirm the deletion")

	pauseCmd := newPauseCommand(ctx, "pause", "Pause the running transfer of a load item", "Paused",
		func(id int64) messages.Request { return messages.PauseDownloadRequest{LoadItemID: id} })
	resumeCmd := newPauseCommand(ctx, "resume", "Resume the paused transfer of a load item", "Resumed",
		func(id int64) messages.Request { return messages.ResumeDownloadRequest{LoadItemID: id} })

	return []*cobra.Command{triggerCmd, stopAllCmd, restoreCmd, clearCacheCmd, deleteDataCmd, pauseCmd, resumeCmd}
}

func newPauseCommand(ctx *commandContext, use, short, done string, build func(int64) messages.Request) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <load-item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid load item id %q", args[0])
			}
			var result downloads.PauseResult
			if err := ctx.send(cmd, build(id), &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s load item %d (transfer %d)\n", done, result.LoadItemID, result.DownloadID)
			return nil
		},
	}
}

// send posts req and decodes the result payload into dst when dst is non-nil.
func (c *commandContext) send(cmd *cobra.Command, req messages.Request, dst any) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	resp, err := client.Send(cmd.Context(), req)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%s failed: %s", req.Command(), apiErr.Message)
		}
		return c.daemonError(err)
	}
	if dst == nil {
		return nil
	}
	if err := resp.DecodeResult(dst); err != nil {
		return fmt.Errorf("decode %s result: %w", req.Command(), err)
	}
	return nil
}

func readInitiator(stdin io.Reader, source string) (siteloader.Initiator, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return siteloader.Initiator{}, fmt.Errorf("read initiator: %w", err)
	}
	var initiator siteloader.Initiator
	if err := json.Unmarshal(data, &initiator); err != nil {
		return siteloader.Initiator{}, fmt.Errorf("parse initiator: %w", err)
	}
	return initiator, nil
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
