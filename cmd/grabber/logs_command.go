package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"grabber/internal/api"
	"grabber/internal/logging"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var query api.LogQuery
	query.Limit = 50

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent daemon log events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			follow := query.Follow
			q := query
			q.Follow = false
			q.Tail = true
			for {
				resp, err := client.Logs(cmd.Context(), q)
				if err != nil {
					if errors.Is(err, context.Canceled) || cmd.Context().Err() != nil {
						return nil
					}
					return ctx.daemonError(err)
				}
				for _, evt := range resp.Events {
					fmt.Fprintln(out, formatLogEvent(evt))
				}
				if !follow {
					return nil
				}
				q.Since = resp.Next
				q.Tail = false
				q.Follow = true
			}
		},
	}
	cmd.Flags().BoolVarP(&query.Follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", query.Limit, "Number of events to print")
	cmd.Flags().Int64Var(&query.LoadItem, "item", 0, "Only events for this load item")
	cmd.Flags().StringVar(&query.Component, "component", "", "Only events from this component")
	return cmd
}

func formatLogEvent(evt logging.LogEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", evt.Timestamp.Local().Format("15:04:05"), strings.ToUpper(evt.Level))
	if evt.Component != "" {
		fmt.Fprintf(&b, " [%s]", evt.Component)
	}
	b.WriteString(" ")
	b.WriteString(evt.Message)
	if evt.LoadItemID != 0 {
		fmt.Fprintf(&b, " load_item=%d", evt.LoadItemID)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, evt.Fields[key])
	}
	return b.String()
}
