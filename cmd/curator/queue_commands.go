package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/reenrich"
	"curator/internal/status"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued items",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))

	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Queue a URL for enrichment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				code, err := e.reg.Code("to_fetch")
				if err != nil {
					return err
				}
				if existing, err := e.store.GetByURL(cmdCtx, args[0]); err != nil {
					return err
				} else if existing != nil {
					return fmt.Errorf("url already queued as item %d (%s)", existing.ID, e.reg.DisplayName(existing.StatusCode))
				}
				item, err := e.store.Add(cmdCtx, args[0], title, code, "{}")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued item %d\n", item.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Optional display title")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusNames []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				var codes []int
				for _, name := range statusNames {
					code, err := e.reg.Code(name)
					if err != nil {
						return err
					}
					codes = append(codes, code)
				}

				items, err := e.store.List(cmdCtx, codes...)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						item.URL,
						e.reg.DisplayName(item.StatusCode),
						strconv.Itoa(item.FailureCount),
						item.UpdatedAt.Format(time.RFC3339),
					})
				}
				writeTable(cmd.OutOrStdout(), []col{
					{name: "ID", numeric: true},
					{name: "URL"},
					{name: "Status"},
					{name: "Failures", numeric: true},
					{name: "Updated"},
				}, rows)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusNames, "status", "s", nil, "Filter by status name (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <itemID>",
		Short: "Show one item with its runs and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				item, err := e.store.GetByID(cmdCtx, itemID)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("item %d not found", itemID)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Item %d\n", item.ID)
				fmt.Fprintf(out, "  URL:       %s\n", item.URL)
				if item.Title != "" {
					fmt.Fprintf(out, "  Title:     %s\n", item.Title)
				}
				fmt.Fprintf(out, "  Status:    %s (%d)\n", e.reg.DisplayName(item.StatusCode), item.StatusCode)
				fmt.Fprintf(out, "  Failures:  %d\n", item.FailureCount)
				if item.LastFailedStep != "" {
					fmt.Fprintf(out, "  Last fail: %s: %s\n", item.LastFailedStep, item.ErrorMessage)
				}
				if item.RawRef != "" {
					fmt.Fprintf(out, "  Raw ref:   %s\n", item.RawRef)
				}
				if item.StorageDeletedAt != nil {
					fmt.Fprintf(out, "  Raw storage deleted %s (%s)\n",
						item.StorageDeletedAt.Format(time.RFC3339), item.DeletionReason)
				}

				runs, err := e.store.RunsForItem(cmdCtx, item.ID)
				if err != nil {
					return err
				}
				if len(runs) > 0 {
					rows := make([][]string, 0, len(runs))
					for _, run := range runs {
						completed := ""
						if run.CompletedAt != nil {
							completed = run.CompletedAt.Format(time.RFC3339)
						}
						rows = append(rows, []string{run.ID, run.Trigger, run.Status, run.StartedAt.Format(time.RFC3339), completed})
					}
					fmt.Fprintln(out, "Runs")
					writeTable(out, []col{
						{name: "Run"},
						{name: "Trigger"},
						{name: "Status"},
						{name: "Started"},
						{name: "Completed"},
					}, rows)
				}

				transitions, err := e.store.TransitionsForItem(cmdCtx, item.ID)
				if err != nil {
					return err
				}
				if len(transitions) > 0 {
					rows := make([][]string, 0, len(transitions))
					for _, tr := range transitions {
						manual := ""
						if tr.Manual {
							manual = "manual"
						}
						rows = append(rows, []string{
							tr.CreatedAt.Format(time.RFC3339),
							fmt.Sprintf("%s -> %s", e.reg.DisplayName(tr.FromCode), e.reg.DisplayName(tr.ToCode)),
							tr.Actor,
							manual,
							tr.Reason,
						})
					}
					fmt.Fprintln(out, "Transitions")
					writeTable(out, []col{
						{name: "When"},
						{name: "Change"},
						{name: "Actor"},
						{name: "Mode"},
						{name: "Reason"},
					}, rows)
				}
				return nil
			})
		},
	}
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show item counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				stats, err := e.store.Stats(cmdCtx)
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				codes := make([]int, 0, len(stats))
				for code := range stats {
					codes = append(codes, code)
				}
				sort.Ints(codes)

				rows := make([][]string, 0, len(codes))
				for _, code := range codes {
					rows = append(rows, []string{
						strconv.Itoa(code),
						e.reg.DisplayName(code),
						strconv.Itoa(stats[code]),
					})
				}
				writeTable(cmd.OutOrStdout(), []col{
					{name: "Code", numeric: true},
					{name: "Status"},
					{name: "Count", numeric: true},
				}, rows)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <itemID...>",
		Short: "Requeue failed items for enrichment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				controller := reenrich.New(e.store, e.engine, e.logger)
				out := cmd.OutOrStdout()

				retried := 0
				for _, arg := range args {
					id, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid item id %q", arg)
					}
					item, err := e.store.GetByID(cmdCtx, id)
					if err != nil {
						return err
					}
					if item == nil {
						fmt.Fprintf(out, "Item %d not found\n", id)
						continue
					}
					if !status.IsTerminal(item.StatusCode) {
						fmt.Fprintf(out, "Item %d is not in a terminal state (%s)\n", id, e.reg.DisplayName(item.StatusCode))
						continue
					}
					if _, err := controller.Retry(cmdCtx, id, "cli"); err != nil {
						fmt.Fprintf(out, "Item %d retry failed: %v\n", id, err)
						continue
					}
					retried++
					fmt.Fprintf(out, "Item %d requeued\n", id)
				}
				fmt.Fprintf(out, "Retried %d item(s)\n", retried)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <itemID>",
		Short: "Delete an item and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				removed, err := e.store.Remove(cmdCtx, itemID)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("item %d not found", itemID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed item %d\n", itemID)
				return nil
			})
		},
	}
}
