package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/reenrich"
	"curator/internal/step"
)

func newReenrichCommand(ctx *commandContext) *cobra.Command {
	var stepName string
	var actor string

	cmd := &cobra.Command{
		Use:   "reenrich <itemID>",
		Short: "Send a settled item back through enrichment",
		Long: "Cancels any active run for the item, resets its retry bookkeeping, and " +
			"routes it back to the pipeline. With --step only that step is re-run and " +
			"the item returns to where its current phase dictates.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				controller := reenrich.New(e.store, e.engine, e.logger)

				if stepName == "" {
					item, err := controller.Reenrich(cmdCtx, itemID, actor)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Item %d requeued for full enrichment (%s)\n",
						item.ID, e.reg.DisplayName(item.StatusCode))
					return nil
				}

				kind, err := step.ParseKind(stepName)
				if err != nil {
					return err
				}
				item, err := controller.ReenrichStep(cmdCtx, itemID, kind, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d requeued for %s (%s)\n",
					item.ID, kind, e.reg.DisplayName(item.StatusCode))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stepName, "step", "", "Re-run only this step (fetch, filter, summarize, tag, thumbnail)")
	cmd.Flags().StringVar(&actor, "actor", "cli", "Actor recorded in the audit trail")
	return cmd
}
