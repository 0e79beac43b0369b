package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/rawgc"
)

func newGCCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var limit int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "gc-raw-storage",
		Short: "Delete raw content whose items have settled and aged out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				return withJobLock(e, func() error {
					blobs, err := e.blobStore()
					if err != nil {
						return err
					}

					gcLimit := limit
					if gcLimit <= 0 {
						gcLimit = e.cfg.GC.BatchLimit
					}
					collector := rawgc.New(e.store, blobs, e.logger)
					result, err := collector.Collect(cmdCtx, rawgc.Options{
						Retention: time.Duration(e.cfg.GC.RetentionDays) * 24 * time.Hour,
						Limit:     gcLimit,
						DryRun:    dryRun,
					})
					if err != nil {
						return err
					}

					out := cmd.OutOrStdout()
					if dryRun {
						for _, candidate := range result.Candidates {
							fmt.Fprintf(out, "would delete %s (item %d)\n", candidate.RawRef, candidate.ItemID)
						}
						fmt.Fprintf(out, "Dry run: %d ref(s) eligible\n", result.Deleted)
						return nil
					}

					if verbose {
						failed := make(map[string]bool, len(result.FailedRefs))
						for _, ref := range result.FailedRefs {
							failed[ref] = true
						}
						for _, candidate := range result.Candidates {
							verdict := "deleted"
							if failed[candidate.RawRef] {
								verdict = "failed"
							}
							fmt.Fprintf(out, "%s %s (item %d)\n", verdict, candidate.RawRef, candidate.ItemID)
						}
					}
					fmt.Fprintf(out, "Deleted %d ref(s), %d failure(s)\n", result.Deleted, result.Failed)
					if result.Failed > 0 {
						return fmt.Errorf("%d deletion(s) failed", result.Failed)
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report eligible refs without deleting")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum refs to delete in one pass (default from config)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print one line per deleted ref")
	return cmd
}
