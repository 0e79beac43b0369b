package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/orchestrator"
	"curator/internal/step"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var skipRejection bool

	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run enrichment batch jobs",
	}
	pipelineCmd.PersistentFlags().IntVar(&limit, "limit", 0, "Maximum items per stage (default from config)")
	pipelineCmd.PersistentFlags().BoolVar(&skipRejection, "skip-rejection", false, "Keep items in the pipeline even when the relevance filter rejects them")

	for _, kind := range step.Kinds() {
		pipelineCmd.AddCommand(newStageCommand(ctx, kind, &limit, &skipRejection))
	}
	pipelineCmd.AddCommand(newEnrichCommand(ctx, &limit, &skipRejection))

	return pipelineCmd
}

func newStageCommand(ctx *commandContext, kind step.Kind, limit *int, skipRejection *bool) *cobra.Command {
	return &cobra.Command{
		Use:   kind.String(),
		Short: fmt.Sprintf("Run the %s stage once", kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				return withJobLock(e, func() error {
					steps, err := e.stepRegistry()
					if err != nil {
						return err
					}
					orch := orchestrator.New(e.store, e.engine, steps, e.logger)
					result, err := orch.ProcessBatch(cmdCtx, kind, batchLimit(e, *limit), orchestrator.Options{SkipRejection: *skipRejection})
					if err != nil {
						return err
					}
					printBatchResult(cmd, kind, result)
					return nil
				})
			})
		},
	}
}

func newEnrichCommand(ctx *commandContext, limit *int, skipRejection *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Run all stages in pipeline order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				return withJobLock(e, func() error {
					steps, err := e.stepRegistry()
					if err != nil {
						return err
					}
					orch := orchestrator.New(e.store, e.engine, steps, e.logger)
					results, err := orch.EnrichAll(cmdCtx, batchLimit(e, *limit), orchestrator.Options{SkipRejection: *skipRejection})

					rows := make([][]string, 0, len(results))
					for _, kind := range step.Kinds() {
						res, ok := results[kind]
						if !ok {
							continue
						}
						rows = append(rows, []string{
							kind.String(),
							strconv.Itoa(res.Processed),
							strconv.Itoa(res.Succeeded),
							strconv.Itoa(res.Failed),
							strconv.Itoa(res.Discarded),
						})
					}
					writeTable(cmd.OutOrStdout(), []col{
						{name: "Stage"},
						{name: "Processed", numeric: true},
						{name: "Succeeded", numeric: true},
						{name: "Failed", numeric: true},
						{name: "Discarded", numeric: true},
					}, rows)
					return err
				})
			})
		},
	}
}

func batchLimit(e *env, flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return e.cfg.Pipeline.BatchLimit
}

func printBatchResult(cmd *cobra.Command, kind step.Kind, result orchestrator.BatchResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: processed %d (succeeded %d, failed %d, discarded %d)\n",
		kind, result.Processed, result.Succeeded, result.Failed, result.Discarded)
}
