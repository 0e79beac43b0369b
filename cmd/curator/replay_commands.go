package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/replay"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Validate recorded pipeline runs",
	}

	replayCmd.AddCommand(newReplayRunCommand(ctx))
	replayCmd.AddCommand(newReplayBatchCommand(ctx))
	replayCmd.AddCommand(newReplayTestCommand(ctx))

	return replayCmd
}

func newReplayRunCommand(ctx *commandContext) *cobra.Command {
	var runID string
	var simulate bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Re-execute one run against its recorded step runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return errors.New("--run-id is required")
			}
			if !simulate {
				return errors.New("--simulate=false would write replay outputs to the live queue, which is not supported; use reenrich to apply fresh results")
			}
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				engine := replay.New(e.store, e.engine, e.logger)
				report, err := engine.Replay(cmdCtx, runID)
				if err != nil {
					return err
				}
				printReplayReport(cmd, report, verbose)
				if !report.Valid {
					return fmt.Errorf("run %s failed replay validation with %d finding(s)", runID, len(report.Errors))
				}

				steps, err := e.stepRegistry()
				if err != nil {
					return err
				}
				results, err := engine.SimulateRun(cmdCtx, runID, steps)
				if err != nil {
					return err
				}
				drifted := 0
				for _, result := range results {
					verdict := "matches"
					if !result.Matches {
						verdict = "drifted"
						drifted++
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  step %s: %s\n", result.Step, verdict)
				}
				if drifted > 0 {
					return fmt.Errorf("run %s drifted on %d step(s)", runID, drifted)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier to replay")
	cmd.Flags().BoolVar(&simulate, "simulate", true, "Replay without touching pipeline state (false is rejected)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print warnings as well as errors")
	return cmd
}

func printReplayReport(cmd *cobra.Command, report replay.Report, verbose bool) {
	out := cmd.OutOrStdout()
	if report.Valid {
		fmt.Fprintf(out, "Run %s (item %d): valid\n", report.RunID, report.ItemID)
	} else {
		fmt.Fprintf(out, "Run %s (item %d): invalid\n", report.RunID, report.ItemID)
	}
	for _, finding := range report.Errors {
		fmt.Fprintf(out, "  error: %s\n", finding)
	}
	if verbose {
		for _, warning := range report.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", warning)
		}
	}
}

func newReplayBatchCommand(ctx *commandContext) *cobra.Command {
	var runIDs []string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Validate several runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(runIDs) == 0 {
				return errors.New("--run-ids is required")
			}
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				engine := replay.New(e.store, e.engine, e.logger)
				reports, err := engine.ReplayBatch(cmdCtx, runIDs)
				if err != nil {
					return err
				}

				invalid := 0
				out := cmd.OutOrStdout()
				for _, report := range reports {
					if report.Valid {
						fmt.Fprintf(out, "%s: valid\n", report.RunID)
						continue
					}
					invalid++
					fmt.Fprintf(out, "%s: invalid (%d finding(s))\n", report.RunID, len(report.Errors))
					for _, finding := range report.Errors {
						fmt.Fprintf(out, "  - %s\n", finding)
					}
				}
				fmt.Fprintf(out, "Validated %d run(s), %d invalid\n", len(reports), invalid)
				if invalid > 0 {
					return fmt.Errorf("%d run(s) failed replay validation", invalid)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&runIDs, "run-ids", nil, "Comma-separated run identifiers")
	return cmd
}

func newReplayTestCommand(ctx *commandContext) *cobra.Command {
	var sampleSize int
	var targetRate float64

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Health-check replay capability over recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				size := sampleSize
				if size <= 0 {
					size = e.cfg.Replay.SampleSize
				}
				target := targetRate
				if target <= 0 {
					target = e.cfg.Replay.TargetSuccessRate
				}

				engine := replay.New(e.store, e.engine, e.logger)
				report, err := engine.TestCapability(cmdCtx, size, target)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Sampled %d run(s), %d replayable (%.1f%%, target %.1f%%)\n",
					report.Sampled, report.Passed, report.Rate, report.TargetRate)
				if !report.Met {
					return errors.New("replay capability below target rate")
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "Number of recent runs to sample (default from config)")
	cmd.Flags().Float64Var(&targetRate, "target-rate", 0, "Required replayable percentage (default from config)")
	return cmd
}

func newRerunStepCommand(ctx *commandContext) *cobra.Command {
	var stepRunID int64
	var simulate bool

	cmd := &cobra.Command{
		Use:   "rerun-step",
		Short: "Re-execute one recorded step against its input snapshot",
		Long: "Runs the step's agent with the pinned prompt version and the recorded " +
			"input, then diffs the fresh output against the recorded one. Pipeline " +
			"state is never modified.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stepRunID == 0 {
				return errors.New("--step-run-id is required")
			}
			if !simulate {
				return errors.New("--simulate=false would write the fresh output to the live queue, which is not supported; use reenrich to apply fresh results")
			}
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				steps, err := e.stepRegistry()
				if err != nil {
					return err
				}
				engine := replay.New(e.store, e.engine, e.logger)
				result, err := engine.RerunStepRun(cmdCtx, stepRunID, steps)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Step %s of run %s\n", result.Step, result.RunID)
				fmt.Fprintf(out, "  recorded: %s\n", result.RecordedOutput)
				fmt.Fprintf(out, "  fresh:    %s\n", result.FreshOutput)
				if result.Matches {
					fmt.Fprintln(out, "Outputs match")
					return nil
				}
				return fmt.Errorf("fresh output differs from recorded output (step run %s)", strconv.FormatInt(stepRunID, 10))
			})
		},
	}

	cmd.Flags().Int64Var(&stepRunID, "step-run-id", 0, "Step run identifier to re-execute")
	cmd.Flags().BoolVar(&simulate, "simulate", true, "Rerun without touching pipeline state (false is rejected)")
	return cmd
}
