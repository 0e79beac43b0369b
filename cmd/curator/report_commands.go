package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/queue"
	"curator/internal/report"
)

func newCostReportCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cost-report",
		Short: "Aggregate token spend by day, agent, and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				reporter := report.New(e.store, e.reg, e.logger)
				since := time.Now().AddDate(0, 0, -days)
				got, err := reporter.Cost(cmdCtx, since)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Token usage since %s: %.0f tokens over %d call(s)\n",
					since.Format("2006-01-02"), got.TotalTokens, got.TotalCalls)

				sections := []struct {
					title string
					key   string
					data  [][]string
				}{
					{"By agent", "Agent", costRows(got.ByAgent)},
					{"By model", "Model", costRows(got.ByModel)},
					{"By day", "Day", costRows(got.ByDay)},
				}
				for _, section := range sections {
					if len(section.data) == 0 {
						continue
					}
					fmt.Fprintln(out, section.title)
					writeTable(out, []col{
						{name: section.key},
						{name: "Tokens", numeric: true},
						{name: "Calls", numeric: true},
					}, section.data)
				}
				for _, warning := range got.Warnings {
					fmt.Fprintf(out, "warning: %s\n", warning)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Report window in days")
	return cmd
}

func costRows(rows []queue.CostRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, []string{
			row.Key,
			strconv.FormatFloat(row.Tokens, 'f', 0, 64),
			strconv.Itoa(row.Calls),
		})
	}
	return out
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

// healthPrinter writes the health report's sections, gauges, and check
// verdicts, coloring only when the output is a terminal.
type healthPrinter struct {
	out   io.Writer
	color bool
}

func newHealthPrinter(w io.Writer) *healthPrinter {
	return &healthPrinter{out: w, color: isTerminal(w)}
}

func (p *healthPrinter) paint(text, ansi string) string {
	if !p.color {
		return text
	}
	return ansi + text + ansiReset
}

func (p *healthPrinter) section(title string) {
	fmt.Fprintln(p.out, p.paint(title, ansiCyan))
}

func (p *healthPrinter) gauge(label string, value int) {
	fmt.Fprintf(p.out, "  %-20s %d\n", label, value)
}

func (p *healthPrinter) check(label string, ok bool, detail string) {
	verdict := p.paint("ok", ansiGreen)
	if !ok {
		verdict = p.paint("error", ansiRed)
	}
	if detail != "" {
		verdict += " " + detail
	}
	fmt.Fprintf(p.out, "  %-20s %s\n", label, verdict)
}

func (p *healthPrinter) warn(detail string) {
	fmt.Fprintf(p.out, "  %s %s\n", p.paint("warning", ansiYellow), detail)
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue occupancy and connectivity health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEnv(cmd, func(cmdCtx context.Context, e *env) error {
				reporter := report.New(e.store, e.reg, e.logger)
				got, err := reporter.Health(cmdCtx, e.llmClient())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				p := newHealthPrinter(out)

				p.section("Queue")
				p.gauge("Total items", got.Queue.Total)
				p.gauge("Ready", got.Queue.Ready)
				p.gauge("Working", got.Queue.Working)
				p.gauge("In review", got.Queue.Review)
				p.gauge("Terminal", got.Queue.Terminal)
				p.gauge("Transitions (24h)", got.RecentTransitions)

				if len(got.Statuses) > 0 {
					rows := make([][]string, 0, len(got.Statuses))
					for _, sc := range got.Statuses {
						rows = append(rows, []string{
							strconv.Itoa(sc.Code),
							sc.DisplayName,
							strconv.Itoa(sc.Count),
						})
					}
					writeTable(out, []col{
						{name: "Code", numeric: true},
						{name: "Status"},
						{name: "Count", numeric: true},
					}, rows)
				}

				p.section("Connectivity")
				p.check("LLM endpoint", got.LLMReachable, got.LLMError)
				for _, warning := range got.Warnings {
					p.warn(warning)
				}
				return nil
			})
		},
	}
}
