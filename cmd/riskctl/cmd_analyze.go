package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/riskcycle/internal/di"
	"github.com/aristath/riskcycle/internal/modules/analysis"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a full analysis over the asset registry",
	Long: `Fetch history for every registered asset, score and validate it,
apply the allocation policy and persist the run. The run is stored exactly
as a scheduled one would be.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full report as JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		report, err := c.AnalysisService.Run(ctx)
		if err != nil {
			return err
		}
		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return printReport(os.Stdout, report)
	})
}

func printReport(out io.Writer, report *analysis.Report) error {
	fmt.Fprintf(out, "Run %s: %s (gate %.0f)\n", report.ID, report.Status, report.Gate)
	if report.Macro != nil {
		fmt.Fprintf(out, "Macro risk %.3f %s\n", report.Macro.Composite, report.Macro.Status)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tBUCKET\tPRICE\tRISK\tRATING\tSCORE\tREGIME\tNOTE")
	for _, group := range [][]analysis.Signal{report.Actionable, report.NoSignal} {
		for _, s := range group {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Ticker, s.Bucket, optFloat(s.LastPrice, 2), optFloat(s.LastRisk, 3),
				dash(string(s.Rating)), optInt(s.ValidationScore), dash(string(s.Regime)), s.Reason)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if report.Allocation == nil {
		return nil
	}
	fmt.Fprintln(out)
	if report.Allocation.Degenerate {
		fmt.Fprintln(out, "Allocation: no investable weight")
		return nil
	}

	tickers := make([]string, 0, len(report.Allocation.Weights))
	for t := range report.Allocation.Weights {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tWEIGHT")
	for _, t := range tickers {
		fmt.Fprintf(w, "%s\t%.1f%%\n", t, report.Allocation.Weights[t]*100)
	}
	return w.Flush()
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
