package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/riskcycle/internal/di"
)

var validateCmd = &cobra.Command{
	Use:   "validate <ticker>",
	Short: "Print the walk-forward validation report for one ticker",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ticker := strings.ToUpper(args[0])
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		report, err := c.AnalysisService.ValidationReport(ctx, ticker)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, report)
		return nil
	})
}
