package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/riskcycle/internal/di"
	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/universe"
)

var (
	backtestTier  string
	backtestYears int
)

var backtestCmd = &cobra.Command{
	Use:   "backtest <ticker>",
	Short: "Replay the zone policy on one ticker against buy and hold",
	Long: `Replay the allocation zones over the ticker's own risk history.
Without --tier the registered tier is used, falling back to CRYPTO for
-USD pairs and CORE for everything else.`,
	Args: cobra.ExactArgs(1),
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVar(&backtestTier, "tier", "", "Tier whose zones to replay")
	backtestCmd.Flags().IntVar(&backtestYears, "years", 0, "Window in years (0 keeps the configured window)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ticker := strings.ToUpper(args[0])
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		tier, err := resolveTier(ctx, c, ticker, backtestTier)
		if err != nil {
			return err
		}
		result, err := c.AnalysisService.Backtest(ctx, ticker, tier, backtestYears)
		if err != nil {
			return err
		}
		printBacktest(os.Stdout, result)
		return nil
	})
}

func resolveTier(ctx context.Context, c *di.Container, ticker, flag string) (domain.Tier, error) {
	if flag != "" {
		tier := domain.Tier(strings.ToUpper(flag))
		if !tier.Valid() {
			return "", fmt.Errorf("unknown tier %q", flag)
		}
		return tier, nil
	}
	asset, err := c.AssetRepo.GetByTicker(ctx, ticker)
	switch {
	case err == nil:
		return asset.Tier, nil
	case !errors.Is(err, universe.ErrAssetNotFound):
		return "", err
	}
	if strings.HasSuffix(ticker, "-USD") {
		return domain.TierCrypto, nil
	}
	return domain.TierCore, nil
}

func printBacktest(out io.Writer, r *backtest.Result) {
	fmt.Fprintf(out, "%s %s  %s to %s (%d days)\n\n",
		r.Ticker, r.Tier, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), r.Days)
	fmt.Fprintf(out, "%-14s %12s %12s\n", "", "STRATEGY", "BUY & HOLD")
	fmt.Fprintf(out, "%-14s %11.2fx %11.2fx\n", "Growth", r.Strategy.FinalMultiple, r.BuyHold.FinalMultiple)
	fmt.Fprintf(out, "%-14s %11.1f%% %11.1f%%\n", "Return", r.Strategy.TotalReturn*100, r.BuyHold.TotalReturn*100)
	fmt.Fprintf(out, "%-14s %12s %12s\n", "CAGR", pct(r.Strategy.CAGR), pct(r.BuyHold.CAGR))
	fmt.Fprintf(out, "%-14s %11.1f%% %11.1f%%\n", "Volatility", r.Strategy.Volatility*100, r.BuyHold.Volatility*100)
	fmt.Fprintf(out, "%-14s %12s %12s\n", "Sharpe", optFloat(r.Strategy.Sharpe, 2), optFloat(r.BuyHold.Sharpe, 2))
	fmt.Fprintf(out, "%-14s %11.1f%% %11.1f%%\n\n", "Max drawdown", r.Strategy.MaxDrawdown*100, r.BuyHold.MaxDrawdown*100)
	fmt.Fprintf(out, "Alpha %.2fx  Protection %.1f%%  Trades %d  Turnover %.2f\n",
		r.Alpha, r.Protection*100, r.Trades, r.Turnover)
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}
