package validation

import (
	"fmt"
	"strings"
)

const reportRule = "------------------------------------------------"

// RenderReport formats a validation result for operators. A non-nil err is
// reported in place of the metrics.
func RenderReport(ticker string, res *Result, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "VALIDATION REPORT: %s\n", ticker)
	if err != nil {
		fmt.Fprintf(&b, "Error: %v\n", err)
		return b.String()
	}

	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "Model Score:        %d/100\n", res.Score)
	fmt.Fprintf(&b, "Regime:             %s\n", res.Regime)
	fmt.Fprintf(&b, "Data Points:        %d\n", res.Samples)
	fmt.Fprintf(&b, "Trend Strength:     %.1f%%\n", res.TrendStrength*100)
	fmt.Fprintf(&b, "Correlation:        %.3f\n", res.RankCorrelation)
	b.WriteString("\n")

	if res.Regime == RegimeMomentum {
		b.WriteString("Momentum Metrics:\n")
		fmt.Fprintf(&b, "- Avg Risk in Pump:  %.2f (Target < 0.5)\n", res.AvgRiskPump)
		fmt.Fprintf(&b, "- Avg Risk in Crash: %.2f (Target > 0.5)\n", res.AvgRiskCrash)
	} else {
		b.WriteString("Mean Reversion Metrics:\n")
		fmt.Fprintf(&b, "- Buy Zone Return:  %.1f%%\n", res.AvgReturnBuyZone*100)
		fmt.Fprintf(&b, "- Sell Zone Return: %.1f%%\n", res.AvgReturnSellZone*100)
		fmt.Fprintf(&b, "- Win Rate Spread:  %.1f%%\n", (res.WinRateBuy-res.WinRateSell)*100)
	}
	b.WriteString(reportRule)
	return b.String()
}
