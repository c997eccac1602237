package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatTradeOrg renders a TradeRecord as an Org-mode entry. Facts go in
// the PROPERTIES drawer; the Thesis/Execution/Review headings are left for
// the reader to fill in.
func FormatTradeOrg(t TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s)\n", t.Symbol, t.Reason, shortID(t.TradeID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":TRADE_ID: %s\n", t.TradeID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":QTY: %g\n", t.Qty)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.4f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.4f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", t.OpenTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", t.CloseTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":REALIZED_PL: %.2f\n", t.RealizedPL)
	fmt.Fprintf(&b, ":FEES: %.2f\n", t.Fees)
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	if t.SignalID != "" {
		fmt.Fprintf(&b, ":SIGNAL_ID: %s\n", t.SignalID)
	}
	if t.Mode != "" {
		fmt.Fprintf(&b, ":MODE: %s\n", t.Mode)
	}

	keys := make([]string, 0, len(t.Meta))
	for k := range t.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s: %v\n", strings.ToUpper(k), t.Meta[k])
	}

	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []TradeRecord) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
