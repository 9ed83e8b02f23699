package rewards

import (
	"fmt"
	"html"
	"strings"
)

// FormatWallet shortens a wallet address for chat messages.
func FormatWallet(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:8] + "..." + address[len(address)-4:]
}

// FormatSOL renders lamports as SOL without trailing zeros.
func FormatSOL(lamports uint64) string {
	return LamportsToSOL(lamports).String() + " SOL"
}

// FormatCycleSummary builds the HTML cycle notification.
func FormatCycleSummary(r *CycleRecord) string {
	var succeeded, skipped, failed int
	for _, rc := range r.Recipients {
		switch rc.Status {
		case StatusSuccess:
			succeeded++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}

	var message strings.Builder
	message.WriteString(fmt.Sprintf("💸 <b>Rewards distributed</b>: %s\n", FormatSOL(r.TotalDistributed)))
	message.WriteString("<blockquote>")
	message.WriteString(fmt.Sprintf("Cycle: <code>%s</code>\n", r.ID))
	message.WriteString(fmt.Sprintf("Pool: %s\n", FormatSOL(r.PoolAmount)))
	message.WriteString(fmt.Sprintf("Recipients: %d ok / %d skipped / %d failed\n", succeeded, skipped, failed))
	message.WriteString(fmt.Sprintf("Holders: %d eligible of %d (%d excluded, %d blacklisted)\n",
		r.EligibleCount, r.TotalHolders, r.ExcludedCount, r.BlacklistedCount))
	message.WriteString(fmt.Sprintf("Price: %s SOL", r.TokenPriceNative))
	if r.TokenPriceUSD != "" {
		message.WriteString(fmt.Sprintf(" ($%s)", r.TokenPriceUSD))
	}
	message.WriteString("</blockquote>")
	return message.String()
}

func FormatSettlement(s *SettlementRecord) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("🔁 <b>Tax settled</b>: %s\n", FormatSOL(s.ReceivedNative)))
	message.WriteString("<blockquote>")
	message.WriteString(fmt.Sprintf("Harvested: %s\n", s.TotalTaxHarvested))
	message.WriteString(fmt.Sprintf("Swapped: %s\n", s.SwappedAmount))
	message.WriteString(fmt.Sprintf("Rewards: %s\n", FormatSOL(s.RewardPortion)))
	message.WriteString(fmt.Sprintf("Treasury: %s", FormatSOL(s.TreasuryPortion)))
	if s.TreasuryPending > 0 {
		message.WriteString(fmt.Sprintf("\n⚠️ Treasury pending: %s", FormatSOL(s.TreasuryPending)))
	}
	message.WriteString("</blockquote>")
	return message.String()
}

// FormatFlagged lists wallets that just crossed the payout retry limit.
func FormatFlagged(wallets []string) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("🚩 <b>%d wallet(s) flagged</b> after repeated payout failures\n", len(wallets)))
	message.WriteString("<blockquote>")
	for i, w := range wallets {
		if i > 0 {
			message.WriteString("\n")
		}
		message.WriteString(fmt.Sprintf("<code>%s</code>", html.EscapeString(w)))
	}
	message.WriteString("</blockquote>")
	return message.String()
}
