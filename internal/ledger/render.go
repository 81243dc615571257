package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rongwang/groupledger/internal/models"
)

const separator = "━━━━━━━━━━━━━━"

// Summary renders the recent activity and aggregate lines of a ledger. It is
// the reply to every accepted transaction and to the check-ledger command.
func Summary(doc models.LedgerDocument, cfg models.GroupConfig) string {
	deposits, withdrawals := recent(doc.Transactions, RecentLimit)
	symbol := cfg.CurrencySymbol()

	lines := []string{"交易明细", separator}

	lines = append(lines, fmt.Sprintf("已入款（%d）", len(deposits)))
	if len(deposits) == 0 {
		lines = append(lines, "暂无入款记录")
	}
	for _, t := range deposits {
		lines = append(lines, fmt.Sprintf("%s | %s | %.2f", t.ActorName, t.Timestamp, t.Amount))
	}
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("已下发（%d）", len(withdrawals)))
	if len(withdrawals) == 0 {
		lines = append(lines, "暂无下发记录")
	}
	for _, t := range withdrawals {
		if cfg.ExchangeRate > 0 {
			lines = append(lines, fmt.Sprintf("%s | %s | %.2f | %.2f%s",
				t.ActorName, t.Timestamp, t.Amount, t.Amount/cfg.ExchangeRate, symbol))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s | %s | %.2f", t.ActorName, t.Timestamp, t.Amount))
	}
	lines = append(lines, "")

	expected := ExpectedOut(doc, cfg)
	remaining := expected - doc.TotalOut

	lines = append(lines,
		fmt.Sprintf("总入款：%.2f", doc.TotalIn),
		fmt.Sprintf("费率：%s%%", formatRate(cfg.FeeRate)),
		fmt.Sprintf("%s汇率：%s", cfg.CurrencyType, formatRate(cfg.ExchangeRate)),
		"",
	)

	if cfg.ExchangeRate > 0 {
		expectedCurrency := expected / cfg.ExchangeRate
		remainingCurrency := expectedCurrency - doc.CurrencyOut
		lines = append(lines,
			fmt.Sprintf("应下发：%.2f | %.2f%s", expected, expectedCurrency, symbol),
			fmt.Sprintf("总下发：%.2f | %.2f%s", doc.TotalOut, doc.CurrencyOut, symbol),
			fmt.Sprintf("未下发：%.2f | %.2f%s", remaining, remainingCurrency, symbol),
		)
	} else {
		lines = append(lines,
			fmt.Sprintf("应下发：%.2f", expected),
			fmt.Sprintf("总下发：%.2f", doc.TotalOut),
			fmt.Sprintf("未下发：%.2f", remaining),
		)
	}

	return strings.Join(lines, "\n")
}

// recent picks the newest deposits and disbursements; transactions are
// already stored newest-first.
func recent(transactions []models.Transaction, limit int) (deposits, withdrawals []models.Transaction) {
	for _, t := range transactions {
		switch {
		case t.Kind == models.KindDeposit && len(deposits) < limit:
			deposits = append(deposits, t)
		case t.Kind == models.KindDisbursement && len(withdrawals) < limit:
			withdrawals = append(withdrawals, t)
		}
		if len(deposits) >= limit && len(withdrawals) >= limit {
			break
		}
	}
	return deposits, withdrawals
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
