package ledger

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/rongwang/groupledger/internal/models"
)

var printer = message.NewPrinter(language.English)

// CarrySummary describes what a rollover carried into the next period
type CarrySummary struct {
	FeeRate           float64
	ExchangeRate      float64
	CurrencyType      string
	TotalIn           float64
	ExpectedOut       float64
	TotalOut          float64
	TotalCurrencyOut  float64
	Remaining         float64
	RemainingCurrency float64
	// CarriedForward is the opening totalIn of the next period: the pre-fee
	// principal that reproduces Remaining once the fee is applied again.
	CarriedForward float64
	Text           string
}

// Rollover closes the current period. The unspent balance becomes the next
// period's opening deposit, grossed back up by the fee.
func Rollover(doc models.LedgerDocument, cfg models.GroupConfig, at time.Time) (models.LedgerDocument, CarrySummary) {
	expected := ExpectedOut(doc, cfg)
	remaining := expected - doc.TotalOut

	var carried float64
	if factor := feeFactor(cfg); remaining > 0 && factor > 0 {
		carried = remaining / factor
	}

	var remainingCurrency float64
	if cfg.ExchangeRate > 0 {
		remainingCurrency = remaining / cfg.ExchangeRate
	}

	summary := CarrySummary{
		FeeRate:           cfg.FeeRate,
		ExchangeRate:      cfg.ExchangeRate,
		CurrencyType:      cfg.CurrencyType,
		TotalIn:           doc.TotalIn,
		ExpectedOut:       expected,
		TotalOut:          doc.TotalOut,
		TotalCurrencyOut:  doc.CurrencyOut,
		Remaining:         remaining,
		RemainingCurrency: remainingCurrency,
		CarriedForward:    carried,
	}
	summary.Text = renderCarry(summary)

	next := models.NewLedgerDocument(doc.GroupID)
	next.TotalIn = carried
	next.UpdatedAt = at.UTC()
	return *next, summary
}

func renderCarry(s CarrySummary) string {
	lines := []string{
		"结转余额:",
		"总入款: " + printer.Sprint(number.Decimal(s.CarriedForward, number.MaxFractionDigits(0))),
		fmt.Sprintf("费率: %s%%", formatRate(s.FeeRate)),
		fmt.Sprintf("%s汇率: %s", s.CurrencyType, formatRate(s.ExchangeRate)),
	}
	return strings.Join(lines, "\n")
}
