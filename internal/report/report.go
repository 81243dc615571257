// Package report aggregates a ledger document into per-user, per-customer and
// per-operator statistics for the end-of-day export.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rongwang/groupledger/internal/ledger"
	"github.com/rongwang/groupledger/internal/models"
)

// NoCustomer buckets entries made without a reply-to sender
const NoCustomer = "无回复人"

// UserStat summarises the activity attributed to one user. A transaction
// recorded on behalf of someone else is attributed to that original sender.
type UserStat struct {
	Name               string          `json:"name"`
	DepositCount       int             `json:"depositCount"`
	DepositAmount      decimal.Decimal `json:"depositAmount"`
	DisbursementCount  int             `json:"disbursementCount"`
	DisbursementAmount decimal.Decimal `json:"disbursementAmount"`
	Balance            decimal.Decimal `json:"balance"`
}

// CustomerStat summarises one operator's entries for one customer
type CustomerStat struct {
	Operator           string          `json:"operator"`
	Customer           string          `json:"customer"`
	DepositCount       int             `json:"depositCount"`
	DepositAmount      decimal.Decimal `json:"depositAmount"`
	DisbursementCount  int             `json:"disbursementCount"`
	DisbursementAmount decimal.Decimal `json:"disbursementAmount"`
}

// OperatorStat summarises the entries an actor typed in
type OperatorStat struct {
	Name      string          `json:"name"`
	InCount   int             `json:"inCount"`
	InAmount  decimal.Decimal `json:"inAmount"`
	OutCount  int             `json:"outCount"`
	OutAmount decimal.Decimal `json:"outAmount"`
}

// Summary holds the ledger-level totals
type Summary struct {
	TotalIn           decimal.Decimal `json:"totalIn"`
	FeeRate           float64         `json:"feeRate"`
	ExchangeRate      float64         `json:"exchangeRate"`
	CurrencyType      string          `json:"currencyType"`
	ExpectedOut       decimal.Decimal `json:"expectedOut"`
	TotalOut          decimal.Decimal `json:"totalOut"`
	Remaining         decimal.Decimal `json:"remaining"`
	ExpectedCurrency  decimal.Decimal `json:"expectedCurrency"`
	CurrencyOut       decimal.Decimal `json:"currencyOut"`
	RemainingCurrency decimal.Decimal `json:"remainingCurrency"`
	// Group* are summed from the transaction rows rather than the running totals.
	GroupIn      decimal.Decimal `json:"groupIn"`
	GroupOut     decimal.Decimal `json:"groupOut"`
	GroupBalance decimal.Decimal `json:"groupBalance"`
}

// Report is the full export for one group
type Report struct {
	GroupID       string               `json:"groupId"`
	Title         string               `json:"title,omitempty"`
	GeneratedAt   time.Time            `json:"generatedAt"`
	Deposits      []models.Transaction `json:"deposits"`
	Disbursements []models.Transaction `json:"disbursements"`
	Users         []UserStat           `json:"users"`
	Customers     []CustomerStat       `json:"customers"`
	Operators     []OperatorStat       `json:"operators"`
	Summary       Summary              `json:"summary"`
}

// Build aggregates doc. Transaction lists are returned oldest-first.
func Build(doc models.LedgerDocument, cfg models.GroupConfig, at time.Time) Report {
	users := map[string]*UserStat{}
	customers := map[[2]string]*CustomerStat{}
	operators := map[string]*OperatorStat{}

	r := Report{
		GroupID:       doc.GroupID,
		Title:         cfg.Title,
		GeneratedAt:   at.UTC(),
		Deposits:      []models.Transaction{},
		Disbursements: []models.Transaction{},
	}

	var groupIn, groupOut decimal.Decimal
	for i := len(doc.Transactions) - 1; i >= 0; i-- {
		t := doc.Transactions[i]
		amount := decimal.NewFromFloat(t.Amount)

		userName := t.ActorName
		customerName := NoCustomer
		if t.OriginalSender != "" {
			userName = t.OriginalSender
			customerName = t.OriginalSender
		}

		u := users[userName]
		if u == nil {
			u = &UserStat{Name: userName}
			users[userName] = u
		}
		c := customers[[2]string{t.ActorName, customerName}]
		if c == nil {
			c = &CustomerStat{Operator: t.ActorName, Customer: customerName}
			customers[[2]string{t.ActorName, customerName}] = c
		}
		o := operators[t.ActorName]
		if o == nil {
			o = &OperatorStat{Name: t.ActorName}
			operators[t.ActorName] = o
		}

		switch t.Kind {
		case models.KindDeposit:
			r.Deposits = append(r.Deposits, t)
			groupIn = groupIn.Add(amount)
			u.DepositCount++
			u.DepositAmount = u.DepositAmount.Add(amount)
			c.DepositCount++
			c.DepositAmount = c.DepositAmount.Add(amount)
			o.InCount++
			o.InAmount = o.InAmount.Add(amount)
		case models.KindDisbursement:
			r.Disbursements = append(r.Disbursements, t)
			groupOut = groupOut.Add(amount)
			u.DisbursementCount++
			u.DisbursementAmount = u.DisbursementAmount.Add(amount)
			c.DisbursementCount++
			c.DisbursementAmount = c.DisbursementAmount.Add(amount)
			o.OutCount++
			o.OutAmount = o.OutAmount.Add(amount)
		}
	}

	for _, u := range users {
		u.Balance = u.DepositAmount.Sub(u.DisbursementAmount)
		r.Users = append(r.Users, *u)
	}
	sort.Slice(r.Users, func(i, j int) bool { return r.Users[i].Name < r.Users[j].Name })

	for _, c := range customers {
		r.Customers = append(r.Customers, *c)
	}
	sort.Slice(r.Customers, func(i, j int) bool {
		if r.Customers[i].Operator != r.Customers[j].Operator {
			return r.Customers[i].Operator < r.Customers[j].Operator
		}
		return r.Customers[i].Customer < r.Customers[j].Customer
	})

	for _, o := range operators {
		r.Operators = append(r.Operators, *o)
	}
	sort.Slice(r.Operators, func(i, j int) bool { return r.Operators[i].Name < r.Operators[j].Name })

	expected := ledger.ExpectedOut(doc, cfg)
	s := Summary{
		TotalIn:      decimal.NewFromFloat(doc.TotalIn),
		FeeRate:      cfg.FeeRate,
		ExchangeRate: cfg.ExchangeRate,
		CurrencyType: cfg.CurrencyType,
		ExpectedOut:  decimal.NewFromFloat(expected),
		TotalOut:     decimal.NewFromFloat(doc.TotalOut),
		CurrencyOut:  decimal.NewFromFloat(doc.CurrencyOut),
		GroupIn:      groupIn,
		GroupOut:     groupOut,
		GroupBalance: groupIn.Sub(groupOut),
	}
	s.Remaining = s.ExpectedOut.Sub(s.TotalOut)
	if cfg.ExchangeRate > 0 {
		rate := decimal.NewFromFloat(cfg.ExchangeRate)
		s.ExpectedCurrency = s.ExpectedOut.Div(rate)
		s.RemainingCurrency = s.ExpectedCurrency.Sub(s.CurrencyOut)
	}
	r.Summary = s

	return r
}
