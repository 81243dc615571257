package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rongwang/groupledger/internal/models"
)

// WriteCSV renders r as a sectioned CSV file: deposits, disbursements,
// users, customers, operators and totals, separated by blank rows.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)

	rows := [][]string{{"群组", r.GroupID, r.Title, r.GeneratedAt.Format("2006-01-02 15:04:05")}, {}}

	rows = append(rows, []string{"入款"}, []string{"时间", "操作人", "回复人", "金额"})
	rows = appendTransactions(rows, r.Deposits)
	rows = append(rows, []string{})

	rows = append(rows, []string{"下发"}, []string{"时间", "操作人", "回复人", "金额"})
	rows = appendTransactions(rows, r.Disbursements)
	rows = append(rows, []string{})

	rows = append(rows, []string{"用户"}, []string{"用户", "入款笔数", "入款金额", "下发笔数", "下发金额", "余额"})
	for _, u := range r.Users {
		rows = append(rows, []string{
			u.Name,
			strconv.Itoa(u.DepositCount), money(u.DepositAmount),
			strconv.Itoa(u.DisbursementCount), money(u.DisbursementAmount),
			money(u.Balance),
		})
	}
	rows = append(rows, []string{})

	rows = append(rows, []string{"客户"}, []string{"操作人", "回复人", "入款笔数", "入款金额", "下发笔数", "下发金额"})
	for _, c := range r.Customers {
		rows = append(rows, []string{
			c.Operator, c.Customer,
			strconv.Itoa(c.DepositCount), money(c.DepositAmount),
			strconv.Itoa(c.DisbursementCount), money(c.DisbursementAmount),
		})
	}
	rows = append(rows, []string{})

	rows = append(rows, []string{"操作人"}, []string{"操作人", "入款笔数", "入款金额", "下发笔数", "下发金额"})
	for _, o := range r.Operators {
		rows = append(rows, []string{
			o.Name,
			strconv.Itoa(o.InCount), money(o.InAmount),
			strconv.Itoa(o.OutCount), money(o.OutAmount),
		})
	}
	rows = append(rows, []string{})

	s := r.Summary
	rows = append(rows,
		[]string{"汇总"},
		[]string{"总入款", money(s.TotalIn)},
		[]string{"费率", strconv.FormatFloat(s.FeeRate, 'f', -1, 64) + "%"},
		[]string{s.CurrencyType + "汇率", strconv.FormatFloat(s.ExchangeRate, 'f', -1, 64)},
		[]string{"应下发", money(s.ExpectedOut), money(s.ExpectedCurrency)},
		[]string{"总下发", money(s.TotalOut), money(s.CurrencyOut)},
		[]string{"未下发", money(s.Remaining), money(s.RemainingCurrency)},
		[]string{"群组余额", money(s.GroupBalance)},
	)

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("error writing report csv: %w", err)
	}
	return nil
}

func appendTransactions(rows [][]string, txs []models.Transaction) [][]string {
	for _, t := range txs {
		sender := t.OriginalSender
		if sender == "" {
			sender = NoCustomer
		}
		rows = append(rows, []string{t.Timestamp, t.ActorName, sender, strconv.FormatFloat(t.Amount, 'f', 2, 64)})
	}
	return rows
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
