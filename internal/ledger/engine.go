// Package ledger holds the pure transaction and rollover arithmetic for a
// group ledger. Nothing in this package performs I/O: callers load a
// document, hand it in, and persist whatever comes back.
package ledger

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rongwang/groupledger/internal/models"
)

const (
	// Tolerance is the absolute slack used for every balance boundary check.
	Tolerance = 0.01
	// RecentLimit is how many deposits and disbursements a summary lists.
	RecentLimit = 5

	timestampLayout = "15:04:05"
)

// Request is a proposed ledger operation
type Request struct {
	Kind           models.TransactionKind
	Amount         float64
	ActorID        string
	ActorName      string
	CurrencyTag    string
	OriginalSender string
	// Reversal marks a correction entry; its amount must be negative.
	Reversal bool
	At       time.Time
}

// Result is the outcome of an accepted request
type Result struct {
	Document    models.LedgerDocument
	Transaction models.Transaction
	Text        string
}

// ExpectedOut is the disbursable total after the fee is deducted
func ExpectedOut(doc models.LedgerDocument, cfg models.GroupConfig) float64 {
	return doc.TotalIn * feeFactor(cfg)
}

// Remaining is the primary-currency amount not yet disbursed
func Remaining(doc models.LedgerDocument, cfg models.GroupConfig) float64 {
	return ExpectedOut(doc, cfg) - doc.TotalOut
}

func feeFactor(cfg models.GroupConfig) float64 {
	return 1 - cfg.FeeRate/100
}

// Apply validates req against doc and returns the updated document. doc is
// never modified; on rejection the caller keeps its original state.
func Apply(doc models.LedgerDocument, cfg models.GroupConfig, req Request) (*Result, error) {
	if err := validateAmount(req); err != nil {
		return nil, err
	}

	next := doc.Clone()
	var (
		recorded float64
		err      error
	)
	switch req.Kind {
	case models.KindDeposit:
		recorded, err = applyDeposit(&next, cfg, req)
	case models.KindDisbursement:
		recorded, err = applyDisbursement(&next, cfg, req)
	default:
		return nil, ErrUnknownKind
	}
	if err != nil {
		return nil, err
	}

	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	actorName := strings.TrimPrefix(strings.TrimSpace(req.ActorName), "@")
	if actorName == "" {
		actorName = "Unknown"
	}

	tx := models.Transaction{
		ID:             uuid.NewString(),
		ActorID:        req.ActorID,
		ActorName:      actorName,
		Amount:         recorded,
		Kind:           req.Kind,
		Timestamp:      at.In(cfg.Location()).Format(timestampLayout),
		OriginalSender: strings.TrimPrefix(strings.TrimSpace(req.OriginalSender), "@"),
		Reversal:       req.Reversal,
	}
	next.Transactions = append([]models.Transaction{tx}, next.Transactions...)
	next.UpdatedAt = at.UTC()

	return &Result{
		Document:    next,
		Transaction: tx,
		Text:        Summary(next, cfg),
	}, nil
}

func validateAmount(req Request) error {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return ErrInvalidAmount
	}
	if req.Reversal {
		if req.Amount >= 0 {
			return ErrInvalidAmount
		}
		return nil
	}
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func applyDeposit(doc *models.LedgerDocument, cfg models.GroupConfig, req Request) (float64, error) {
	if req.Reversal {
		// A reversal may not take back funds that were already disbursed.
		reversible := doc.TotalIn
		if factor := feeFactor(cfg); factor > 0 {
			reversible = doc.TotalIn - doc.TotalOut/factor
		}
		if -req.Amount > reversible+Tolerance {
			return 0, &InsufficientBalanceError{Available: math.Max(reversible, 0), Requested: -req.Amount}
		}
		doc.TotalIn = math.Max(doc.TotalIn+req.Amount, 0)
		return req.Amount, nil
	}

	doc.TotalIn += req.Amount
	return req.Amount, nil
}

func applyDisbursement(doc *models.LedgerDocument, cfg models.GroupConfig, req Request) (float64, error) {
	if req.Reversal {
		if -req.Amount > doc.TotalOut+Tolerance {
			return 0, &InsufficientBalanceError{Available: doc.TotalOut, Requested: -req.Amount}
		}
		doc.TotalOut = math.Max(doc.TotalOut+req.Amount, 0)
		if cfg.ExchangeRate > 0 {
			doc.CurrencyOut = math.Max(doc.CurrencyOut+req.Amount/cfg.ExchangeRate, 0)
		}
		return req.Amount, nil
	}

	expected := ExpectedOut(*doc, cfg)

	if matchesCurrency(req.CurrencyTag, cfg) {
		var available float64
		if cfg.ExchangeRate > 0 {
			available = expected / cfg.ExchangeRate
		}
		remaining := available - doc.CurrencyOut
		if req.Amount > remaining {
			return 0, &InsufficientBalanceError{Available: remaining, Requested: req.Amount, Unit: cfg.CurrencyType}
		}
		converted := req.Amount * cfg.ExchangeRate
		doc.CurrencyOut += req.Amount
		doc.TotalOut += converted
		return converted, nil
	}

	remaining := expected - doc.TotalOut
	if req.Amount > remaining+Tolerance {
		return 0, &InsufficientBalanceError{Available: remaining, Requested: req.Amount}
	}

	newOut := doc.TotalOut + req.Amount
	if math.Abs(newOut-expected) < Tolerance {
		newOut = expected
	}
	doc.TotalOut = newOut
	if cfg.ExchangeRate > 0 {
		doc.CurrencyOut += req.Amount / cfg.ExchangeRate
	}
	return req.Amount, nil
}

func matchesCurrency(tag string, cfg models.GroupConfig) bool {
	tag = strings.TrimSpace(tag)
	symbol := cfg.CurrencySymbol()
	return tag != "" && symbol != "" && strings.EqualFold(tag, symbol)
}
