package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAmount rejects zero, negative (outside a reversal), NaN or infinite amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientBalance is matched by every *InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrUnknownKind rejects requests that are neither deposits nor disbursements.
	ErrUnknownKind = errors.New("ledger: unknown transaction kind")
)

// InsufficientBalanceError reports the amount that was actually available
type InsufficientBalanceError struct {
	Available float64
	Requested float64
	Unit      string
}

func (e *InsufficientBalanceError) Error() string {
	msg := fmt.Sprintf("insufficient balance, available: %.2f", e.Available)
	if e.Unit != "" {
		msg += " " + e.Unit
	}
	return msg
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// Message renders the rejection the way it is shown in the group chat
func (e *InsufficientBalanceError) Message() string {
	var b strings.Builder
	if e.Unit != "" {
		b.WriteString(e.Unit)
	}
	fmt.Fprintf(&b, "余额不足，当前可用：%.2f", e.Available)
	if e.Unit != "" {
		b.WriteString(" " + e.Unit)
	}
	return b.String()
}
