package models

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// TransactionKind distinguishes deposits (入款) from disbursements (下发)
type TransactionKind string

const (
	KindDeposit      TransactionKind = "deposit"
	KindDisbursement TransactionKind = "disbursement"
)

// Transaction is a single immutable ledger entry
type Transaction struct {
	ID             string          `json:"id"`
	ActorID        string          `json:"actorId"`
	ActorName      string          `json:"actorName"`
	Amount         float64         `json:"amount"`
	Kind           TransactionKind `json:"kind"`
	Timestamp      string          `json:"timestamp"` // HH:MM:SS in the group timezone
	OriginalSender string          `json:"originalSender,omitempty"`
	Reversal       bool            `json:"reversal,omitempty"`
}

// LedgerDocument is the per-group ledger for the current period.
// Transactions are stored newest-first.
type LedgerDocument struct {
	GroupID      string        `json:"groupId"`
	Transactions []Transaction `json:"transactions"`
	TotalIn      float64       `json:"totalIn"`
	TotalOut     float64       `json:"totalOut"`
	CurrencyOut  float64       `json:"currencyOut"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// NewLedgerDocument returns an empty ledger for a group
func NewLedgerDocument(groupID string) *LedgerDocument {
	return &LedgerDocument{
		GroupID:      groupID,
		Transactions: []Transaction{},
	}
}

// Clone returns a copy that shares no slice storage with d
func (d LedgerDocument) Clone() LedgerDocument {
	out := d
	out.Transactions = make([]Transaction, len(d.Transactions))
	copy(out.Transactions, d.Transactions)
	return out
}

// GroupConfig holds per-group ledger settings
type GroupConfig struct {
	GroupID      string  `json:"groupId"`
	Title        string  `json:"title,omitempty"`
	FeeRate      float64 `json:"feeRate"`      // percent, 0-100
	ExchangeRate float64 `json:"exchangeRate"` // secondary units per primary unit, 0 = none
	CurrencyType string  `json:"currencyType"`
	Timezone     string  `json:"timezone"`
	RolloverTime string  `json:"rolloverTime"` // HH:MM in the group timezone
}

const (
	DefaultTimezone     = "UTC"
	DefaultRolloverTime = "00:00"
)

// NewGroupConfig returns the configuration used before a group is set up
func NewGroupConfig(groupID string) *GroupConfig {
	return &GroupConfig{
		GroupID:      groupID,
		Timezone:     DefaultTimezone,
		RolloverTime: DefaultRolloverTime,
	}
}

// CurrencySymbol is the short symbol used in renders and to match currency tags
func (c GroupConfig) CurrencySymbol() string {
	r, _ := utf8.DecodeRuneInString(c.CurrencyType)
	if r == utf8.RuneError {
		return ""
	}
	return string(unicode.ToUpper(r))
}

// Location resolves the configured timezone, falling back to UTC
func (c GroupConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tier is an authorization level
type Tier string

const (
	TierNone      Tier = ""
	TierGroupWide Tier = "group"
	TierLevel2    Tier = "level2"
	TierLevel1    Tier = "level1"
	TierOperator  Tier = "operator"
	TierOwner     Tier = "owner"
)

// Rank orders tiers from least to most privileged
func (t Tier) Rank() int {
	switch t {
	case TierGroupWide:
		return 1
	case TierLevel2:
		return 2
	case TierLevel1:
		return 3
	case TierOperator:
		return 4
	case TierOwner:
		return 5
	default:
		return 0
	}
}

// Grant is a time-boxed authorization for one principal
type Grant struct {
	Principal string    `json:"principal"`
	GrantedBy string    `json:"grantedBy"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Tier      Tier      `json:"tier"`
}

// Active reports whether the grant is still valid at now
func (g Grant) Active(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// GroupAccess is the blanket grant covering every member of a group
type GroupAccess struct {
	AllowAllMembers bool       `json:"allowAllMembers"`
	GrantedBy       string     `json:"grantedBy,omitempty"`
	GrantedAt       time.Time  `json:"grantedAt"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// AuthDocument is the global authorization document
type AuthDocument struct {
	Operators []string               `json:"operators"`
	Level1    map[string]Grant       `json:"level1"`
	Level2    map[string]Grant       `json:"level2"`
	Groups    map[string]GroupAccess `json:"groups"`
}

// NewAuthDocument returns an empty authorization document
func NewAuthDocument() *AuthDocument {
	return &AuthDocument{
		Operators: []string{},
		Level1:    map[string]Grant{},
		Level2:    map[string]Grant{},
		Groups:    map[string]GroupAccess{},
	}
}

// NormalizePrincipal strips a leading @ and lower-cases a username
func NormalizePrincipal(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
