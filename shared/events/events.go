package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	AccountCreated   = "account.created"
	AccountUpdated   = "account.updated"
	ReferralAwarded  = "referral.awarded"
	RequestCreated   = "request.created"
	RequestResolved  = "request.resolved"
	PositionOpened   = "position.opened"
	BalanceAdjusted  = "balance.adjusted"
	TradingPermitted = "trading.permission"
)

// Stream names
const (
	LedgerEventsStream = "ledger.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Account events
type AccountCreatedEvent struct {
	AccountID  string `json:"accountId"`
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	ReferredBy string `json:"referredBy,omitempty"`
}

type AccountUpdatedEvent struct {
	AccountID string `json:"accountId"`
	FullName  string `json:"fullName"`
}

type ReferralAwardedEvent struct {
	ReferrerID string          `json:"referrerId"`
	ReferredID string          `json:"referredId"`
	Amount     decimal.Decimal `json:"amount"`
}

// Request lifecycle events
type RequestCreatedEvent struct {
	RequestID string          `json:"requestId"`
	AccountID string          `json:"accountId"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
}

type RequestResolvedEvent struct {
	RequestID  string           `json:"requestId"`
	AccountID  string           `json:"accountId"`
	Kind       string           `json:"kind"`
	Status     string           `json:"status"`
	Amount     decimal.Decimal  `json:"amount"`
	NewBalance *decimal.Decimal `json:"newBalance,omitempty"`
}

type PositionOpenedEvent struct {
	PositionID string          `json:"positionId"`
	AccountID  string          `json:"accountId"`
	Kind       string          `json:"kind"`
	Ref        string          `json:"ref"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type BalanceAdjustedEvent struct {
	AccountID  string          `json:"accountId"`
	NewBalance decimal.Decimal `json:"newBalance"`
	Change     decimal.Decimal `json:"change"`
}

type TradingPermissionEvent struct {
	AccountID string `json:"accountId"`
	Enabled   bool   `json:"enabled"`
}
