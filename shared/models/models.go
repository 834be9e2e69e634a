package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is the write model of a user's financial record. Balance is only
// ever changed through the store's AdjustBalance.
type Account struct {
	ID               string          `json:"id"`
	FullName         string          `json:"fullName"`
	Username         string          `json:"username,omitempty"`
	Email            string          `json:"email"`
	PasswordHash     string          `json:"-"`
	Phone            string          `json:"phone,omitempty"`
	Country          string          `json:"country"`
	Balance          decimal.Decimal `json:"balance"`
	CanTrade         bool            `json:"canTrade"`
	ReferredBy       string          `json:"referredBy,omitempty"`
	ReferralsCount   int             `json:"referralsCount"`
	ReferralEarnings decimal.Decimal `json:"referralEarnings"`
	Referrals        []string        `json:"referrals"`
	CreatedAt        time.Time       `json:"createdTimestamp"`
	UpdatedAt        time.Time       `json:"updatedTimestamp"`
}

// Clone returns a deep copy so callers never share the Referrals slice.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Referrals = append([]string(nil), a.Referrals...)
	return &cp
}

// ReferralEvent is appended once per referred signup and never mutated.
type ReferralEvent struct {
	ID         string          `json:"id"`
	ReferrerID string          `json:"referrerId"`
	ReferredID string          `json:"referredId"`
	Amount     decimal.Decimal `json:"amount"`
	Type       string          `json:"type"`
	CreatedAt  time.Time       `json:"createdTimestamp"`
}

const ReferralTypeSignup = "signup"

type PositionKind string

const (
	PositionPlan  PositionKind = "plan"
	PositionCopy  PositionKind = "copy"
	PositionTrade PositionKind = "trade"
)

const PositionActive = "active"

// Position records funds committed by an immediate operation: an investment
// plan, a copied expert or a placed trade.
type Position struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	Kind      PositionKind    `json:"kind"`
	Ref       string          `json:"ref,omitempty"`
	RefName   string          `json:"refName,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdTimestamp"`
}

// Cause names why a balance changed. Every JournalEntry has exactly one.
type Cause string

const (
	CauseDeposit    Cause = "deposit"
	CauseWithdrawal Cause = "withdrawal"
	CauseCredit     Cause = "credit"
	CauseReferral   Cause = "referral"
	CausePlan       Cause = "plan"
	CauseCopy       Cause = "copy"
	CauseTrade      Cause = "trade"
	CauseAdjustment Cause = "adjustment"
)

// JournalEntry is written in the same transaction as the balance change it
// describes. RefID points at the request, referral event or position.
type JournalEntry struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	Cause        Cause           `json:"cause"`
	RefID        string          `json:"refId,omitempty"`
	CreatedAt    time.Time       `json:"createdTimestamp"`
}
