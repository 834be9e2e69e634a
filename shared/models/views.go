package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountView is the read-optimised projection of an account.
// It never exposes PasswordHash.
type AccountView struct {
	ID               string          `json:"id"`
	FullName         string          `json:"fullName"`
	Username         string          `json:"username,omitempty"`
	Email            string          `json:"email"`
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

func NewAccountView(a *Account) *AccountView {
	return &AccountView{
		ID:               a.ID,
		FullName:         a.FullName,
		Username:         a.Username,
		Email:            a.Email,
		Phone:            a.Phone,
		Country:          a.Country,
		Balance:          a.Balance,
		CanTrade:         a.CanTrade,
		ReferredBy:       a.ReferredBy,
		ReferralsCount:   a.ReferralsCount,
		ReferralEarnings: a.ReferralEarnings,
		Referrals:        append([]string{}, a.Referrals...),
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// ActivityItem is one line of an account's recent activity feed.
type ActivityItem struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	RefID     string    `json:"refId,omitempty"`
	CreatedAt time.Time `json:"createdTimestamp"`
}

// DashboardSummary backs the admin back office landing page.
type DashboardSummary struct {
	Accounts int                 `json:"accounts"`
	Pending  map[RequestKind]int `json:"pending"`
}
