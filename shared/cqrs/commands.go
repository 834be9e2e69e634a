package cqrs

import (
	"github.com/brokerdesk/platform/shared/models"
	"github.com/shopspring/decimal"
)

type SignupCommand struct {
	FullName   string
	Username   string
	Email      string
	Password   string
	Phone      string
	Country    string
	ReferrerID string
}

type UpdateProfileCommand struct {
	AccountID string
	FullName  *string
	Phone     *string
	Country   *string
}

type RequestDepositCommand struct {
	AccountID string
	Amount    decimal.Decimal
	Currency  string
	Proof     string
}

type RequestWithdrawalCommand struct {
	AccountID string
	Amount    decimal.Decimal
	Address   string
	WalletUID string
}

type RequestCreditCommand struct {
	AccountID string
	Amount    decimal.Decimal
	Reason    string
}

type SubmitKYCCommand struct {
	AccountID string
	FullName  string
	IDNumber  string
	Country   string
	Document  string
}

// ResolveRequestCommand is issued by an admin to approve or reject a pending
// request of any kind.
type ResolveRequestCommand struct {
	Kind      models.RequestKind
	RequestID string
	Decision  models.Decision
}

type JoinPlanCommand struct {
	AccountID string
	Amount    decimal.Decimal
	PlanRef   string
	PlanName  string
}

type JoinCopyCommand struct {
	AccountID  string
	Amount     decimal.Decimal
	ExpertRef  string
	ExpertName string
}

type PlaceTradeCommand struct {
	AccountID string
	Amount    decimal.Decimal
	Signal    string
}

type SetTradingPermissionCommand struct {
	AccountID string
	Enabled   bool
}

type SetBalanceCommand struct {
	AccountID  string
	NewBalance decimal.Decimal
}

type LoginCommand struct {
	Email    string
	Password string
}

type RefreshTokenCommand struct {
	Token string
}
