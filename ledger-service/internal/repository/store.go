package repository

import (
	"context"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/brokerdesk/platform/shared/utils"
	"github.com/shopspring/decimal"
)

// AccountFilter narrows ListAccounts. Search matches the account id or full
// name, case-insensitively.
type AccountFilter struct {
	Search string
}

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	AccountID string
	Status    models.RequestStatus
}

// Reader is the read side of the ledger store. Every list is returned in
// insertion order and every record is a copy the caller may keep.
type Reader interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]*models.Account, error)

	GetRequest(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error)
	ListRequests(ctx context.Context, kind models.RequestKind, filter RequestFilter) ([]*models.Request, error)

	// ListReferralEvents returns events credited to referrerID, or all
	// events when referrerID is empty.
	ListReferralEvents(ctx context.Context, referrerID string) ([]*models.ReferralEvent, error)
	ListPositions(ctx context.Context, accountID string) ([]*models.Position, error)
	ListJournal(ctx context.Context, accountID string) ([]*models.JournalEntry, error)
}

// Tx is one atomic unit of work. Nothing written through a Tx is visible
// outside it until WithTx's callback returns nil.
type Tx interface {
	// GetAccount reads an account and, on SQL backends, locks its row for
	// the rest of the transaction.
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)

	// UpsertAccount inserts a new account with a zero balance, or updates
	// the profile, permission and referral fields of an existing one. It
	// never changes balance, email or referredBy of an existing account.
	UpsertAccount(ctx context.Context, account *models.Account) error

	// AdjustBalance is the only way to change a balance. A delta that would
	// leave the balance negative fails with apperr.ErrInsufficientFunds and
	// changes nothing.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)

	GetRequest(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error)

	// CreateRequest assigns a fresh id, pending status and creation time to
	// req, persists it and returns the id.
	CreateRequest(ctx context.Context, req *models.Request) (string, error)

	// SetRequestStatus moves a pending request to a terminal status. Any
	// other current status fails with apperr.ErrAlreadyResolved.
	SetRequestStatus(ctx context.Context, kind models.RequestKind, id string, status models.RequestStatus) (*models.Request, error)

	AppendReferralEvent(ctx context.Context, event *models.ReferralEvent) error
	AppendPosition(ctx context.Context, position *models.Position) error
	AppendJournal(ctx context.Context, entry *models.JournalEntry) error
}

// Store is the durable ledger: accounts, the four request collections, the
// referral log, positions and the balance journal.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

var requestPrefixes = map[models.RequestKind]string{
	models.KindDeposit:    utils.PrefixDeposit,
	models.KindWithdrawal: utils.PrefixWithdrawal,
	models.KindCredit:     utils.PrefixCredit,
	models.KindKYC:        utils.PrefixKYC,
}

func checkKind(kind models.RequestKind) error {
	if _, ok := requestPrefixes[kind]; !ok {
		return apperr.Invalid("kind", apperr.ErrInvalidInput)
	}
	return nil
}
