package query

import (
	"context"
	"fmt"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/ledger-service/internal/repository"
	"github.com/brokerdesk/platform/shared/cqrs"
	"github.com/brokerdesk/platform/shared/models"
)

const defaultActivityLimit = 20

// ActivityFeed is satisfied by *redis.Feed[models.ActivityItem].
type ActivityFeed interface {
	Recent(ctx context.Context, key string, limit int64) ([]models.ActivityItem, error)
}

// AccountViews is satisfied by *repository.AccountReadRepository.
type AccountViews interface {
	GetAccountView(ctx context.Context, id string) (*models.AccountView, error)
}

// LedgerQueryService serves reads. It never takes the engine's locks; every
// result is a committed snapshot.
type LedgerQueryService struct {
	store    repository.Reader
	views    AccountViews
	activity ActivityFeed
}

func NewLedgerQueryService(store repository.Reader, views AccountViews, activity ActivityFeed) *LedgerQueryService {
	return &LedgerQueryService{store: store, views: views, activity: activity}
}

func (s *LedgerQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	return s.views.GetAccountView(ctx, q.AccountID)
}

func (s *LedgerQueryService) ListAccounts(ctx context.Context, q cqrs.ListAccountsQuery) ([]*models.AccountView, error) {
	accounts, err := s.store.ListAccounts(ctx, repository.AccountFilter{Search: q.Search})
	if err != nil {
		return nil, err
	}
	views := make([]*models.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, models.NewAccountView(a))
	}
	return views, nil
}

func (s *LedgerQueryService) ListRequests(ctx context.Context, q cqrs.ListRequestsQuery) ([]*models.Request, error) {
	if q.Status != "" {
		if _, ok := models.ParseRequestStatus(string(q.Status)); !ok {
			return nil, apperr.Invalid("status", apperr.ErrInvalidInput)
		}
	}
	return s.store.ListRequests(ctx, q.Kind, repository.RequestFilter{AccountID: q.AccountID, Status: q.Status})
}

// GetRequest reports another account's request as not found rather than
// forbidden so ids cannot be guessed.
func (s *LedgerQueryService) GetRequest(ctx context.Context, q cqrs.GetRequestQuery) (*models.Request, error) {
	req, err := s.store.GetRequest(ctx, q.Kind, q.RequestID)
	if err != nil {
		return nil, err
	}
	if q.AccountID != "" && req.AccountID != q.AccountID {
		return nil, apperr.NotFoundf("%s request %s", q.Kind, q.RequestID)
	}
	return req, nil
}

func (s *LedgerQueryService) ListReferrals(ctx context.Context, q cqrs.ListReferralsQuery) ([]*models.ReferralEvent, error) {
	return s.store.ListReferralEvents(ctx, q.AccountID)
}

func (s *LedgerQueryService) ListPositions(ctx context.Context, q cqrs.ListPositionsQuery) ([]*models.Position, error) {
	return s.store.ListPositions(ctx, q.AccountID)
}

func (s *LedgerQueryService) ListJournal(ctx context.Context, q cqrs.ListJournalQuery) ([]*models.JournalEntry, error) {
	return s.store.ListJournal(ctx, q.AccountID)
}

// ListActivity returns the newest feed items. The feed is a projection and
// may lag the store slightly.
func (s *LedgerQueryService) ListActivity(ctx context.Context, q cqrs.ListActivityQuery) ([]models.ActivityItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if s.activity == nil {
		return []models.ActivityItem{}, nil
	}
	items, err := s.activity.Recent(ctx, q.AccountID, limit)
	if err != nil {
		return nil, apperr.Storage("read activity feed", err)
	}
	return items, nil
}

// AdminDashboard counts accounts and pending requests per kind.
func (s *LedgerQueryService) AdminDashboard(ctx context.Context) (*models.DashboardSummary, error) {
	accounts, err := s.store.ListAccounts(ctx, repository.AccountFilter{})
	if err != nil {
		return nil, err
	}
	summary := &models.DashboardSummary{
		Accounts: len(accounts),
		Pending:  make(map[models.RequestKind]int, len(models.RequestKinds)),
	}
	for _, kind := range models.RequestKinds {
		pending, err := s.store.ListRequests(ctx, kind, repository.RequestFilter{Status: models.StatusPending})
		if err != nil {
			return nil, fmt.Errorf("failed to count pending %s requests: %w", kind, err)
		}
		summary.Pending[kind] = len(pending)
	}
	return summary, nil
}
