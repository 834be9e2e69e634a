package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/brokerdesk/platform/shared/utils"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process memory. Transactions run one at a
// time under the write lock and stage their writes, so a failing callback
// leaves no trace. Reads return copies.
type MemoryStore struct {
	mu sync.RWMutex

	accounts     map[string]*models.Account
	accountOrder []string
	emails       map[string]string

	requests     map[models.RequestKind]map[string]*models.Request
	requestOrder map[models.RequestKind][]string

	referrals []*models.ReferralEvent
	positions []*models.Position
	journal   []*models.JournalEntry

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		accounts:     make(map[string]*models.Account),
		emails:       make(map[string]string),
		requests:     make(map[models.RequestKind]map[string]*models.Request),
		requestOrder: make(map[models.RequestKind][]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for kind := range requestPrefixes {
		s.requests[kind] = make(map[string]*models.Request)
	}
	return s
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Storage("begin transaction", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:    s,
		accounts: make(map[string]*models.Account),
		requests: make(map[models.RequestKind]map[string]*models.Request),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, apperr.NotFoundf("account %s", id)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[utils.NormalizeEmail(email)]
	if !ok {
		return nil, apperr.NotFoundf("account with email %s", email)
	}
	return s.accounts[id].Clone(), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, filter AccountFilter) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]*models.Account, 0, len(s.accountOrder))
	for _, id := range s.accountOrder {
		a := s.accounts[id]
		if search != "" &&
			!strings.Contains(strings.ToLower(a.ID), search) &&
			!strings.Contains(strings.ToLower(a.FullName), search) {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *MemoryStore) GetRequest(_ context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[kind][id]
	if !ok {
		return nil, apperr.NotFoundf("%s request %s", kind, id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRequests(_ context.Context, kind models.RequestKind, filter RequestFilter) ([]*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, id := range s.requestOrder[kind] {
		r := s.requests[kind][id]
		if filter.AccountID != "" && r.AccountID != filter.AccountID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListReferralEvents(_ context.Context, referrerID string) ([]*models.ReferralEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ReferralEvent, 0)
	for _, e := range s.referrals {
		if referrerID == "" || e.ReferrerID == referrerID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Position, 0)
	for _, p := range s.positions {
		if accountID == "" || p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListJournal(_ context.Context, accountID string) ([]*models.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.JournalEntry, 0)
	for _, e := range s.journal {
		if accountID == "" || e.AccountID == accountID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memoryTx stages writes on top of the store. The store's write lock is held
// by WithTx for the lifetime of the transaction.
type memoryTx struct {
	store *MemoryStore

	accounts    map[string]*models.Account
	newAccounts []string

	requests    map[models.RequestKind]map[string]*models.Request
	newRequests []*models.Request

	referrals []*models.ReferralEvent
	positions []*models.Position
	journal   []*models.JournalEntry
}

func (tx *memoryTx) account(id string) (*models.Account, bool) {
	if a, ok := tx.accounts[id]; ok {
		return a, true
	}
	a, ok := tx.store.accounts[id]
	return a, ok
}

func (tx *memoryTx) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := tx.account(id)
	if !ok {
		return nil, apperr.NotFoundf("account %s", id)
	}
	return a.Clone(), nil
}

func (tx *memoryTx) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	email = utils.NormalizeEmail(email)
	for _, id := range tx.newAccounts {
		if a := tx.accounts[id]; a.Email == email {
			return a.Clone(), nil
		}
	}
	if id, ok := tx.store.emails[email]; ok {
		a, _ := tx.account(id)
		return a.Clone(), nil
	}
	return nil, apperr.NotFoundf("account with email %s", email)
}

func (tx *memoryTx) UpsertAccount(ctx context.Context, account *models.Account) error {
	existing, ok := tx.account(account.ID)
	if !ok {
		email := utils.NormalizeEmail(account.Email)
		if _, err := tx.GetAccountByEmail(ctx, email); err == nil {
			return apperr.ErrEmailTaken
		}
		a := account.Clone()
		a.Email = email
		a.Balance = decimal.Zero
		if a.CreatedAt.IsZero() {
			a.CreatedAt = tx.store.now()
			a.UpdatedAt = a.CreatedAt
		}
		tx.accounts[a.ID] = a
		tx.newAccounts = append(tx.newAccounts, a.ID)
		return nil
	}

	a := account.Clone()
	a.Balance = existing.Balance
	a.Email = existing.Email
	a.ReferredBy = existing.ReferredBy
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = tx.store.now()
	tx.accounts[a.ID] = a
	return nil
}

func (tx *memoryTx) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	existing, ok := tx.account(accountID)
	if !ok {
		return decimal.Zero, apperr.NotFoundf("account %s", accountID)
	}
	next := existing.Balance.Add(delta)
	if next.IsNegative() {
		return existing.Balance, apperr.ErrInsufficientFunds
	}
	a := existing.Clone()
	a.Balance = next
	a.UpdatedAt = tx.store.now()
	tx.accounts[accountID] = a
	return next, nil
}

func (tx *memoryTx) request(kind models.RequestKind, id string) (*models.Request, bool) {
	if r, ok := tx.requests[kind][id]; ok {
		return r, true
	}
	r, ok := tx.store.requests[kind][id]
	return r, ok
}

func (tx *memoryTx) GetRequest(_ context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	r, ok := tx.request(kind, id)
	if !ok {
		return nil, apperr.NotFoundf("%s request %s", kind, id)
	}
	return r.Clone(), nil
}

func (tx *memoryTx) CreateRequest(_ context.Context, req *models.Request) (string, error) {
	if err := checkKind(req.Kind); err != nil {
		return "", err
	}
	if _, ok := tx.account(req.AccountID); !ok {
		return "", apperr.NotFoundf("account %s", req.AccountID)
	}
	req.ID = utils.GenerateID(requestPrefixes[req.Kind])
	req.Status = models.StatusPending
	req.CreatedAt = tx.store.now()
	req.ResolvedAt = nil

	stored := req.Clone()
	if tx.requests[req.Kind] == nil {
		tx.requests[req.Kind] = make(map[string]*models.Request)
	}
	tx.requests[req.Kind][req.ID] = stored
	tx.newRequests = append(tx.newRequests, stored)
	return req.ID, nil
}

func (tx *memoryTx) SetRequestStatus(_ context.Context, kind models.RequestKind, id string, status models.RequestStatus) (*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	existing, ok := tx.request(kind, id)
	if !ok {
		return nil, apperr.NotFoundf("%s request %s", kind, id)
	}
	if existing.Status != models.StatusPending {
		return nil, apperr.ErrAlreadyResolved
	}
	r := existing.Clone()
	now := tx.store.now()
	r.Status = status
	r.ResolvedAt = &now
	if tx.requests[kind] == nil {
		tx.requests[kind] = make(map[string]*models.Request)
	}
	tx.requests[kind][id] = r
	return r.Clone(), nil
}

func (tx *memoryTx) AppendReferralEvent(_ context.Context, event *models.ReferralEvent) error {
	if event.ID == "" {
		event.ID = utils.GenerateID(utils.PrefixReferral)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = tx.store.now()
	}
	cp := *event
	tx.referrals = append(tx.referrals, &cp)
	return nil
}

func (tx *memoryTx) AppendPosition(_ context.Context, position *models.Position) error {
	if position.ID == "" {
		position.ID = utils.GenerateID(utils.PrefixPosition)
	}
	if position.CreatedAt.IsZero() {
		position.CreatedAt = tx.store.now()
	}
	cp := *position
	tx.positions = append(tx.positions, &cp)
	return nil
}

func (tx *memoryTx) AppendJournal(_ context.Context, entry *models.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = utils.GenerateID(utils.PrefixJournal)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = tx.store.now()
	}
	cp := *entry
	tx.journal = append(tx.journal, &cp)
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for _, id := range tx.newAccounts {
		s.accountOrder = append(s.accountOrder, id)
		s.emails[tx.accounts[id].Email] = id
	}
	for kind, byID := range tx.requests {
		for id, r := range byID {
			s.requests[kind][id] = r
		}
	}
	for _, r := range tx.newRequests {
		s.requestOrder[r.Kind] = append(s.requestOrder[r.Kind], r.ID)
	}
	s.referrals = append(s.referrals, tx.referrals...)
	s.positions = append(s.positions, tx.positions...)
	s.journal = append(s.journal, tx.journal...)
}
