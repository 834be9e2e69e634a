package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/ledger-service/internal/metrics"
	"github.com/brokerdesk/platform/ledger-service/internal/repository"
	"github.com/brokerdesk/platform/shared/cqrs"
	"github.com/brokerdesk/platform/shared/events"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stream != events.LedgerEventsStream {
		return errors.New("unexpected stream " + stream)
	}
	p.types = append(p.types, eventType)
	p.events = append(p.events, data)
	return p.err
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type recordingCache struct {
	mu          sync.Mutex
	ids         []string
	invalidated []string
}

func (c *recordingCache) InvalidateAccount(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
}

func (c *recordingCache) CacheAccount(_ context.Context, a *models.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, a.ID)
}

// failingCommitStore runs the transaction body and then reports a storage
// failure instead of committing.
type failingCommitStore struct {
	*repository.MemoryStore
}

func (s failingCommitStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	sentinel := errors.New("rollback")
	err := s.MemoryStore.WithTx(ctx, func(tx repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return sentinel
	})
	if errors.Is(err, sentinel) {
		return apperr.Storage("commit", errors.New("disk full"))
	}
	return err
}

// unreadableAccountsStore commits normally but fails account reads made
// outside a transaction.
type unreadableAccountsStore struct {
	*repository.MemoryStore
}

func (s unreadableAccountsStore) GetAccount(context.Context, string) (*models.Account, error) {
	return nil, apperr.Storage("get account", errors.New("connection reset"))
}

type fixture struct {
	store     *repository.MemoryStore
	svc       *LedgerCommandService
	publisher *recordingPublisher
	cache     *recordingCache
	metrics   *metrics.Metrics
	logs      *logtest.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	f := &fixture{
		store:     repository.NewMemoryStore(),
		publisher: &recordingPublisher{},
		cache:     &recordingCache{},
		metrics:   metrics.New(),
		logs:      hook,
	}
	f.svc = NewLedgerCommandService(f.store, Options{
		ReferralBonus:  decimal.NewFromInt(10),
		MinTradeAmount: decimal.NewFromInt(20),
		Publisher:      f.publisher,
		Cache:          f.cache,
		Metrics:        f.metrics,
		Logger:         logrus.NewEntry(logger),
	})
	return f
}

func (f *fixture) signup(t *testing.T, email, referrer string) *models.Account {
	t.Helper()
	account, err := f.svc.Signup(context.Background(), cqrs.SignupCommand{
		FullName:   "Test " + email,
		Email:      email,
		Password:   "Secret123",
		Country:    "GB",
		ReferrerID: referrer,
	})
	require.NoError(t, err)
	return account
}

// fund credits an account through the normal deposit flow.
func (f *fixture) fund(t *testing.T, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	id, err := f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: accountID, Amount: decimal.NewFromInt(amount), Currency: "usd"})
	require.NoError(t, err)
	_, err = f.svc.ResolveDeposit(ctx, id, models.DecisionApprove)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return a.Balance
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDepositRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	id, err := f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: acc.ID, Amount: dec("100"), Currency: "usd", Proof: "receipt.png"})
	require.NoError(t, err)
	assert.True(t, f.balance(t, acc.ID).IsZero(), "pending deposit must not move the balance")

	req, err := f.store.GetRequest(ctx, models.KindDeposit, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, models.DepositPayload{Currency: "USD", Proof: "receipt.png"}, req.Payload)

	res, err := f.svc.ResolveDeposit(ctx, id, models.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, res.Request.Status)
	require.NotNil(t, res.Balance)
	assert.True(t, res.Balance.Equal(dec("100")))
	assert.True(t, f.balance(t, acc.ID).Equal(dec("100")))

	journal, err := f.store.ListJournal(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, models.CauseDeposit, journal[0].Cause)
	assert.Equal(t, id, journal[0].RefID)
	assert.True(t, journal[0].BalanceAfter.Equal(dec("100")))

	assert.Contains(t, f.publisher.published(), events.RequestResolved)
	count, err := testutil.GatherAndCount(f.metrics.Registry, "ledger_balance_mutations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveTwiceIsAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	id, err := f.svc.RequestCredit(ctx, cqrs.RequestCreditCommand{AccountID: acc.ID, Amount: dec("25.50"), Reason: "bonus"})
	require.NoError(t, err)

	_, err = f.svc.ResolveCredit(ctx, id, models.DecisionApprove)
	require.NoError(t, err)

	for _, d := range []models.Decision{models.DecisionApprove, models.DecisionReject} {
		_, err = f.svc.ResolveCredit(ctx, id, d)
		assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
	}
	assert.True(t, f.balance(t, acc.ID).Equal(dec("25.50")))
}

func TestRejectHasNoBalanceEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	id, err := f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: acc.ID, Amount: dec("10"), Currency: "USD"})
	require.NoError(t, err)

	res, err := f.svc.ResolveDeposit(ctx, id, models.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Request.Status)
	assert.Nil(t, res.Balance)
	assert.True(t, f.balance(t, acc.ID).IsZero())

	journal, err := f.store.ListJournal(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestWithdrawalInsufficientFundsStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 30)

	id, err := f.svc.RequestWithdrawal(ctx, cqrs.RequestWithdrawalCommand{AccountID: acc.ID, Amount: dec("50"), Address: "bc1qxyz"})
	require.NoError(t, err)

	_, err = f.svc.ResolveWithdrawal(ctx, id, models.DecisionApprove)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	req, err := f.store.GetRequest(ctx, models.KindWithdrawal, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Nil(t, req.ResolvedAt)
	assert.True(t, f.balance(t, acc.ID).Equal(dec("30")))

	// Still resolvable afterwards.
	res, err := f.svc.ResolveWithdrawal(ctx, id, models.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Request.Status)
}

func TestPendingWithdrawalsMayExceedBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 100)

	first, err := f.svc.RequestWithdrawal(ctx, cqrs.RequestWithdrawalCommand{AccountID: acc.ID, Amount: dec("80"), Address: "addr-1"})
	require.NoError(t, err)
	second, err := f.svc.RequestWithdrawal(ctx, cqrs.RequestWithdrawalCommand{AccountID: acc.ID, Amount: dec("80"), Address: "addr-2"})
	require.NoError(t, err)

	res, err := f.svc.ResolveWithdrawal(ctx, first, models.DecisionApprove)
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(dec("20")))

	_, err = f.svc.ResolveWithdrawal(ctx, second, models.DecisionApprove)
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.True(t, f.balance(t, acc.ID).Equal(dec("20")))
}

func TestSignupWithReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.signup(t, "a@example.com", "")
	referred := f.signup(t, "b@example.com", referrer.ID)

	assert.Equal(t, referrer.ID, referred.ReferredBy)
	assert.True(t, referred.Balance.IsZero())

	a, err := f.store.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec("10.00")), "balance = %s", a.Balance)
	assert.Equal(t, 1, a.ReferralsCount)
	assert.Equal(t, []string{referred.ID}, a.Referrals)
	assert.True(t, a.ReferralEarnings.Equal(dec("10.00")))

	evts, err := f.store.ListReferralEvents(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, referred.ID, evts[0].ReferredID)
	assert.True(t, evts[0].Amount.Equal(dec("10")))
	assert.Equal(t, models.ReferralTypeSignup, evts[0].Type)

	journal, err := f.store.ListJournal(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, models.CauseReferral, journal[0].Cause)
	assert.Equal(t, evts[0].ID, journal[0].RefID)

	assert.Contains(t, f.publisher.published(), events.ReferralAwarded)
	assert.Contains(t, f.cache.ids, referrer.ID)
}

func TestSignupWithUnknownReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "acc-does-not-exist")

	assert.Empty(t, acc.ReferredBy)
	evts, err := f.store.ListReferralEvents(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "taken@example.com", "")

	valid := cqrs.SignupCommand{FullName: "Jane", Email: "jane@example.com", Password: "Secret123", Country: "GB"}
	tests := []struct {
		name   string
		mutate func(c *cqrs.SignupCommand)
		want   error
		code   string
	}{
		{"missing name", func(c *cqrs.SignupCommand) { c.FullName = "  " }, apperr.ErrMissingField, "MissingField"},
		{"missing email", func(c *cqrs.SignupCommand) { c.Email = "" }, apperr.ErrMissingField, "MissingField"},
		{"missing country", func(c *cqrs.SignupCommand) { c.Country = "" }, apperr.ErrMissingField, "MissingField"},
		{"weak password", func(c *cqrs.SignupCommand) { c.Password = "short" }, apperr.ErrWeakPassword, "WeakPassword"},
		{"email taken", func(c *cqrs.SignupCommand) { c.Email = "TAKEN@example.com" }, apperr.ErrEmailTaken, "EmailTaken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := valid
			tt.mutate(&cmd)
			_, err := f.svc.Signup(ctx, cmd)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.code, apperr.Code(err))
		})
	}

	accounts, err := f.store.ListAccounts(ctx, repository.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestJoinPlanInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 40)

	_, err := f.svc.JoinPlan(ctx, cqrs.JoinPlanCommand{AccountID: acc.ID, Amount: dec("50"), PlanRef: "gold"})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.True(t, f.balance(t, acc.ID).Equal(dec("40")))

	positions, err := f.store.ListPositions(ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestJoinPlanAndCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 100)

	plan, err := f.svc.JoinPlan(ctx, cqrs.JoinPlanCommand{AccountID: acc.ID, Amount: dec("60"), PlanRef: "gold", PlanName: "Gold"})
	require.NoError(t, err)
	assert.True(t, plan.Balance.Equal(dec("40")))
	assert.Equal(t, models.PositionPlan, plan.Position.Kind)

	cp, err := f.svc.JoinCopy(ctx, cqrs.JoinCopyCommand{AccountID: acc.ID, Amount: dec("40"), ExpertRef: "exp-1"})
	require.NoError(t, err)
	assert.True(t, cp.Balance.IsZero())

	positions, err := f.store.ListPositions(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, plan.Position.ID, positions[0].ID)
	assert.Equal(t, models.PositionActive, positions[1].Status)

	journal, err := f.store.ListJournal(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, journal, 3)
	assert.Equal(t, models.CauseCopy, journal[2].Cause)
	assert.True(t, journal[2].Delta.Equal(dec("-40")))

	_, err = f.svc.JoinCopy(ctx, cqrs.JoinCopyCommand{AccountID: acc.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, apperr.ErrMissingField)
}

func TestKYCApprovalEnablesTrading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 100)

	_, err := f.svc.PlaceTrade(ctx, cqrs.PlaceTradeCommand{AccountID: acc.ID, Amount: dec("25"), Signal: "BTCUSD"})
	assert.ErrorIs(t, err, apperr.ErrTradingDisabled)

	_, err = f.svc.SubmitKYC(ctx, cqrs.SubmitKYCCommand{AccountID: acc.ID, FullName: "Jane", Country: "GB"})
	assert.ErrorIs(t, err, apperr.ErrMissingField)
	assert.Equal(t, "idNumber", apperr.Field(err))

	id, err := f.svc.SubmitKYC(ctx, cqrs.SubmitKYCCommand{AccountID: acc.ID, FullName: "Jane", IDNumber: "X123", Country: "GB"})
	require.NoError(t, err)

	res, err := f.svc.ResolveKYC(ctx, id, models.DecisionApprove)
	require.NoError(t, err)
	assert.Nil(t, res.Balance)

	a, err := f.store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, a.CanTrade)
	assert.True(t, a.Balance.Equal(dec("100")))

	_, err = f.svc.PlaceTrade(ctx, cqrs.PlaceTradeCommand{AccountID: acc.ID, Amount: dec("10"), Signal: "BTCUSD"})
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	trade, err := f.svc.PlaceTrade(ctx, cqrs.PlaceTradeCommand{AccountID: acc.ID, Amount: dec("25"), Signal: "BTCUSD"})
	require.NoError(t, err)
	assert.True(t, trade.Balance.Equal(dec("75")))
}

func TestKYCRejectLeavesTradingDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	id, err := f.svc.SubmitKYC(ctx, cqrs.SubmitKYCCommand{AccountID: acc.ID, FullName: "Jane", IDNumber: "X123", Country: "GB"})
	require.NoError(t, err)
	_, err = f.svc.ResolveKYC(ctx, id, models.DecisionReject)
	require.NoError(t, err)

	a, err := f.store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, a.CanTrade)
}

func TestInvalidAmountsCreateNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	for _, amount := range []string{"0", "-5", "0.001"} {
		_, err := f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: acc.ID, Amount: dec(amount), Currency: "USD"})
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount, amount)
		assert.Equal(t, "InvalidAmount", apperr.Code(err))

		_, err = f.svc.RequestWithdrawal(ctx, cqrs.RequestWithdrawalCommand{AccountID: acc.ID, Amount: dec(amount), Address: "addr"})
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount, amount)

		_, err = f.svc.JoinPlan(ctx, cqrs.JoinPlanCommand{AccountID: acc.ID, Amount: dec(amount), PlanRef: "gold"})
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount, amount)
	}

	_, err := f.svc.RequestWithdrawal(ctx, cqrs.RequestWithdrawalCommand{AccountID: acc.ID, Amount: dec("5")})
	assert.ErrorIs(t, err, apperr.ErrMissingField)
	_, err = f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: acc.ID, Amount: dec("5")})
	assert.ErrorIs(t, err, apperr.ErrMissingField)

	for _, kind := range models.RequestKinds {
		reqs, err := f.store.ListRequests(ctx, kind, repository.RequestFilter{})
		require.NoError(t, err)
		assert.Empty(t, reqs, kind)
	}
}

func TestRequestForUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestCredit(context.Background(), cqrs.RequestCreditCommand{AccountID: "acc-ghost", Amount: dec("5")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResolveUnknownRequestAndBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResolveDeposit(ctx, "dep-missing", models.DecisionApprove)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.ResolveRequest(ctx, cqrs.ResolveRequestCommand{Kind: "loan", RequestID: "x", Decision: models.DecisionApprove})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.ResolveDeposit(ctx, "dep-1", "maybe")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "decision", apperr.Field(err))

	// Only the well-formed attempt reaches the resolve counter.
	count, err := testutil.GatherAndCount(f.metrics.Registry, "ledger_requests_resolved_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentApprovalsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	id, err := f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: acc.ID, Amount: dec("100"), Currency: "USD"})
	require.NoError(t, err)

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		resolved int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ResolveDeposit(ctx, id, models.DecisionApprove)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrAlreadyResolved):
				resolved++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, resolved)
	assert.True(t, f.balance(t, acc.ID).Equal(dec("100")))
	assert.Zero(t, f.svc.requestLocks.size())
	assert.Zero(t, f.svc.accountLocks.size())
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 100)

	const n = 10
	ids := make([]string, n)
	for i := range ids {
		id, err := f.svc.RequestWithdrawal(ctx, cqrs.RequestWithdrawalCommand{AccountID: acc.ID, Amount: dec("30"), Address: "addr"})
		require.NoError(t, err)
		ids[i] = id
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.ResolveWithdrawal(ctx, id, models.DecisionApprove)
			if err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 3, approved)
	assert.True(t, f.balance(t, acc.ID).Equal(dec("10")))

	pending, err := f.store.ListRequests(ctx, models.KindWithdrawal, repository.RequestFilter{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, n-3)
}

func TestConcurrentReferralSignups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.signup(t, "root@example.com", "")

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Signup(ctx, cqrs.SignupCommand{
				FullName:   "Child",
				Email:      string(rune('a'+i)) + "@example.com",
				Password:   "Secret123",
				Country:    "GB",
				ReferrerID: referrer.ID,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a, err := f.store.GetAccount(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, n, a.ReferralsCount)
	assert.Len(t, a.Referrals, n)
	assert.True(t, a.Balance.Equal(dec("80")))
}

func TestStorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	id, err := f.svc.RequestDeposit(ctx, cqrs.RequestDepositCommand{AccountID: acc.ID, Amount: dec("100"), Currency: "USD"})
	require.NoError(t, err)

	broken := NewLedgerCommandService(failingCommitStore{f.store}, Options{ReferralBonus: decimal.NewFromInt(10)})

	_, err = broken.ResolveDeposit(ctx, id, models.DecisionApprove)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))

	req, err := f.store.GetRequest(ctx, models.KindDeposit, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.True(t, f.balance(t, acc.ID).IsZero())

	_, err = broken.Signup(ctx, cqrs.SignupCommand{FullName: "B", Email: "b@example.com", Password: "Secret123", Country: "GB", ReferrerID: acc.ID})
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.True(t, f.balance(t, acc.ID).IsZero())
	_, err = f.store.GetAccountByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("redis down")
	acc := f.signup(t, "a@example.com", "")

	_, err := f.svc.RequestCredit(context.Background(), cqrs.RequestCreditCommand{AccountID: acc.ID, Amount: dec("1")})
	require.NoError(t, err)

	var warned bool
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "failed to publish event" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSetBalanceJournalsAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")
	f.fund(t, acc.ID, 50)

	updated, err := f.svc.SetBalance(ctx, cqrs.SetBalanceCommand{AccountID: acc.ID, NewBalance: dec("20.25")})
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(dec("20.25")))

	journal, err := f.store.ListJournal(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.Equal(t, models.CauseAdjustment, journal[1].Cause)
	assert.True(t, journal[1].Delta.Equal(dec("-29.75")))

	_, err = f.svc.SetBalance(ctx, cqrs.SetBalanceCommand{AccountID: acc.ID, NewBalance: dec("-1")})
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = f.svc.SetBalance(ctx, cqrs.SetBalanceCommand{AccountID: "acc-ghost", NewBalance: dec("1")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetTradingPermissionAndProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.signup(t, "a@example.com", "")

	updated, err := f.svc.SetTradingPermission(ctx, cqrs.SetTradingPermissionCommand{AccountID: acc.ID, Enabled: true})
	require.NoError(t, err)
	assert.True(t, updated.CanTrade)

	name := "Renamed"
	phone := ""
	updated, err = f.svc.UpdateProfile(ctx, cqrs.UpdateProfileCommand{AccountID: acc.ID, FullName: &name, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.FullName)
	assert.True(t, updated.CanTrade)

	blank := " "
	_, err = f.svc.UpdateProfile(ctx, cqrs.UpdateProfileCommand{AccountID: acc.ID, Country: &blank})
	assert.ErrorIs(t, err, apperr.ErrMissingField)
	assert.Contains(t, f.publisher.published(), events.TradingPermitted)
}

func TestUnrefreshableViewIsInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	cache := &recordingCache{}
	svc := NewLedgerCommandService(unreadableAccountsStore{f.store}, Options{
		ReferralBonus: decimal.NewFromInt(10),
		Cache:         cache,
		Logger:        logrus.NewEntry(logger),
	})

	account, err := svc.Signup(ctx, cqrs.SignupCommand{FullName: "Jane", Email: "jane@example.com", Password: "Secret123", Country: "GB"})
	require.NoError(t, err)

	assert.Empty(t, cache.ids)
	assert.Equal(t, []string{account.ID}, cache.invalidated)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "failed to refresh account view", hook.LastEntry().Message)
}
