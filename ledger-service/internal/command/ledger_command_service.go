package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/ledger-service/internal/metrics"
	"github.com/brokerdesk/platform/ledger-service/internal/repository"
	"github.com/brokerdesk/platform/shared/cqrs"
	"github.com/brokerdesk/platform/shared/events"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/brokerdesk/platform/shared/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// AccountCache is satisfied by *repository.AccountReadRepository.
type AccountCache interface {
	CacheAccount(ctx context.Context, account *models.Account)
	InvalidateAccount(ctx context.Context, id string)
}

type Options struct {
	ReferralBonus  decimal.Decimal
	MinTradeAmount decimal.Decimal

	// Optional collaborators. Nil disables the side effect.
	Publisher EventPublisher
	Cache     AccountCache
	Metrics   *metrics.Metrics
	Logger    *logrus.Entry
}

// LedgerCommandService is the only writer of balances and request state.
//
// Every read-modify-write runs inside one store transaction while holding
// the in-process lock of the request (if any) and then of the account.
// Cache refresh, event publication and metrics happen after commit and
// never fail the operation.
type LedgerCommandService struct {
	store          repository.Store
	referralBonus  decimal.Decimal
	minTradeAmount decimal.Decimal
	publisher      EventPublisher
	cache          AccountCache
	metrics        *metrics.Metrics
	log            *logrus.Entry

	requestLocks *keyedMutex
	accountLocks *keyedMutex
}

func NewLedgerCommandService(store repository.Store, opts Options) *LedgerCommandService {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LedgerCommandService{
		store:          store,
		referralBonus:  opts.ReferralBonus.Round(2),
		minTradeAmount: opts.MinTradeAmount.Round(2),
		publisher:      opts.Publisher,
		cache:          opts.Cache,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		requestLocks:   newKeyedMutex(),
		accountLocks:   newKeyedMutex(),
	}
}

// ResolveResult is the outcome of a successful resolve. Balance is set only
// when the resolution changed a balance.
type ResolveResult struct {
	Request *models.Request
	Balance *decimal.Decimal
}

// PositionResult is the outcome of joinPlan, joinCopy and placeTrade.
type PositionResult struct {
	Position *models.Position
	Balance  decimal.Decimal
}

// ---------- Signup and profile ----------

func (s *LedgerCommandService) Signup(ctx context.Context, cmd cqrs.SignupCommand) (*models.Account, error) {
	fullName := strings.TrimSpace(cmd.FullName)
	email := utils.NormalizeEmail(cmd.Email)
	country := strings.TrimSpace(cmd.Country)
	referrerID := strings.TrimSpace(cmd.ReferrerID)

	switch {
	case fullName == "":
		return nil, apperr.Missing("fullName")
	case email == "":
		return nil, apperr.Missing("email")
	case cmd.Password == "":
		return nil, apperr.Missing("password")
	case country == "":
		return nil, apperr.Missing("country")
	case !utils.StrongPassword(cmd.Password):
		return nil, apperr.Invalid("password", apperr.ErrWeakPassword)
	}

	id := utils.GenerateID(utils.PrefixAccount)
	if referrerID == id {
		return nil, apperr.Invalid("referrerId", apperr.ErrSelfReferral)
	}

	hash, err := utils.HashPassword(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if referrerID != "" {
		unlock := s.accountLocks.Lock(referrerID)
		defer unlock()
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:               id,
		FullName:         fullName,
		Username:         strings.TrimSpace(cmd.Username),
		Email:            email,
		PasswordHash:     hash,
		Phone:            strings.TrimSpace(cmd.Phone),
		Country:          country,
		Balance:          decimal.Zero,
		ReferralEarnings: decimal.Zero,
		Referrals:        []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var (
		referral  *models.ReferralEvent
		mutations []models.Cause
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if existing, err := tx.GetAccountByEmail(ctx, email); err == nil && existing != nil {
			return apperr.ErrEmailTaken
		} else if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		var referrer *models.Account
		if referrerID != "" {
			r, err := tx.GetAccount(ctx, referrerID)
			switch {
			case err == nil:
				referrer = r
			case errors.Is(err, apperr.ErrNotFound):
				// Unknown referrers are ignored.
			default:
				return err
			}
		}
		if referrer != nil {
			account.ReferredBy = referrer.ID
		}
		if err := tx.UpsertAccount(ctx, account); err != nil {
			return err
		}
		if referrer == nil {
			return nil
		}

		referral = &models.ReferralEvent{
			ID:         utils.GenerateID(utils.PrefixReferral),
			ReferrerID: referrer.ID,
			ReferredID: account.ID,
			Amount:     s.referralBonus,
			Type:       models.ReferralTypeSignup,
			CreatedAt:  now,
		}
		referrer.ReferralsCount++
		referrer.Referrals = append(referrer.Referrals, account.ID)
		referrer.ReferralEarnings = referrer.ReferralEarnings.Add(s.referralBonus)
		if err := tx.UpsertAccount(ctx, referrer); err != nil {
			return err
		}
		if s.referralBonus.IsPositive() {
			if _, err := s.adjust(ctx, tx, referrer.ID, s.referralBonus, models.CauseReferral, referral.ID); err != nil {
				return err
			}
			mutations = append(mutations, models.CauseReferral)
		}
		return tx.AppendReferralEvent(ctx, referral)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"account_id": account.ID, "referred_by": account.ReferredBy}).Info("account created")
	s.recordMutations(mutations)
	s.publish(ctx, events.AccountCreated, events.AccountCreatedEvent{
		AccountID:  account.ID,
		Email:      account.Email,
		FullName:   account.FullName,
		ReferredBy: account.ReferredBy,
	}, account.ID)
	if referral != nil {
		s.publish(ctx, events.ReferralAwarded, events.ReferralAwardedEvent{
			ReferrerID: referral.ReferrerID,
			ReferredID: referral.ReferredID,
			Amount:     referral.Amount,
		}, referral.ReferrerID)
	}
	return account, nil
}

func (s *LedgerCommandService) UpdateProfile(ctx context.Context, cmd cqrs.UpdateProfileCommand) (*models.Account, error) {
	fields := []struct {
		name  string
		value *string
	}{
		{"fullName", cmd.FullName},
		{"phone", cmd.Phone},
		{"country", cmd.Country},
	}
	for _, f := range fields {
		if f.value != nil && strings.TrimSpace(*f.value) == "" && f.name != "phone" {
			return nil, apperr.Missing(f.name)
		}
	}

	unlock := s.accountLocks.Lock(cmd.AccountID)
	defer unlock()

	var updated *models.Account
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		account, err := tx.GetAccount(ctx, cmd.AccountID)
		if err != nil {
			return err
		}
		if cmd.FullName != nil {
			account.FullName = strings.TrimSpace(*cmd.FullName)
		}
		if cmd.Phone != nil {
			account.Phone = strings.TrimSpace(*cmd.Phone)
		}
		if cmd.Country != nil {
			account.Country = strings.TrimSpace(*cmd.Country)
		}
		updated = account
		return tx.UpsertAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.AccountUpdated, events.AccountUpdatedEvent{
		AccountID: updated.ID,
		FullName:  updated.FullName,
	}, updated.ID)
	return updated, nil
}

// ---------- Request creation ----------

func (s *LedgerCommandService) RequestDeposit(ctx context.Context, cmd cqrs.RequestDepositCommand) (string, error) {
	amount, err := normalizeAmount(cmd.Amount)
	if err != nil {
		return "", err
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return "", apperr.Missing("currency")
	}
	return s.createRequest(ctx, &models.Request{
		AccountID: cmd.AccountID,
		Kind:      models.KindDeposit,
		Amount:    amount,
		Payload:   models.DepositPayload{Currency: currency, Proof: strings.TrimSpace(cmd.Proof)},
	})
}

// RequestWithdrawal records the ask only. Funds are checked and deducted when
// an admin approves it, so pending withdrawals may sum to more than the
// balance.
func (s *LedgerCommandService) RequestWithdrawal(ctx context.Context, cmd cqrs.RequestWithdrawalCommand) (string, error) {
	amount, err := normalizeAmount(cmd.Amount)
	if err != nil {
		return "", err
	}
	address := strings.TrimSpace(cmd.Address)
	if address == "" {
		return "", apperr.Missing("address")
	}
	return s.createRequest(ctx, &models.Request{
		AccountID: cmd.AccountID,
		Kind:      models.KindWithdrawal,
		Amount:    amount,
		Payload:   models.WithdrawalPayload{Address: address, WalletUID: strings.TrimSpace(cmd.WalletUID)},
	})
}

func (s *LedgerCommandService) RequestCredit(ctx context.Context, cmd cqrs.RequestCreditCommand) (string, error) {
	amount, err := normalizeAmount(cmd.Amount)
	if err != nil {
		return "", err
	}
	return s.createRequest(ctx, &models.Request{
		AccountID: cmd.AccountID,
		Kind:      models.KindCredit,
		Amount:    amount,
		Payload:   models.CreditPayload{Reason: strings.TrimSpace(cmd.Reason)},
	})
}

func (s *LedgerCommandService) SubmitKYC(ctx context.Context, cmd cqrs.SubmitKYCCommand) (string, error) {
	payload := models.KYCPayload{
		FullName: strings.TrimSpace(cmd.FullName),
		IDNumber: strings.TrimSpace(cmd.IDNumber),
		Country:  strings.TrimSpace(cmd.Country),
		Document: strings.TrimSpace(cmd.Document),
	}
	switch {
	case payload.FullName == "":
		return "", apperr.Missing("fullName")
	case payload.IDNumber == "":
		return "", apperr.Missing("idNumber")
	case payload.Country == "":
		return "", apperr.Missing("country")
	}
	return s.createRequest(ctx, &models.Request{
		AccountID: cmd.AccountID,
		Kind:      models.KindKYC,
		Amount:    decimal.Zero,
		Payload:   payload,
	})
}

func (s *LedgerCommandService) createRequest(ctx context.Context, req *models.Request) (string, error) {
	if req.AccountID == "" {
		return "", apperr.Missing("accountId")
	}
	var id string
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		id, err = tx.CreateRequest(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	s.metrics.RequestCreated(string(req.Kind))
	s.publish(ctx, events.RequestCreated, events.RequestCreatedEvent{
		RequestID: id,
		AccountID: req.AccountID,
		Kind:      string(req.Kind),
		Amount:    req.Amount,
	})
	return id, nil
}

// ---------- Resolution ----------

func (s *LedgerCommandService) ResolveDeposit(ctx context.Context, id string, decision models.Decision) (*ResolveResult, error) {
	return s.ResolveRequest(ctx, cqrs.ResolveRequestCommand{Kind: models.KindDeposit, RequestID: id, Decision: decision})
}

func (s *LedgerCommandService) ResolveWithdrawal(ctx context.Context, id string, decision models.Decision) (*ResolveResult, error) {
	return s.ResolveRequest(ctx, cqrs.ResolveRequestCommand{Kind: models.KindWithdrawal, RequestID: id, Decision: decision})
}

func (s *LedgerCommandService) ResolveCredit(ctx context.Context, id string, decision models.Decision) (*ResolveResult, error) {
	return s.ResolveRequest(ctx, cqrs.ResolveRequestCommand{Kind: models.KindCredit, RequestID: id, Decision: decision})
}

func (s *LedgerCommandService) ResolveKYC(ctx context.Context, id string, decision models.Decision) (*ResolveResult, error) {
	return s.ResolveRequest(ctx, cqrs.ResolveRequestCommand{Kind: models.KindKYC, RequestID: id, Decision: decision})
}

// ResolveRequest approves or rejects a pending request. The status change
// and its effect (balance delta or trading permission) commit together; if
// the effect fails the request stays pending.
func (s *LedgerCommandService) ResolveRequest(ctx context.Context, cmd cqrs.ResolveRequestCommand) (*ResolveResult, error) {
	if _, ok := models.ParseRequestKind(string(cmd.Kind)); !ok {
		return nil, apperr.Invalid("kind", apperr.ErrInvalidInput)
	}
	if _, ok := models.ParseDecision(string(cmd.Decision)); !ok {
		return nil, apperr.Invalid("decision", apperr.ErrInvalidInput)
	}
	if cmd.RequestID == "" {
		return nil, apperr.Missing("id")
	}

	result, err := s.resolve(ctx, cmd)
	outcome := "ok"
	if err != nil {
		outcome = apperr.Code(err)
	}
	s.metrics.RequestResolved(string(cmd.Kind), string(cmd.Decision), outcome)
	return result, err
}

func (s *LedgerCommandService) resolve(ctx context.Context, cmd cqrs.ResolveRequestCommand) (*ResolveResult, error) {
	unlockRequest := s.requestLocks.Lock(string(cmd.Kind) + ":" + cmd.RequestID)
	defer unlockRequest()

	current, err := s.store.GetRequest(ctx, cmd.Kind, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, apperr.ErrAlreadyResolved
	}

	unlockAccount := s.accountLocks.Lock(current.AccountID)
	defer unlockAccount()

	result := &ResolveResult{}
	var cause models.Cause
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		resolved, err := tx.SetRequestStatus(ctx, cmd.Kind, cmd.RequestID, cmd.Decision.Status())
		if err != nil {
			return err
		}
		result.Request = resolved
		if cmd.Decision == models.DecisionReject {
			return nil
		}

		var delta decimal.Decimal
		switch cmd.Kind {
		case models.KindDeposit:
			delta, cause = resolved.Amount, models.CauseDeposit
		case models.KindCredit:
			delta, cause = resolved.Amount, models.CauseCredit
		case models.KindWithdrawal:
			delta, cause = resolved.Amount.Neg(), models.CauseWithdrawal
		case models.KindKYC:
			account, err := tx.GetAccount(ctx, resolved.AccountID)
			if err != nil {
				return err
			}
			account.CanTrade = true
			return tx.UpsertAccount(ctx, account)
		}

		balance, err := s.adjust(ctx, tx, resolved.AccountID, delta, cause, resolved.ID)
		if err != nil {
			return err
		}
		result.Balance = &balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id": cmd.RequestID,
		"kind":       cmd.Kind,
		"status":     result.Request.Status,
		"account_id": result.Request.AccountID,
	}).Info("request resolved")
	if cause != "" {
		s.recordMutations([]models.Cause{cause})
	}
	s.publish(ctx, events.RequestResolved, events.RequestResolvedEvent{
		RequestID:  result.Request.ID,
		AccountID:  result.Request.AccountID,
		Kind:       string(result.Request.Kind),
		Status:     string(result.Request.Status),
		Amount:     result.Request.Amount,
		NewBalance: result.Balance,
	}, result.Request.AccountID)
	return result, nil
}

// ---------- Immediate balance operations ----------

// JoinPlan commits funds to an investment plan immediately.
func (s *LedgerCommandService) JoinPlan(ctx context.Context, cmd cqrs.JoinPlanCommand) (*PositionResult, error) {
	ref := strings.TrimSpace(cmd.PlanRef)
	if ref == "" {
		return nil, apperr.Missing("planRef")
	}
	return s.openPosition(ctx, cmd.AccountID, cmd.Amount, &models.Position{
		Kind:    models.PositionPlan,
		Ref:     ref,
		RefName: strings.TrimSpace(cmd.PlanName),
	}, models.CausePlan, false)
}

// JoinCopy commits funds to copying an expert trader immediately.
func (s *LedgerCommandService) JoinCopy(ctx context.Context, cmd cqrs.JoinCopyCommand) (*PositionResult, error) {
	ref := strings.TrimSpace(cmd.ExpertRef)
	if ref == "" {
		return nil, apperr.Missing("expertRef")
	}
	return s.openPosition(ctx, cmd.AccountID, cmd.Amount, &models.Position{
		Kind:    models.PositionCopy,
		Ref:     ref,
		RefName: strings.TrimSpace(cmd.ExpertName),
	}, models.CauseCopy, false)
}

// PlaceTrade needs an approved KYC and at least the configured minimum.
func (s *LedgerCommandService) PlaceTrade(ctx context.Context, cmd cqrs.PlaceTradeCommand) (*PositionResult, error) {
	amount, err := normalizeAmount(cmd.Amount)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(s.minTradeAmount) {
		return nil, apperr.Invalid("amount", fmt.Errorf("%w: minimum trade is %s", apperr.ErrInvalidAmount, s.minTradeAmount.StringFixed(2)))
	}
	return s.openPosition(ctx, cmd.AccountID, amount, &models.Position{
		Kind: models.PositionTrade,
		Ref:  strings.TrimSpace(cmd.Signal),
	}, models.CauseTrade, true)
}

func (s *LedgerCommandService) openPosition(ctx context.Context, accountID string, rawAmount decimal.Decimal, position *models.Position, cause models.Cause, needsTrading bool) (*PositionResult, error) {
	amount, err := normalizeAmount(rawAmount)
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, apperr.Missing("accountId")
	}

	unlock := s.accountLocks.Lock(accountID)
	defer unlock()

	position.ID = utils.GenerateID(utils.PrefixPosition)
	position.AccountID = accountID
	position.Amount = amount
	position.Status = models.PositionActive
	position.CreatedAt = time.Now().UTC()

	result := &PositionResult{Position: position}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if needsTrading && !account.CanTrade {
			return apperr.ErrTradingDisabled
		}
		if amount.GreaterThan(account.Balance) {
			return apperr.ErrInsufficientFunds
		}
		if result.Balance, err = s.adjust(ctx, tx, accountID, amount.Neg(), cause, position.ID); err != nil {
			return err
		}
		return tx.AppendPosition(ctx, position)
	})
	if err != nil {
		return nil, err
	}

	s.recordMutations([]models.Cause{cause})
	s.publish(ctx, events.PositionOpened, events.PositionOpenedEvent{
		PositionID: position.ID,
		AccountID:  accountID,
		Kind:       string(position.Kind),
		Ref:        position.Ref,
		Amount:     amount,
		NewBalance: result.Balance,
	}, accountID)
	return result, nil
}

// ---------- Admin overrides ----------

func (s *LedgerCommandService) SetTradingPermission(ctx context.Context, cmd cqrs.SetTradingPermissionCommand) (*models.Account, error) {
	unlock := s.accountLocks.Lock(cmd.AccountID)
	defer unlock()

	var updated *models.Account
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		account, err := tx.GetAccount(ctx, cmd.AccountID)
		if err != nil {
			return err
		}
		account.CanTrade = cmd.Enabled
		updated = account
		return tx.UpsertAccount(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TradingPermitted, events.TradingPermissionEvent{
		AccountID: updated.ID,
		Enabled:   updated.CanTrade,
	}, updated.ID)
	return updated, nil
}

// SetBalance overrides a balance. The difference goes through AdjustBalance
// and is journaled as an adjustment like any other change.
func (s *LedgerCommandService) SetBalance(ctx context.Context, cmd cqrs.SetBalanceCommand) (*models.Account, error) {
	target := cmd.NewBalance.Round(2)
	if target.IsNegative() {
		return nil, apperr.InvalidAmount("balance")
	}

	unlock := s.accountLocks.Lock(cmd.AccountID)
	defer unlock()

	var (
		updated *models.Account
		delta   decimal.Decimal
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		account, err := tx.GetAccount(ctx, cmd.AccountID)
		if err != nil {
			return err
		}
		delta = target.Sub(account.Balance)
		if !delta.IsZero() {
			if account.Balance, err = s.adjust(ctx, tx, account.ID, delta, models.CauseAdjustment, ""); err != nil {
				return err
			}
		}
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return updated, nil
	}

	s.log.WithFields(logrus.Fields{"account_id": updated.ID, "delta": delta.String()}).Warn("balance overridden by admin")
	s.recordMutations([]models.Cause{models.CauseAdjustment})
	s.publish(ctx, events.BalanceAdjusted, events.BalanceAdjustedEvent{
		AccountID:  updated.ID,
		NewBalance: updated.Balance,
		Change:     delta,
	}, updated.ID)
	return updated, nil
}

// ---------- helpers ----------

// adjust changes a balance and journals the change in the same transaction.
func (s *LedgerCommandService) adjust(ctx context.Context, tx repository.Tx, accountID string, delta decimal.Decimal, cause models.Cause, refID string) (decimal.Decimal, error) {
	balance, err := tx.AdjustBalance(ctx, accountID, delta)
	if err != nil {
		return decimal.Zero, err
	}
	err = tx.AppendJournal(ctx, &models.JournalEntry{
		AccountID:    accountID,
		Delta:        delta,
		BalanceAfter: balance,
		Cause:        cause,
		RefID:        refID,
	})
	return balance, err
}

// normalizeAmount rounds to cents and rejects anything not above zero.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.Round(2)
	if !rounded.IsPositive() {
		return decimal.Zero, apperr.InvalidAmount("amount")
	}
	return rounded, nil
}

func (s *LedgerCommandService) recordMutations(causes []models.Cause) {
	for _, c := range causes {
		s.metrics.BalanceMutated(string(c))
	}
}

// publish refreshes the cached view of each touched account and emits the
// event. Both are best effort. A view that cannot be refreshed is dropped so
// readers fall back to the store.
func (s *LedgerCommandService) publish(ctx context.Context, eventType string, data any, touched ...string) {
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		for _, id := range touched {
			account, err := s.store.GetAccount(ctx, id)
			if err != nil {
				s.log.WithError(err).WithField("account_id", id).Warn("failed to refresh account view")
				s.cache.InvalidateAccount(ctx, id)
				continue
			}
			s.cache.CacheAccount(ctx, account)
		}
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.LedgerEventsStream, eventType, data); err != nil {
		s.log.WithError(err).WithField("event", eventType).Warn("failed to publish event")
	}
}
