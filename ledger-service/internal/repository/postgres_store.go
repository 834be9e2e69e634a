package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/brokerdesk/platform/shared/utils"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// requestTables is the closed set of request tables. Table names are never
// built from caller input.
var requestTables = map[models.RequestKind]string{
	models.KindDeposit:    "deposit_requests",
	models.KindWithdrawal: "withdrawal_requests",
	models.KindCredit:     "credit_requests",
	models.KindKYC:        "kyc_requests",
}

const accountColumns = `id, full_name, username, email, password_hash, phone, country, balance,
	can_trade, referred_by, referrals_count, referral_earnings, referrals, created_at, updated_at`

const requestColumns = `id, account_id, amount, status, payload, created_at, resolved_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is the durable ledger backed by PostgreSQL. Each WithTx call
// runs in one database transaction; rows read inside it are locked with
// SELECT ... FOR UPDATE.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{q: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return apperr.Storage("commit transaction", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(ctx, s.db, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return getAccount(ctx, s.db, `WHERE email = $1`, utils.NormalizeEmail(email))
}

func (s *PostgresStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if search := strings.TrimSpace(filter.Search); search != "" {
		query += ` WHERE id ILIKE $1 OR full_name ILIKE $1`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, apperr.Storage("scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list accounts", err)
	}
	return accounts, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	return getRequest(ctx, s.db, kind, id, false)
}

func (s *PostgresStore) ListRequests(ctx context.Context, kind models.RequestKind, filter RequestFilter) ([]*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + requestColumns + ` FROM ` + requestTables[kind]
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list requests", err)
	}
	defer rows.Close()

	requests := make([]*models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows, kind)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list requests", err)
	}
	return requests, nil
}

func (s *PostgresStore) ListReferralEvents(ctx context.Context, referrerID string) ([]*models.ReferralEvent, error) {
	query := `SELECT id, referrer_id, referred_id, amount, type, created_at FROM referral_events`
	var args []any
	if referrerID != "" {
		query += ` WHERE referrer_id = $1`
		args = append(args, referrerID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list referral events", err)
	}
	defer rows.Close()

	events := make([]*models.ReferralEvent, 0)
	for rows.Next() {
		var e models.ReferralEvent
		if err := rows.Scan(&e.ID, &e.ReferrerID, &e.ReferredID, &e.Amount, &e.Type, &e.CreatedAt); err != nil {
			return nil, apperr.Storage("scan referral event", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list referral events", err)
	}
	return events, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, kind, ref, ref_name, amount, status, created_at
		FROM positions
		WHERE account_id = $1
		ORDER BY seq`, accountID)
	if err != nil {
		return nil, apperr.Storage("list positions", err)
	}
	defer rows.Close()

	positions := make([]*models.Position, 0)
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Kind, &p.Ref, &p.RefName, &p.Amount, &p.Status, &p.CreatedAt); err != nil {
			return nil, apperr.Storage("scan position", err)
		}
		positions = append(positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list positions", err)
	}
	return positions, nil
}

func (s *PostgresStore) ListJournal(ctx context.Context, accountID string) ([]*models.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, delta, balance_after, cause, ref_id, created_at
		FROM balance_journal
		WHERE account_id = $1
		ORDER BY seq`, accountID)
	if err != nil {
		return nil, apperr.Storage("list journal", err)
	}
	defer rows.Close()

	entries := make([]*models.JournalEntry, 0)
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.BalanceAfter, &e.Cause, &e.RefID, &e.CreatedAt); err != nil {
			return nil, apperr.Storage("scan journal entry", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list journal", err)
	}
	return entries, nil
}

// postgresTx implements Tx on top of a *sql.Tx.
type postgresTx struct {
	q   queryer
	now func() time.Time
}

func (tx *postgresTx) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return getAccount(ctx, tx.q, `WHERE id = $1 FOR UPDATE`, id)
}

func (tx *postgresTx) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return getAccount(ctx, tx.q, `WHERE email = $1`, utils.NormalizeEmail(email))
}

func (tx *postgresTx) UpsertAccount(ctx context.Context, a *models.Account) error {
	now := tx.now()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	var referredBy sql.NullString
	if a.ReferredBy != "" {
		referredBy = sql.NullString{String: a.ReferredBy, Valid: true}
	}
	referrals := a.Referrals
	if referrals == nil {
		referrals = []string{}
	}

	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO accounts (id, full_name, username, email, password_hash, phone, country, balance,
			can_trade, referred_by, referrals_count, referral_earnings, referrals, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			phone = EXCLUDED.phone,
			country = EXCLUDED.country,
			can_trade = EXCLUDED.can_trade,
			referrals_count = EXCLUDED.referrals_count,
			referral_earnings = EXCLUDED.referral_earnings,
			referrals = EXCLUDED.referrals,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.FullName, a.Username, utils.NormalizeEmail(a.Email), a.PasswordHash, a.Phone, a.Country,
		a.CanTrade, referredBy, a.ReferralsCount, a.ReferralEarnings, pq.Array(referrals), createdAt, now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return apperr.ErrEmailTaken
		}
		return apperr.Storage("upsert account", err)
	}
	return nil
}

func (tx *postgresTx) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.q.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = $3
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance`,
		accountID, delta, tx.now(),
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, apperr.Storage("adjust balance", err)
	}

	exists, err := tx.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, apperr.NotFoundf("account %s", accountID)
	}
	return decimal.Zero, apperr.ErrInsufficientFunds
}

func (tx *postgresTx) GetRequest(ctx context.Context, kind models.RequestKind, id string) (*models.Request, error) {
	return getRequest(ctx, tx.q, kind, id, true)
}

func (tx *postgresTx) CreateRequest(ctx context.Context, req *models.Request) (string, error) {
	if err := checkKind(req.Kind); err != nil {
		return "", err
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return "", apperr.Storage("encode request payload", err)
	}

	req.ID = utils.GenerateID(requestPrefixes[req.Kind])
	req.Status = models.StatusPending
	req.CreatedAt = tx.now()
	req.ResolvedAt = nil

	_, err = tx.q.ExecContext(ctx,
		`INSERT INTO `+requestTables[req.Kind]+` (id, account_id, amount, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.AccountID, req.Amount, string(req.Status), payload, req.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return "", apperr.NotFoundf("account %s", req.AccountID)
		}
		return "", apperr.Storage("insert request", err)
	}
	return req.ID, nil
}

func (tx *postgresTx) SetRequestStatus(ctx context.Context, kind models.RequestKind, id string, status models.RequestStatus) (*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	table := requestTables[kind]
	row := tx.q.QueryRowContext(ctx,
		`UPDATE `+table+` SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns,
		id, string(status), tx.now(),
	)
	r, err := scanRequest(row, kind)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	exists, err := tx.exists(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFoundf("%s request %s", kind, id)
	}
	return nil, apperr.ErrAlreadyResolved
}

func (tx *postgresTx) AppendReferralEvent(ctx context.Context, e *models.ReferralEvent) error {
	if e.ID == "" {
		e.ID = utils.GenerateID(utils.PrefixReferral)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now()
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO referral_events (id, referrer_id, referred_id, amount, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ReferrerID, e.ReferredID, e.Amount, e.Type, e.CreatedAt,
	)
	if err != nil {
		return apperr.Storage("insert referral event", err)
	}
	return nil
}

func (tx *postgresTx) AppendPosition(ctx context.Context, p *models.Position) error {
	if p.ID == "" {
		p.ID = utils.GenerateID(utils.PrefixPosition)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.now()
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO positions (id, account_id, kind, ref, ref_name, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.AccountID, string(p.Kind), p.Ref, p.RefName, p.Amount, p.Status, p.CreatedAt,
	)
	if err != nil {
		return apperr.Storage("insert position", err)
	}
	return nil
}

func (tx *postgresTx) AppendJournal(ctx context.Context, e *models.JournalEntry) error {
	if e.ID == "" {
		e.ID = utils.GenerateID(utils.PrefixJournal)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now()
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO balance_journal (id, account_id, delta, balance_after, cause, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AccountID, e.Delta, e.BalanceAfter, string(e.Cause), e.RefID, e.CreatedAt,
	)
	if err != nil {
		return apperr.Storage("insert journal entry", err)
	}
	return nil
}

func (tx *postgresTx) exists(ctx context.Context, query string, arg any) (bool, error) {
	var exists bool
	if err := tx.q.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, apperr.Storage("check existence", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getAccount(ctx context.Context, q queryer, where string, arg string) (*models.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts `+where, arg)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("account %s", arg)
	}
	if err != nil {
		return nil, apperr.Storage("get account", err)
	}
	return a, nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a          models.Account
		referredBy sql.NullString
		referrals  []string
	)
	err := row.Scan(
		&a.ID, &a.FullName, &a.Username, &a.Email, &a.PasswordHash, &a.Phone, &a.Country, &a.Balance,
		&a.CanTrade, &referredBy, &a.ReferralsCount, &a.ReferralEarnings, pq.Array(&referrals),
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ReferredBy = referredBy.String
	if referrals == nil {
		referrals = []string{}
	}
	a.Referrals = referrals
	return &a, nil
}

func getRequest(ctx context.Context, q queryer, kind models.RequestKind, id string, forUpdate bool) (*models.Request, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	query := `SELECT ` + requestColumns + ` FROM ` + requestTables[kind] + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanRequest(q.QueryRowContext(ctx, query, id), kind)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFoundf("%s request %s", kind, id)
	}
	return r, err
}

// scanRequest maps sql.ErrNoRows to apperr.ErrNotFound and every other
// failure to a storage error.
func scanRequest(row rowScanner, kind models.RequestKind) (*models.Request, error) {
	var (
		r          models.Request
		status     string
		payload    []byte
		resolvedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AccountID, &r.Amount, &status, &payload, &r.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("scan request", err)
	}
	r.Kind = kind
	r.Status = models.RequestStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	if r.Payload, err = models.DecodePayload(kind, payload); err != nil {
		return nil, apperr.Storage("decode request payload", err)
	}
	return &r, nil
}
