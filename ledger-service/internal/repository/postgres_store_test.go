package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brokerdesk/platform/ledger-service/internal/apperr"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(db)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func requestRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "account_id", "amount", "status", "payload", "created_at", "resolved_at"})
}

func TestMigrateExecutesAllStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schema {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateStopsAtFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS accounts")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS deposit_requests")).WillReturnError(errors.New("permission denied"))

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustBalance(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    decimal.Decimal
		wantErr error
	}{
		{
			name: "applies delta",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
					WithArgs("acc-1", sqlmock.AnyArg(), fixedNow).
					WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("75.00"))
			},
			want: decimal.RequireFromString("75.00"),
		},
		{
			name: "insufficient funds leaves row untouched",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
					WillReturnRows(sqlmock.NewRows([]string{"balance"}))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
					WithArgs("acc-1").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: apperr.ErrInsufficientFunds,
		},
		{
			name: "unknown account",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
					WillReturnRows(sqlmock.NewRows([]string{"balance"}))
				mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: apperr.ErrNotFound,
		},
		{
			name: "driver failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts")).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: apperr.ErrStorage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			tt.setup(mock)
			if tt.wantErr == nil {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			var got decimal.Decimal
			err := store.WithTx(context.Background(), func(tx Tx) error {
				var err error
				got, err = tx.AdjustBalance(context.Background(), "acc-1", decimal.NewFromInt(-25))
				return err
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSetRequestStatus(t *testing.T) {
	t.Run("pending request is resolved", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE deposit_requests SET status = $2")).
			WithArgs("dep-1", "approved", fixedNow).
			WillReturnRows(requestRows().AddRow("dep-1", "acc-1", "100.00", "approved", []byte(`{"currency":"BTC"}`), fixedNow, fixedNow))
		mock.ExpectCommit()

		var got *models.Request
		err := store.WithTx(context.Background(), func(tx Tx) error {
			var err error
			got, err = tx.SetRequestStatus(context.Background(), models.KindDeposit, "dep-1", models.StatusApproved)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, got.Status)
		require.NotNil(t, got.ResolvedAt)
		assert.Equal(t, models.DepositPayload{Currency: "BTC"}, got.Payload)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal request reports already resolved", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE withdrawal_requests")).WillReturnRows(requestRows())
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM withdrawal_requests")).
			WithArgs("wdr-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := store.WithTx(context.Background(), func(tx Tx) error {
			_, err := tx.SetRequestStatus(context.Background(), models.KindWithdrawal, "wdr-1", models.StatusRejected)
			return err
		})
		assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing request reports not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE kyc_requests")).WillReturnRows(requestRows())
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := store.WithTx(context.Background(), func(tx Tx) error {
			_, err := tx.SetRequestStatus(context.Background(), models.KindKYC, "kyc-404", models.StatusApproved)
			return err
		})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateRequestAssignsIdentity(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO withdrawal_requests")).
		WithArgs(sqlmock.AnyArg(), "acc-1", sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	req := &models.Request{
		AccountID: "acc-1",
		Kind:      models.KindWithdrawal,
		Amount:    decimal.RequireFromString("40.00"),
		Payload:   models.WithdrawalPayload{Address: "bc1qxyz"},
	}
	var id string
	err := store.WithTx(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.CreateRequest(context.Background(), req)
		return err
	})
	require.NoError(t, err)
	assert.Regexp(t, `^wdr-`, id)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, fixedNow, req.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAccountMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "accounts_email_key"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx Tx) error {
		return tx.UpsertAccount(context.Background(), &models.Account{ID: "acc-2", Email: "Taken@Example.com"})
	})
	assert.ErrorIs(t, err, apperr.ErrEmailTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitFailureIsStorageError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO balance_journal")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err := store.WithTx(context.Background(), func(tx Tx) error {
		return tx.AppendJournal(context.Background(), &models.JournalEntry{
			AccountID:    "acc-1",
			Delta:        decimal.NewFromInt(10),
			BalanceAfter: decimal.NewFromInt(10),
			Cause:        models.CauseDeposit,
		})
	})
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRequestsFiltersInInsertionOrder(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM credit_requests WHERE account_id = $1 AND status = $2 ORDER BY seq")).
		WithArgs("acc-1", "pending").
		WillReturnRows(requestRows().
			AddRow("crd-1", "acc-1", "10.00", "pending", []byte(`{"reason":"bonus"}`), fixedNow, nil).
			AddRow("crd-2", "acc-1", "20.00", "pending", []byte(`{}`), fixedNow.Add(time.Minute), nil))

	got, err := store.ListRequests(context.Background(), models.KindCredit, RequestFilter{
		AccountID: "acc-1",
		Status:    models.StatusPending,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "crd-1", got[0].ID)
	assert.Equal(t, models.CreditPayload{Reason: "bonus"}, got[0].Payload)
	assert.Nil(t, got[1].ResolvedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountScansReferralFields(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "full_name", "username", "email", "password_hash", "phone", "country", "balance",
		"can_trade", "referred_by", "referrals_count", "referral_earnings", "referrals", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"acc-1", "Jane Doe", "jane", "jane@example.com", "hash", "", "GB", "10.00",
			true, nil, 1, "10.00", "{acc-2}", fixedNow, fixedNow,
		))

	a, err := store.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-2"}, a.Referrals)
	assert.Equal(t, "", a.ReferredBy)
	assert.True(t, a.CanTrade)
	assert.Equal(t, "10", a.Balance.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).WillReturnError(sql.ErrNoRows)

	_, err := store.GetAccount(context.Background(), "acc-missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
