package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brokerdesk/platform/shared/utils"
)

var ErrNotFound = errors.New("account not found")

// Credentials is the slice of an account the auth service needs.
type Credentials struct {
	AccountID    string
	Email        string
	PasswordHash string
}

// CredentialRepository reads the ledger's accounts table. It never writes.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) GetByEmail(ctx context.Context, email string) (*Credentials, error) {
	query := `SELECT id, email, password_hash FROM accounts WHERE email = $1`

	var c Credentials
	err := r.db.QueryRowContext(ctx, query, utils.NormalizeEmail(email)).Scan(&c.AccountID, &c.Email, &c.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &c, nil
}
