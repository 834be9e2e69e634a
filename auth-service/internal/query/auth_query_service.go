package query

import (
	"context"
	"errors"
	"time"

	"github.com/brokerdesk/platform/auth-service/internal/repository"
	"github.com/brokerdesk/platform/shared/cqrs"
	"github.com/brokerdesk/platform/shared/middleware"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/brokerdesk/platform/shared/utils"
	"github.com/sirupsen/logrus"
)

// AdminAccountID is the subject of tokens issued to the back office login.
const AdminAccountID = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// CredentialFinder is satisfied by *repository.CredentialRepository.
type CredentialFinder interface {
	GetByEmail(ctx context.Context, email string) (*repository.Credentials, error)
}

type Options struct {
	Secret            []byte
	TokenTTL          time.Duration
	AdminEmail        string
	AdminPasswordHash string
	Logger            *logrus.Entry
}

// AuthQueryService handles login and token refresh. There's no CommandService
// for auth because these operations don't mutate application state.
type AuthQueryService struct {
	creds CredentialFinder
	opts  Options
}

func NewAuthQueryService(creds CredentialFinder, opts Options) *AuthQueryService {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AuthQueryService{creds: creds, opts: opts}
}

func (s *AuthQueryService) Login(ctx context.Context, cmd cqrs.LoginCommand) (string, error) {
	c, err := s.creds.GetByEmail(ctx, cmd.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !utils.CheckPassword(cmd.Password, c.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return middleware.IssueToken(s.opts.Secret, c.AccountID, c.Email, models.RoleUser, s.opts.TokenTTL)
}

// AdminLogin checks the single configured back office identity. It is
// disabled when no admin hash is configured.
func (s *AuthQueryService) AdminLogin(_ context.Context, cmd cqrs.LoginCommand) (string, error) {
	if s.opts.AdminEmail == "" || s.opts.AdminPasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if utils.NormalizeEmail(cmd.Email) != utils.NormalizeEmail(s.opts.AdminEmail) ||
		!utils.CheckPassword(cmd.Password, s.opts.AdminPasswordHash) {
		s.opts.Logger.WithField("email", utils.NormalizeEmail(cmd.Email)).Warn("admin login rejected")
		return "", ErrInvalidCredentials
	}
	return middleware.IssueToken(s.opts.Secret, AdminAccountID, utils.NormalizeEmail(s.opts.AdminEmail), models.RoleAdmin, s.opts.TokenTTL)
}

// RefreshToken reissues a still-valid token with a fresh expiry, keeping
// its role.
func (s *AuthQueryService) RefreshToken(_ context.Context, cmd cqrs.RefreshTokenCommand) (string, error) {
	claims, err := middleware.ParseToken(s.opts.Secret, cmd.Token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return middleware.IssueToken(s.opts.Secret, claims.UserID, claims.Email, claims.Role, s.opts.TokenTTL)
}
