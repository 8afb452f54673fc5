package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/grana-flow/grana-flow-api/internal/domain"
	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
)

// DB is the subset of pgxpool.Pool the repository uses. pgxmock satisfies
// the same surface in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements store.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account. A missing ID is assigned here.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, email, username, password_hash, email_confirmed, two_factor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.Email,
		a.Username,
		a.PasswordHash,
		a.EmailConfirmed,
		a.TwoFactorEnabled,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("account", "email", a.Email)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByEmail retrieves an account by email. Emails are stored lowercased.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `
		SELECT id, email, username, password_hash, email_confirmed, two_factor_enabled, created_at, updated_at
		FROM accounts
		WHERE email = $1`

	var a domain.Account
	err := r.db.QueryRow(ctx, query, email).Scan(
		&a.ID,
		&a.Email,
		&a.Username,
		&a.PasswordHash,
		&a.EmailConfirmed,
		&a.TwoFactorEnabled,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("account", email)
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	return &a, nil
}

// ExistsByEmail reports whether an account is registered under the email.
func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return exists, nil
}

// ConfirmEmail marks the account's email as confirmed.
func (r *AccountRepository) ConfirmEmail(ctx context.Context, accountID string) error {
	return r.updateFlag(ctx, accountID, "email_confirmed")
}

// EnableTwoFactor turns on two-factor authentication for the account.
func (r *AccountRepository) EnableTwoFactor(ctx context.Context, accountID string) error {
	return r.updateFlag(ctx, accountID, "two_factor_enabled")
}

func (r *AccountRepository) updateFlag(ctx context.Context, accountID, column string) error {
	// column is one of two fixed identifiers, never caller input.
	query := fmt.Sprintf(`UPDATE accounts SET %s = TRUE, updated_at = $1 WHERE id = $2`, column)

	ct, err := r.db.Exec(ctx, query, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("update account %s: %w", column, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", accountID)
	}
	return nil
}

// UpdatePasswordHash replaces the account's password credential.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $1, updated_at = $2 WHERE id = $3`

	ct, err := r.db.Exec(ctx, query, passwordHash, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", accountID)
	}
	return nil
}

// UpsertAuthToken persists the authentication token digest for the account,
// overwriting any previous value for the same (account, provider, name).
func (r *AccountRepository) UpsertAuthToken(ctx context.Context, accountID, provider, name, valueDigest string) error {
	query := `
		INSERT INTO auth_tokens (account_id, login_provider, name, value_digest, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, login_provider, name)
		DO UPDATE SET value_digest = EXCLUDED.value_digest, updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query, accountID, provider, name, valueDigest, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert auth token: %w", err)
	}
	return nil
}

// GetAuthTokenDigest returns the persisted token digest for the key.
func (r *AccountRepository) GetAuthTokenDigest(ctx context.Context, accountID, provider, name string) (string, error) {
	query := `
		SELECT value_digest
		FROM auth_tokens
		WHERE account_id = $1 AND login_provider = $2 AND name = $3`

	var d string
	err := r.db.QueryRow(ctx, query, accountID, provider, name).Scan(&d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NotFound("auth token", name)
		}
		return "", fmt.Errorf("scan auth token: %w", err)
	}
	return d, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
