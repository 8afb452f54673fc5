package store

import (
	"context"
	"time"

	"github.com/grana-flow/grana-flow-api/internal/domain"
)

// CredentialStore owns password verification and the single-use token
// lifecycle. The orchestrator depends on exactly this surface and never
// learns hashing or token internals.
type CredentialStore interface {
	// CreateAccount validates the password against policy, hashes it, and
	// persists a new account. A policy violation surfaces as an invalid
	// input error carrying the first violated rule.
	CreateAccount(ctx context.Context, email, username, password string) (*domain.Account, error)

	// FindByEmail returns the account for the given email (case-insensitive)
	// or a not-found error.
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)

	// EmailExists reports whether an account is registered under the email.
	EmailExists(ctx context.Context, email string) (bool, error)

	// CheckPassword reports whether the password matches the account's
	// stored credential.
	CheckPassword(ctx context.Context, acct *domain.Account, password string) (bool, error)

	// IssueToken creates a fresh single-use token for the purpose, replacing
	// any previous token of the same purpose, and returns its plaintext.
	IssueToken(ctx context.Context, accountID string, purpose domain.TokenPurpose) (string, error)

	// ConsumeToken verifies a single-use token and invalidates it. A token
	// is valid at most once; a second presentation returns false.
	ConsumeToken(ctx context.Context, accountID string, purpose domain.TokenPurpose, token string) (bool, error)

	// ConfirmEmail marks the account's email as confirmed.
	ConfirmEmail(ctx context.Context, accountID string) error

	// EnableTwoFactor turns on two-factor authentication for the account.
	EnableTwoFactor(ctx context.Context, accountID string) error

	// ResetPassword verifies the reset token and, in the same call, replaces
	// the account's password. Policy violations and invalid tokens surface
	// as invalid input errors.
	ResetPassword(ctx context.Context, acct *domain.Account, resetToken, newPassword string) error

	// SetAuthToken persists an opaque authentication token for the account
	// keyed by provider and name, overwriting any previous value.
	SetAuthToken(ctx context.Context, accountID, provider, name, value string) error

	// VerifyAuthToken reports whether the presented value matches the
	// currently persisted authentication token for (account, provider, name).
	VerifyAuthToken(ctx context.Context, accountID, provider, name, value string) (bool, error)
}

// AccountRepository is the relational persistence surface for accounts and
// their persisted authentication tokens.
type AccountRepository interface {
	Create(ctx context.Context, acct *domain.Account) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ConfirmEmail(ctx context.Context, accountID string) error
	EnableTwoFactor(ctx context.Context, accountID string) error
	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error
	UpsertAuthToken(ctx context.Context, accountID, provider, name, valueDigest string) error
	GetAuthTokenDigest(ctx context.Context, accountID, provider, name string) (string, error)
}

// SingleUseTokenStore holds single-use token digests with a TTL. Save
// overwrites any previous token for the same (purpose, account); Consume is
// compare-and-delete so a token verifies at most once.
type SingleUseTokenStore interface {
	Save(ctx context.Context, purpose domain.TokenPurpose, accountID, tokenDigest string, ttl time.Duration) error
	Consume(ctx context.Context, purpose domain.TokenPurpose, accountID, tokenDigest string) (bool, error)
}
