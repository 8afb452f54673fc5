package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/grana-flow/grana-flow-api/internal/domain"
	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
)

const (
	bcryptCost = 12

	twoFactorCodeLength = 6
	linkTokenBytes      = 32
)

// Config holds credential store tuning. Zero values fall back to defaults.
type Config struct {
	MinPasswordLength int
	ConfirmTokenTTL   time.Duration
	TwoFactorTokenTTL time.Duration
	ResetTokenTTL     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = 8
	}
	if c.ConfirmTokenTTL <= 0 {
		c.ConfirmTokenTTL = 24 * time.Hour
	}
	if c.TwoFactorTokenTTL <= 0 {
		c.TwoFactorTokenTTL = 5 * time.Minute
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = time.Hour
	}
	return c
}

// Store implements CredentialStore over an account repository and a
// single-use token store.
type Store struct {
	accounts AccountRepository
	tokens   SingleUseTokenStore
	cfg      Config
}

// New creates a credential store.
func New(accounts AccountRepository, tokens SingleUseTokenStore, cfg Config) *Store {
	return &Store{
		accounts: accounts,
		tokens:   tokens,
		cfg:      cfg.withDefaults(),
	}
}

// CreateAccount implements CredentialStore.
func (s *Store) CreateAccount(ctx context.Context, email, username, password string) (*domain.Account, error) {
	if err := s.validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acct := &domain.Account{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// FindByEmail implements CredentialStore.
func (s *Store) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// EmailExists implements CredentialStore.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.accounts.ExistsByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

// CheckPassword implements CredentialStore.
func (s *Store) CheckPassword(_ context.Context, acct *domain.Account, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}

// IssueToken implements CredentialStore. Two-factor tokens are short numeric
// codes typed by a human; confirmation and reset tokens are long random
// values embedded in links.
func (s *Store) IssueToken(ctx context.Context, accountID string, purpose domain.TokenPurpose) (string, error) {
	var (
		plaintext string
		ttl       time.Duration
		err       error
	)

	switch purpose {
	case domain.PurposeTwoFactor:
		plaintext, err = randomDigits(twoFactorCodeLength)
		ttl = s.cfg.TwoFactorTokenTTL
	case domain.PurposeEmailConfirmation:
		plaintext, err = randomURLToken(linkTokenBytes)
		ttl = s.cfg.ConfirmTokenTTL
	case domain.PurposePasswordReset:
		plaintext, err = randomURLToken(linkTokenBytes)
		ttl = s.cfg.ResetTokenTTL
	default:
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}
	if err != nil {
		return "", fmt.Errorf("generate %s token: %w", purpose, err)
	}

	if err := s.tokens.Save(ctx, purpose, accountID, digest(plaintext), ttl); err != nil {
		return "", err
	}
	return plaintext, nil
}

// ConsumeToken implements CredentialStore.
func (s *Store) ConsumeToken(ctx context.Context, accountID string, purpose domain.TokenPurpose, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.tokens.Consume(ctx, purpose, accountID, digest(token))
}

// ConfirmEmail implements CredentialStore.
func (s *Store) ConfirmEmail(ctx context.Context, accountID string) error {
	return s.accounts.ConfirmEmail(ctx, accountID)
}

// EnableTwoFactor implements CredentialStore.
func (s *Store) EnableTwoFactor(ctx context.Context, accountID string) error {
	return s.accounts.EnableTwoFactor(ctx, accountID)
}

// ResetPassword implements CredentialStore. The policy check runs before the
// token is consumed so a weak password does not burn a valid token.
func (s *Store) ResetPassword(ctx context.Context, acct *domain.Account, resetToken, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	ok, err := s.ConsumeToken(ctx, acct.ID, domain.PurposePasswordReset, resetToken)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.InvalidInput("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.accounts.UpdatePasswordHash(ctx, acct.ID, string(hash))
}

// SetAuthToken implements CredentialStore. Only a digest of the value is
// persisted.
func (s *Store) SetAuthToken(ctx context.Context, accountID, provider, name, value string) error {
	return s.accounts.UpsertAuthToken(ctx, accountID, provider, name, digest(value))
}

// VerifyAuthToken implements CredentialStore. Absence of a persisted token
// and a mismatched value are indistinguishable to the caller.
func (s *Store) VerifyAuthToken(ctx context.Context, accountID, provider, name, value string) (bool, error) {
	stored, err := s.accounts.GetAuthTokenDigest(ctx, accountID, provider, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(digest(value))) == 1, nil
}

func (s *Store) validatePassword(password string) error {
	if len(password) < s.cfg.MinPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", s.cfg.MinPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	switch {
	case !hasUpper:
		return apperrors.InvalidInput("password must contain an uppercase letter")
	case !hasLower:
		return apperrors.InvalidInput("password must contain a lowercase letter")
	case !hasDigit:
		return apperrors.InvalidInput("password must contain a digit")
	}
	return nil
}

// digest returns the hex SHA-256 of the value. Stores never hold single-use
// or refresh token plaintext.
func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// randomDigits returns n cryptographically random decimal digits.
func randomDigits(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// randomURLToken returns n random bytes encoded as unpadded base64url, safe
// to embed in links without further escaping.
func randomURLToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
