package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/grana-flow/grana-flow-api/internal/domain"
	"github.com/grana-flow/grana-flow-api/internal/store"
	"github.com/grana-flow/grana-flow-api/internal/token"
	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
)

// Notifier queues outbound notifications. A failed publish must surface as
// an error so the triggering operation aborts instead of succeeding without
// its notification.
type Notifier interface {
	PublishConfirmEmail(ctx context.Context, email, link string) error
	PublishTwoFactor(ctx context.Context, email, code string) error
	PublishPasswordReset(ctx context.Context, email, link string) error
}

// Config holds orchestrator settings. Provider and token name key the
// persisted refresh token.
type Config struct {
	LoginProvider    string
	RefreshTokenName string
}

func (c Config) withDefaults() Config {
	if c.LoginProvider == "" {
		c.LoginProvider = "GranaFlow"
	}
	if c.RefreshTokenName == "" {
		c.RefreshTokenName = "RefreshToken"
	}
	return c
}

const (
	msgConfirmationSent  = "Confirmation email sent. Check your inbox to activate the account."
	msgTwoFactorSent     = "Two-step verification code sent to your email."
	msgTwoFactorEnabled  = "Two-factor authentication enabled."
	msgResetRequested    = "Password reset instructions sent to your email."
	msgInvalidConfirm    = "Invalid email confirmation request."
	msgInvalidCredential = "Invalid credentials."
	msgEmailUnconfirmed  = "Email address has not been confirmed."
	msgInvalidRefresh    = "Invalid refresh token."
	msgInvalidReset      = "Invalid or expired reset token."
	msgPasswordMismatch  = "Passwords do not match."
	msgPasswordReset     = "Password changed."
)

// Service is the account security orchestrator. Each operation is a short
// state machine over credential store responses, token issuance, and queue
// publications, and returns a Result for every expected business outcome.
type Service struct {
	store    store.CredentialStore
	issuer   *token.Issuer
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// NewService creates the orchestrator.
func NewService(credStore store.CredentialStore, issuer *token.Issuer, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:    credStore,
		issuer:   issuer,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// RegisterInput carries the registration profile. ConfirmURL is the
// caller-supplied endpoint the confirmation link points at.
type RegisterInput struct {
	Email      string
	Username   string
	Password   string
	ConfirmURL string
}

// Register creates an account and queues a confirmation notification.
// A duplicate email is a distinct already-exists signal. Password policy
// violations come back as a BadRequest envelope carrying the store's first
// validation error.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	exists, err := s.store.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.AlreadyExists("account", "email", in.Email)
	}

	acct, err := s.store.CreateAccount(ctx, in.Email, in.Username, in.Password)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && errors.Is(err, apperrors.ErrInvalidInput) {
			return &Result{Status: StatusBadRequest, Message: appErr.Message}, nil
		}
		return nil, err
	}

	confirmToken, err := s.store.IssueToken(ctx, acct.ID, domain.PurposeEmailConfirmation)
	if err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s?token=%s&email=%s",
		in.ConfirmURL, url.QueryEscape(confirmToken), url.QueryEscape(acct.Email))
	if err := s.notifier.PublishConfirmEmail(ctx, acct.Email, link); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered", slog.String("account_id", acct.ID))
	return &Result{Status: StatusCreated, Message: msgConfirmationSent}, nil
}

// SignIn verifies credentials in a fixed order: existence, confirmation,
// password, then the 2FA branch. A token pair is only ever returned after
// the password verified on this call.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !acct.EmailConfirmed {
		return &Result{Status: StatusUnprocessable, Message: msgEmailUnconfirmed}, nil
	}

	ok, err := s.store.CheckPassword(ctx, acct, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Status: StatusUnauthorized, Message: msgInvalidCredential}, nil
	}

	if acct.TwoFactorEnabled {
		code, err := s.store.IssueToken(ctx, acct.ID, domain.PurposeTwoFactor)
		if err != nil {
			return nil, err
		}
		if err := s.notifier.PublishTwoFactor(ctx, acct.Email, code); err != nil {
			return nil, err
		}
		return &Result{
			Status:  StatusPartialContent,
			Payload: TwoFactorPending{Requires2FA: true, Message: msgTwoFactorSent},
		}, nil
	}

	pair, err := s.issueAndPersist(ctx, acct)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusOK, Payload: pair}, nil
}

// ConfirmEmail validates a confirmation token. Unknown accounts and invalid
// tokens collapse to one generic BadRequest so the endpoint cannot be used
// to enumerate accounts.
func (s *Service) ConfirmEmail(ctx context.Context, email, confirmToken string) (*Result, error) {
	invalid := &Result{Status: StatusBadRequest, Message: msgInvalidConfirm}

	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return invalid, nil
		}
		return nil, err
	}

	ok, err := s.store.ConsumeToken(ctx, acct.ID, domain.PurposeEmailConfirmation, confirmToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return invalid, nil
	}

	if err := s.store.ConfirmEmail(ctx, acct.ID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "email confirmed", slog.String("account_id", acct.ID))
	return &Result{Status: StatusOK}, nil
}

// GenerateTwoFactorToken re-issues a 2FA code, replacing any previous one,
// and queues the notification.
func (s *Service) GenerateTwoFactorToken(ctx context.Context, email string) (*Result, error) {
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	code, err := s.store.IssueToken(ctx, acct.ID, domain.PurposeTwoFactor)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.PublishTwoFactor(ctx, acct.Email, code); err != nil {
		return nil, err
	}

	return &Result{Status: StatusOK, Message: msgTwoFactorSent}, nil
}

// ValidateTwoFactorToken verifies a 2FA code. With 2FA not yet enabled the
// call's only effect is to enable it (bootstrap flow) and no tokens are
// returned. With 2FA already enabled it completes a sign-in and returns a
// full token pair.
func (s *Service) ValidateTwoFactorToken(ctx context.Context, email, code string) (*Result, error) {
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.ConsumeToken(ctx, acct.ID, domain.PurposeTwoFactor, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Status: StatusUnauthorized, Message: msgInvalidCredential}, nil
	}

	if !acct.TwoFactorEnabled {
		if err := s.store.EnableTwoFactor(ctx, acct.ID); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "two-factor enabled", slog.String("account_id", acct.ID))
		return &Result{Status: StatusOK, Message: msgTwoFactorEnabled}, nil
	}

	pair, err := s.issueAndPersist(ctx, acct)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusOK, Payload: pair}, nil
}

// RequestPasswordReset issues a reset token and queues a notification whose
// link embeds the URL-encoded token.
func (s *Service) RequestPasswordReset(ctx context.Context, email, resetURL string) (*Result, error) {
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	resetToken, err := s.store.IssueToken(ctx, acct.ID, domain.PurposePasswordReset)
	if err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s?token=%s", resetURL, url.QueryEscape(resetToken))
	if err := s.notifier.PublishPasswordReset(ctx, acct.Email, link); err != nil {
		return nil, err
	}

	return &Result{Status: StatusOK, Message: msgResetRequested}, nil
}

// ValidatePasswordReset URL-decodes the token and atomically verifies and
// resets the password.
func (s *Service) ValidatePasswordReset(ctx context.Context, email, newPassword, confirmPassword, resetToken string) (*Result, error) {
	if newPassword != confirmPassword {
		return &Result{Status: StatusBadRequest, Message: msgPasswordMismatch}, nil
	}

	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	decoded, err := url.QueryUnescape(resetToken)
	if err != nil {
		return &Result{Status: StatusBadRequest, Message: msgInvalidReset}, nil
	}

	if err := s.store.ResetPassword(ctx, acct, decoded, newPassword); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && errors.Is(err, apperrors.ErrInvalidInput) {
			return &Result{Status: StatusBadRequest, Message: appErr.Message}, nil
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "password reset", slog.String("account_id", acct.ID))
	return &Result{Status: StatusOK, Message: msgPasswordReset}, nil
}

// RefreshAccessToken exchanges the currently persisted refresh token for a
// fresh pair. Mismatch and absence are both a silent BadRequest so callers
// cannot distinguish "never issued" from "revoked".
func (s *Service) RefreshAccessToken(ctx context.Context, email, presented string) (*Result, error) {
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.VerifyAuthToken(ctx, acct.ID, s.cfg.LoginProvider, s.cfg.RefreshTokenName, presented)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Status: StatusBadRequest, Message: msgInvalidRefresh}, nil
	}

	pair, err := s.issueAndPersist(ctx, acct)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusOK, Payload: pair}, nil
}

// issueAndPersist signs a fresh token pair and persists the refresh token
// under (account, provider, name), superseding the previous one. This is
// the single place the rotation invariant is enforced.
func (s *Service) issueAndPersist(ctx context.Context, acct *domain.Account) (domain.AuthTokenPair, error) {
	pair, err := s.issuer.Issue(acct)
	if err != nil {
		return domain.AuthTokenPair{}, err
	}
	if err := s.store.SetAuthToken(ctx, acct.ID, s.cfg.LoginProvider, s.cfg.RefreshTokenName, pair.RefreshToken); err != nil {
		return domain.AuthTokenPair{}, err
	}
	return pair, nil
}
