package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/grana-flow/grana-flow-api/internal/domain"
	"github.com/grana-flow/grana-flow-api/internal/token"
	apperrors "github.com/grana-flow/grana-flow-api/pkg/errors"
)

// --- Mock Credential Store ---

type mockCredStore struct {
	mock.Mock
}

func (m *mockCredStore) CreateAccount(ctx context.Context, email, username, password string) (*domain.Account, error) {
	args := m.Called(ctx, email, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockCredStore) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockCredStore) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockCredStore) CheckPassword(ctx context.Context, acct *domain.Account, password string) (bool, error) {
	args := m.Called(ctx, acct, password)
	return args.Bool(0), args.Error(1)
}

func (m *mockCredStore) IssueToken(ctx context.Context, accountID string, purpose domain.TokenPurpose) (string, error) {
	args := m.Called(ctx, accountID, purpose)
	return args.String(0), args.Error(1)
}

func (m *mockCredStore) ConsumeToken(ctx context.Context, accountID string, purpose domain.TokenPurpose, token string) (bool, error) {
	args := m.Called(ctx, accountID, purpose, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockCredStore) ConfirmEmail(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *mockCredStore) EnableTwoFactor(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *mockCredStore) ResetPassword(ctx context.Context, acct *domain.Account, resetToken, newPassword string) error {
	args := m.Called(ctx, acct, resetToken, newPassword)
	return args.Error(0)
}

func (m *mockCredStore) SetAuthToken(ctx context.Context, accountID, provider, name, value string) error {
	args := m.Called(ctx, accountID, provider, name, value)
	return args.Error(0)
}

func (m *mockCredStore) VerifyAuthToken(ctx context.Context, accountID, provider, name, value string) (bool, error) {
	args := m.Called(ctx, accountID, provider, name, value)
	return args.Bool(0), args.Error(1)
}

// --- Mock Notifier ---

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PublishConfirmEmail(ctx context.Context, email, link string) error {
	args := m.Called(ctx, email, link)
	return args.Error(0)
}

func (m *mockNotifier) PublishTwoFactor(ctx context.Context, email, code string) error {
	args := m.Called(ctx, email, code)
	return args.Error(0)
}

func (m *mockNotifier) PublishPasswordReset(ctx context.Context, email, link string) error {
	args := m.Called(ctx, email, link)
	return args.Error(0)
}

// --- Fixtures ---

func testIssuer(t *testing.T) *token.Issuer {
	t.Helper()
	issuer, err := token.NewIssuer(token.Config{
		Secret:            "test-secret-key-that-is-long-enough",
		Issuer:            "grana-flow",
		Audience:          "grana-flow-clients",
		AccessExpiryMins:  15,
		RefreshExpiryDays: 7,
	})
	require.NoError(t, err)
	return issuer
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *mockCredStore, *mockNotifier) {
	t.Helper()
	cs := &mockCredStore{}
	n := &mockNotifier{}
	svc := NewService(cs, testIssuer(t), n, Config{}, testLogger())
	return svc, cs, n
}

func confirmedAccount() *domain.Account {
	return &domain.Account{
		ID:             "acct-1",
		Email:          "a@x.com",
		Username:       "alice",
		EmailConfirmed: true,
	}
}

// --- Register ---

func TestRegister_Success_PublishesExactlyOneConfirmation(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	acct := &domain.Account{ID: "acct-1", Email: "a@x.com", Username: "alice"}
	cs.On("EmailExists", ctx, "a@x.com").Return(false, nil)
	cs.On("CreateAccount", ctx, "a@x.com", "alice", "Str0ngPass").Return(acct, nil)
	cs.On("IssueToken", ctx, "acct-1", domain.PurposeEmailConfirmation).Return("confirm-tok", nil)
	n.On("PublishConfirmEmail", ctx, "a@x.com", mock.MatchedBy(func(link string) bool {
		return link == "https://api.example.com/confirm?token=confirm-tok&email=a%40x.com"
	})).Return(nil).Once()

	res, err := svc.Register(ctx, RegisterInput{
		Email:      "a@x.com",
		Username:   "alice",
		Password:   "Str0ngPass",
		ConfirmURL: "https://api.example.com/confirm",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusCreated, res.Status)
	n.AssertNumberOfCalls(t, "PublishConfirmEmail", 1)
}

func TestRegister_DuplicateEmail_NoPublish(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	cs.On("EmailExists", ctx, "a@x.com").Return(true, nil)

	_, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Username: "alice", Password: "Str0ngPass"})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	n.AssertNotCalled(t, "PublishConfirmEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_PasswordPolicyViolation_BadRequestEnvelope(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	cs.On("EmailExists", ctx, "a@x.com").Return(false, nil)
	cs.On("CreateAccount", ctx, "a@x.com", "alice", "weak").
		Return(nil, apperrors.InvalidInput("password must be at least 8 characters"))

	res, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Username: "alice", Password: "weak"})

	require.NoError(t, err)
	assert.Equal(t, StatusBadRequest, res.Status)
	assert.Contains(t, res.Message, "at least 8 characters")
	n.AssertNotCalled(t, "PublishConfirmEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_PublishFailureAbortsOperation(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	acct := &domain.Account{ID: "acct-1", Email: "a@x.com"}
	cs.On("EmailExists", ctx, "a@x.com").Return(false, nil)
	cs.On("CreateAccount", ctx, "a@x.com", "alice", "Str0ngPass").Return(acct, nil)
	cs.On("IssueToken", ctx, "acct-1", domain.PurposeEmailConfirmation).Return("tok", nil)
	n.On("PublishConfirmEmail", ctx, "a@x.com", mock.Anything).
		Return(apperrors.Unavailable("queue broker", errors.New("dial refused")))

	_, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Username: "alice", Password: "Str0ngPass"})
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

// --- SignIn ---

func TestSignIn_UnknownEmail_NotFoundSignal(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	cs.On("FindByEmail", ctx, "nobody@x.com").Return(nil, apperrors.NotFound("account", "nobody@x.com"))

	_, err := svc.SignIn(ctx, "nobody@x.com", "whatever")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSignIn_UnconfirmedEmail_Unprocessable(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	acct.EmailConfirmed = false
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)

	res, err := svc.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnprocessable, res.Status)
	cs.AssertNotCalled(t, "CheckPassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignIn_WrongPassword_Unauthorized(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("CheckPassword", ctx, acct, "wrong").Return(false, nil)

	res, err := svc.SignIn(ctx, "a@x.com", "wrong")
	require.NoError(t, err)
	assert.Equal(t, StatusUnauthorized, res.Status)
	assert.Nil(t, res.Payload)
}

func TestSignIn_TwoFactorDisabled_ReturnsTokens_NoTwoFactorPublish(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("CheckPassword", ctx, acct, "pw1").Return(true, nil)
	cs.On("SetAuthToken", ctx, "acct-1", "GranaFlow", "RefreshToken", mock.Anything).Return(nil)

	res, err := svc.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	pair, ok := res.Payload.(domain.AuthTokenPair)
	require.True(t, ok)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.Expiration.After(time.Now()))
	n.AssertNotCalled(t, "PublishTwoFactor", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignIn_TwoFactorEnabled_PendingBranch(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	acct.TwoFactorEnabled = true
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("CheckPassword", ctx, acct, "pw1").Return(true, nil)
	cs.On("IssueToken", ctx, "acct-1", domain.PurposeTwoFactor).Return("123456", nil)
	n.On("PublishTwoFactor", ctx, "a@x.com", "123456").Return(nil).Once()

	res, err := svc.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.Equal(t, StatusPartialContent, res.Status)

	pending, ok := res.Payload.(TwoFactorPending)
	require.True(t, ok)
	assert.True(t, pending.Requires2FA)
	n.AssertNumberOfCalls(t, "PublishTwoFactor", 1)
	cs.AssertNotCalled(t, "SetAuthToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- ConfirmEmail ---

func TestConfirmEmail_EnumerationSafety(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ConsumeToken", ctx, "acct-1", domain.PurposeEmailConfirmation, "wrong").Return(false, nil)
	cs.On("FindByEmail", ctx, "unknown@x.com").Return(nil, apperrors.NotFound("account", "unknown@x.com"))

	wrongToken, err := svc.ConfirmEmail(ctx, "a@x.com", "wrong")
	require.NoError(t, err)
	unknownEmail, err := svc.ConfirmEmail(ctx, "unknown@x.com", "whatever")
	require.NoError(t, err)

	// Both halves must produce an identical envelope.
	assert.Equal(t, wrongToken, unknownEmail)
	assert.Equal(t, StatusBadRequest, wrongToken.Status)
}

func TestConfirmEmail_Success(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ConsumeToken", ctx, "acct-1", domain.PurposeEmailConfirmation, "good-tok").Return(true, nil)
	cs.On("ConfirmEmail", ctx, "acct-1").Return(nil).Once()

	res, err := svc.ConfirmEmail(ctx, "a@x.com", "good-tok")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	cs.AssertExpectations(t)
}

// --- GenerateTwoFactorToken ---

func TestGenerateTwoFactorToken_PublishesCode(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("IssueToken", ctx, "acct-1", domain.PurposeTwoFactor).Return("654321", nil)
	n.On("PublishTwoFactor", ctx, "a@x.com", "654321").Return(nil).Once()

	res, err := svc.GenerateTwoFactorToken(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	n.AssertNumberOfCalls(t, "PublishTwoFactor", 1)
}

// --- ValidateTwoFactorToken ---

func TestValidateTwoFactorToken_InvalidCode_Unauthorized(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	acct.TwoFactorEnabled = true
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ConsumeToken", ctx, "acct-1", domain.PurposeTwoFactor, "000000").Return(false, nil)

	res, err := svc.ValidateTwoFactorToken(ctx, "a@x.com", "000000")
	require.NoError(t, err)
	assert.Equal(t, StatusUnauthorized, res.Status)
	assert.Nil(t, res.Payload)
}

func TestValidateTwoFactorToken_BootstrapEnablesWithoutTokens(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount() // 2FA not yet enabled
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ConsumeToken", ctx, "acct-1", domain.PurposeTwoFactor, "123456").Return(true, nil)
	cs.On("EnableTwoFactor", ctx, "acct-1").Return(nil).Once()

	res, err := svc.ValidateTwoFactorToken(ctx, "a@x.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Nil(t, res.Payload, "the bootstrap branch must not return tokens")
	cs.AssertExpectations(t)
}

func TestValidateTwoFactorToken_AlreadyEnabled_CompletesSignIn(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	acct.TwoFactorEnabled = true
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ConsumeToken", ctx, "acct-1", domain.PurposeTwoFactor, "123456").Return(true, nil)
	cs.On("SetAuthToken", ctx, "acct-1", "GranaFlow", "RefreshToken", mock.Anything).Return(nil)

	res, err := svc.ValidateTwoFactorToken(ctx, "a@x.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	pair, ok := res.Payload.(domain.AuthTokenPair)
	require.True(t, ok)
	assert.NotEmpty(t, pair.AccessToken)
	cs.AssertNotCalled(t, "EnableTwoFactor", mock.Anything, mock.Anything)
}

// --- RequestPasswordReset / ValidatePasswordReset ---

func TestRequestPasswordReset_PublishesLinkWithEncodedToken(t *testing.T) {
	svc, cs, n := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("IssueToken", ctx, "acct-1", domain.PurposePasswordReset).Return("reset-tok", nil)
	n.On("PublishPasswordReset", ctx, "a@x.com", "https://app.example.com/reset?token=reset-tok").
		Return(nil).Once()

	res, err := svc.RequestPasswordReset(ctx, "a@x.com", "https://app.example.com/reset")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	n.AssertNumberOfCalls(t, "PublishPasswordReset", 1)
}

func TestValidatePasswordReset_MismatchedConfirmation(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.ValidatePasswordReset(context.Background(), "a@x.com", "NewPass1", "Different1", "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusBadRequest, res.Status)
}

func TestValidatePasswordReset_DecodesTokenBeforeVerify(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ResetPassword", ctx, acct, "tok+with spaces", "NewStr0ngPass").Return(nil)

	res, err := svc.ValidatePasswordReset(ctx, "a@x.com", "NewStr0ngPass", "NewStr0ngPass", "tok%2Bwith%20spaces")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
}

func TestValidatePasswordReset_StoreRejection(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("ResetPassword", ctx, acct, "bad-tok", "NewStr0ngPass").
		Return(apperrors.InvalidInput("invalid or expired reset token"))

	res, err := svc.ValidatePasswordReset(ctx, "a@x.com", "NewStr0ngPass", "NewStr0ngPass", "bad-tok")
	require.NoError(t, err)
	assert.Equal(t, StatusBadRequest, res.Status)
	assert.Contains(t, res.Message, "reset token")
}

// --- RefreshAccessToken ---

func TestRefreshAccessToken_MatchRotates(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("VerifyAuthToken", ctx, "acct-1", "GranaFlow", "RefreshToken", "current-refresh").Return(true, nil)
	cs.On("SetAuthToken", ctx, "acct-1", "GranaFlow", "RefreshToken", mock.Anything).Return(nil).Once()

	res, err := svc.RefreshAccessToken(ctx, "a@x.com", "current-refresh")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)

	pair, ok := res.Payload.(domain.AuthTokenPair)
	require.True(t, ok)
	assert.NotEqual(t, "current-refresh", pair.RefreshToken)
	cs.AssertExpectations(t)
}

func TestRefreshAccessToken_MismatchIsSilentBadRequest(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	acct := confirmedAccount()
	cs.On("FindByEmail", ctx, "a@x.com").Return(acct, nil)
	cs.On("VerifyAuthToken", ctx, "acct-1", "GranaFlow", "RefreshToken", "stale").Return(false, nil)

	res, err := svc.RefreshAccessToken(ctx, "a@x.com", "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusBadRequest, res.Status)
	assert.Nil(t, res.Payload)
	cs.AssertNotCalled(t, "SetAuthToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- Refresh rotation round trip over a stateful store ---

type statefulStore struct {
	mockCredStore // unused mock base to satisfy the interface
	acct          *domain.Account
	authTokens    map[string]string
}

func (s *statefulStore) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	if s.acct != nil && s.acct.Email == email {
		return s.acct, nil
	}
	return nil, apperrors.NotFound("account", email)
}

func (s *statefulStore) CheckPassword(_ context.Context, _ *domain.Account, password string) (bool, error) {
	return password == "pw1", nil
}

func (s *statefulStore) SetAuthToken(_ context.Context, accountID, provider, name, value string) error {
	s.authTokens[accountID+"/"+provider+"/"+name] = value
	return nil
}

func (s *statefulStore) VerifyAuthToken(_ context.Context, accountID, provider, name, value string) (bool, error) {
	return s.authTokens[accountID+"/"+provider+"/"+name] == value, nil
}

func TestRefreshRotation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := &statefulStore{
		acct:       confirmedAccount(),
		authTokens: make(map[string]string),
	}
	svc := NewService(st, testIssuer(t), &mockNotifier{}, Config{}, testLogger())

	// SignIn issues the first refresh token.
	res, err := svc.SignIn(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	first := res.Payload.(domain.AuthTokenPair)

	// Presenting it once yields a new pair and supersedes the old value.
	res, err = svc.RefreshAccessToken(ctx, "a@x.com", first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	second := res.Payload.(domain.AuthTokenPair)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// A second presentation of the old value fails.
	res, err = svc.RefreshAccessToken(ctx, "a@x.com", first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, StatusBadRequest, res.Status)

	// The new value still works.
	res, err = svc.RefreshAccessToken(ctx, "a@x.com", second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
}
