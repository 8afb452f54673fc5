package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/grana-flow/grana-flow-api/internal/account"
	"github.com/grana-flow/grana-flow-api/pkg/httputil"
	"github.com/grana-flow/grana-flow-api/pkg/validator"
)

// AccountService is what the auth endpoints need from the orchestrator.
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.Result, error)
	SignIn(ctx context.Context, email, password string) (*account.Result, error)
	ConfirmEmail(ctx context.Context, email, token string) (*account.Result, error)
	GenerateTwoFactorToken(ctx context.Context, email string) (*account.Result, error)
	ValidateTwoFactorToken(ctx context.Context, email, code string) (*account.Result, error)
	RequestPasswordReset(ctx context.Context, email, resetURL string) (*account.Result, error)
	ValidatePasswordReset(ctx context.Context, email, newPassword, confirmPassword, token string) (*account.Result, error)
	RefreshAccessToken(ctx context.Context, email, refreshToken string) (*account.Result, error)
}

// AuthHandler handles HTTP requests for account registration, sign-in, and
// credential lifecycle endpoints.
type AuthHandler struct {
	service    AccountService
	confirmURL string
	resetURL   string
	logger     *slog.Logger
}

// NewAuthHandler creates an auth HTTP handler. confirmURL and resetURL are
// the link bases embedded in outgoing notification mails.
func NewAuthHandler(svc AccountService, confirmURL, resetURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:    svc,
		confirmURL: confirmURL,
		resetURL:   resetURL,
		logger:     logger,
	}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for account registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=3,max=100"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// SignInRequest is the JSON request body for sign-in.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest is the JSON request body for rotating a token pair.
type RefreshTokenRequest struct {
	Email        string `json:"email" validate:"required,email"`
	RefreshToken string `json:"refresh_token" validate:"required,jwt"`
}

// ForgetPasswordRequest is the JSON request body for requesting a reset link.
type ForgetPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ValidateForgetPasswordRequest is the JSON request body for completing a
// password reset.
type ValidateForgetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	Token           string `json:"token" validate:"required"`
}

// TwoFactorGenerateRequest is the JSON request body for re-issuing a 2FA code.
type TwoFactorGenerateRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// TwoFactorValidateRequest is the JSON request body for validating a 2FA code.
type TwoFactorValidateRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.Register(r.Context(), account.RegisterInput{
		Email:      req.Email,
		Username:   req.Username,
		Password:   req.Password,
		ConfirmURL: h.confirmURL,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// SignIn handles POST /api/v1/auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// ConfirmEmail handles GET /api/v1/auth/confirm-email?token=X&email=Y
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	email := r.URL.Query().Get("email")
	if token == "" || email == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "token and email query parameters are required"},
		})
		return
	}

	res, err := h.service.ConfirmEmail(r.Context(), email, token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// RefreshToken handles POST /api/v1/auth/refresh-token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.RefreshAccessToken(r.Context(), req.Email, req.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// ForgetPassword handles POST /api/v1/auth/forget-password
func (h *AuthHandler) ForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgetPasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.RequestPasswordReset(r.Context(), req.Email, h.resetURL)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// ValidateForgetPassword handles POST /api/v1/auth/forget-password/validate
func (h *AuthHandler) ValidateForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req ValidateForgetPasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.ValidatePasswordReset(r.Context(), req.Email, req.NewPassword, req.ConfirmPassword, req.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// GenerateTwoFactor handles POST /api/v1/auth/2fa/generate
func (h *AuthHandler) GenerateTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorGenerateRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.GenerateTwoFactorToken(r.Context(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// ValidateTwoFactor handles POST /api/v1/auth/2fa/validate
func (h *AuthHandler) ValidateTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorValidateRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.ValidateTwoFactorToken(r.Context(), req.Email, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeResult(w, res)
}

// writeResult renders an orchestrator envelope as an HTTP response.
func (h *AuthHandler) writeResult(w http.ResponseWriter, res *account.Result) {
	status := res.Status.HTTPStatus()

	if status >= 400 {
		httputil.WriteJSON(w, status, httputil.Response{
			Error: &httputil.ErrorResponse{Code: codeForStatus(status), Message: res.Message},
		})
		return
	}

	httputil.WriteJSON(w, status, httputil.Response{
		Data:    res.Payload,
		Message: res.Message,
	})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusUnprocessableEntity:
		return "EMAIL_NOT_CONFIRMED"
	default:
		return "ERROR"
	}
}
