package account

import "net/http"

// Status classifies the outcome of an orchestrator operation independently
// of any transport.
type Status int

const (
	StatusOK Status = iota
	StatusCreated
	StatusPartialContent
	StatusBadRequest
	StatusUnauthorized
	StatusUnprocessable
)

// HTTPStatus maps the classification to an HTTP status code.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusCreated:
		return http.StatusCreated
	case StatusPartialContent:
		return http.StatusPartialContent
	case StatusBadRequest:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Result is the envelope every orchestrator operation returns for expected
// business outcomes. Lookup misses and duplicate registrations surface as
// distinct error signals instead, so callers can choose 404/409 semantics
// without guessing from message text.
type Result struct {
	Status  Status
	Payload any
	Message string
}

// TwoFactorPending is the payload for the 2FA-pending branch of SignIn.
type TwoFactorPending struct {
	Requires2FA bool   `json:"requires2FA"`
	Message     string `json:"message"`
}
