package domain

import (
	"time"
)

// Account represents a registered account in the system.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	PasswordHash     string    `json:"-"`
	EmailConfirmed   bool      `json:"email_confirmed"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TokenPurpose classifies a single-use token bound to an account.
type TokenPurpose string

const (
	PurposeEmailConfirmation TokenPurpose = "emailConfirmation"
	PurposeTwoFactor         TokenPurpose = "twoFactor"
	PurposePasswordReset     TokenPurpose = "passwordReset"
)

// AuthToken is an opaque authentication token persisted per account, keyed
// by login provider and token name. At most one row exists per
// (account, provider, name); a new issuance overwrites the previous value.
type AuthToken struct {
	AccountID     string    `json:"account_id"`
	LoginProvider string    `json:"login_provider"`
	Name          string    `json:"name"`
	ValueDigest   string    `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuthTokenPair holds a signed access/refresh token pair with the access
// token's expiration.
type AuthTokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiration   time.Time `json:"expiration"`
}
