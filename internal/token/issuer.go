package token

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/grana-flow/grana-flow-api/internal/domain"
)

// AccessClaims represents the JWT claims for an access token. The subject is
// the account email and the token ID carries the account identifier.
type AccessClaims struct {
	Email           string `json:"email"`
	TwoFactorEnable string `json:"twoFactorEnable"`
	jwt.RegisteredClaims
}

// RefreshClaims represents the JWT claims for a refresh token.
type RefreshClaims struct {
	NameID    string `json:"nameid"`
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

const refreshTokenType = "refresh"

// Config holds the signing configuration for the issuer. All fields are
// required; a zero value anywhere is a startup error, never a per-request one.
type Config struct {
	Secret            string
	Issuer            string
	Audience          string
	AccessExpiryMins  int
	RefreshExpiryDays int
}

func (c Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("token: signing secret is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("token: issuer is required")
	}
	if c.Audience == "" {
		return fmt.Errorf("token: audience is required")
	}
	if c.AccessExpiryMins <= 0 {
		return fmt.Errorf("token: access expiry must be positive, got %d", c.AccessExpiryMins)
	}
	if c.RefreshExpiryDays <= 0 {
		return fmt.Errorf("token: refresh expiry must be positive, got %d", c.RefreshExpiryDays)
	}
	return nil
}

// Issuer turns a verified account into a signed access/refresh token pair.
type Issuer struct {
	secret        []byte
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// NewIssuer creates an issuer from the given config. Invalid configuration
// is a constructor error so misconfiguration is caught at startup.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Issuer{
		secret:        []byte(cfg.Secret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessExpiry:  time.Duration(cfg.AccessExpiryMins) * time.Minute,
		refreshExpiry: time.Duration(cfg.RefreshExpiryDays) * 24 * time.Hour,
		now:           time.Now,
	}, nil
}

// Issue creates a signed access/refresh token pair for the account. Both
// tokens are HS256 JWTs; the refresh token carries its own claim set and an
// independent expiry measured in days.
func (i *Issuer) Issue(acct *domain.Account) (domain.AuthTokenPair, error) {
	now := i.now().UTC()
	accessExpires := now.Add(i.accessExpiry)

	accessClaims := &AccessClaims{
		Email:           acct.Email,
		TwoFactorEnable: strconv.FormatBool(acct.TwoFactorEnabled),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.Email,
			ID:        acct.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpires),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(i.secret)
	if err != nil {
		return domain.AuthTokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := &RefreshClaims{
		NameID:    acct.ID,
		Email:     acct.Email,
		TokenType: refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.Email,
			ID:        uuid.New().String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshExpiry)),
		},
	}

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(i.secret)
	if err != nil {
		return domain.AuthTokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return domain.AuthTokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiration:   accessExpires,
	}, nil
}

// ValidateAccess parses and validates an access token, returning its claims.
func (i *Issuer) ValidateAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, i.keyFunc,
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}

	return claims, nil
}

// ValidateRefresh parses and validates a refresh token, returning its claims.
func (i *Issuer) ValidateRefresh(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, i.keyFunc,
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("parse refresh token: %w", err)
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid refresh token claims")
	}
	if claims.TokenType != refreshTokenType {
		return nil, fmt.Errorf("token is not a refresh token")
	}

	return claims, nil
}

func (i *Issuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return i.secret, nil
}
