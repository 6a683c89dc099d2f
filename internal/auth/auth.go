// Package auth verifies and issues the HS256 bearer tokens used by the API
// and the realtime relay.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/secrets"
)

var (
	// ErrMissingToken is returned when no token was presented.
	ErrMissingToken = errors.New("auth: token required")
	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims is the token payload. Subject carries the user id.
type Claims struct {
	CompanyID *uint `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID    uint
	CompanyID *uint // company bound into the token, if any
}

// TokenVerifier is implemented by Verifier; consumers depend on it so tests
// can substitute fixed principals.
type TokenVerifier interface {
	Verify(token string) (Principal, error)
}

// Verifier validates tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses token and returns the principal it names.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return Principal{}, fmt.Errorf("%w: issuer %q", ErrInvalidToken, claims.Issuer)
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return Principal{}, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}

	return Principal{UserID: uint(userID), CompanyID: claims.CompanyID}, nil
}

// Issuer signs tokens with the same secret a Verifier checks.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(secret, issuer string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for userID. companyID may be nil. A non-positive ttl
// produces a token without expiry.
func (i *Issuer) Issue(userID uint, companyID *uint, ttl time.Duration) (string, error) {
	if userID == 0 {
		return "", errors.New("auth: user id is required")
	}
	now := i.now()
	claims := Claims{
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatUint(uint64(userID), 10),
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ResolveSecret returns the configured literal secret, or fetches
// jwt_secret_param through getter when no literal is set.
func ResolveSecret(ctx context.Context, cfg config.AuthConfig, getter secrets.Getter) (string, error) {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret, nil
	}
	if cfg.JWTSecretParam == "" {
		return "", errors.New("auth: no jwt secret configured")
	}
	if getter == nil {
		return "", errors.New("auth: secret getter is required for jwt_secret_param")
	}
	secret, err := getter.GetParameter(ctx, cfg.JWTSecretParam)
	if err != nil {
		return "", fmt.Errorf("auth: resolve secret: %w", err)
	}
	if secret == "" {
		return "", fmt.Errorf("auth: parameter %q is empty", cfg.JWTSecretParam)
	}
	return secret, nil
}
