// Package auth issues the operator tokens accepted by the switch API.
package auth

import (
	"fmt"
	"strings"
	"time"

	"ilpsdk/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs HS256 operator tokens.
type Issuer struct {
	jwtSecret []byte
	jwtExpiry time.Duration
	now       func() time.Time
}

// NewIssuer constructs an Issuer with the given secret and token lifetime.
func NewIssuer(jwtSecret string, jwtExpiry time.Duration) *Issuer {
	return &Issuer{
		jwtSecret: []byte(jwtSecret),
		jwtExpiry: jwtExpiry,
		now:       time.Now,
	}
}

// TokenResponse is an issued access token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	Operator    string    `json:"operator"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issue signs a token whose subject is operator.
func (i *Issuer) Issue(operator string) (*TokenResponse, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "operator name required")
	}
	if i.jwtExpiry <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "token lifetime must be positive")
	}

	now := i.now()
	expiresAt := now.Add(i.jwtExpiry)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   operator,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(i.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		Operator:    operator,
		ExpiresAt:   expiresAt,
	}, nil
}
