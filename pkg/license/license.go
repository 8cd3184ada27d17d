// Package license verifies recorder session tokens.
package license

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Product is the product claim required in session tokens.
const Product = "mediarec"

// Plan is the licensed plan of a session token.
type Plan string

// Plans.
const (
	PlanFull    Plan = "full"
	PlanLimited Plan = "limited"
)

// Errors.
var (
	ErrMissing = errors.New("session token missing")
	ErrInvalid = errors.New("session token invalid")
	ErrPlan    = errors.New("session token plan invalid")
)

// Claims of a session token.
type Claims struct {
	Product string `json:"product"`
	Plan    Plan   `json:"plan"`
	jwt.RegisteredClaims
}

// Verifier verifies HS256 signed session tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a verifier for tokens signed with secret.
// Without secret any non-empty token is accepted with the full plan.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify token and return its plan.
func (v *Verifier) Verify(token string) (Plan, error) {
	if token == "" {
		return "", ErrMissing
	}
	if len(v.secret) == 0 {
		return PlanFull, nil
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", fmt.Errorf("%w: %v", ErrPlan, err)
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.Product != Product {
		return "", fmt.Errorf("%w: product %q", ErrPlan, claims.Product)
	}
	switch claims.Plan {
	case PlanFull, PlanLimited:
		return claims.Plan, nil
	case "":
		return PlanFull, nil
	default:
		return "", fmt.Errorf("%w: unknown plan %q", ErrPlan, claims.Plan)
	}
}

// Sign returns a token for plan signed with secret.
func Sign(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
