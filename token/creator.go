package token

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/quantrail/quantachat/token/keys"
	"github.com/quantrail/quantachat/users"
)

// DefaultSessionTokenExpiry matches the backend's issued-token lifetime.
const DefaultSessionTokenExpiry = 24 * time.Hour

// Creator mints session tokens the way the backend does. It exists for
// server-side tooling and for tests that need real tokens; the client itself
// only decodes.
type Creator struct {
	issuer string
	expiry time.Duration
}

// NewCreator creates a token creator for the given issuer. A zero expiry
// falls back to DefaultSessionTokenExpiry.
func NewCreator(issuer string, expiry time.Duration) *Creator {
	if expiry == 0 {
		expiry = DefaultSessionTokenExpiry
	}
	return &Creator{issuer: issuer, expiry: expiry}
}

// CreateSessionToken signs a session token carrying the user's identity and
// role claims.
func (c *Creator) CreateSessionToken(user *users.User, signer keys.Signer) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":    c.issuer,
		"userId": user.ID,
		"role":   string(user.Role),
		"iat":    NowTimeFunc().Unix(),
		"exp":    NowTimeFunc().Add(c.expiry).Unix(),
		"jti":    uuid.New().String(),
	}

	if user.Email != "" {
		claims["email"] = user.Email
	}
	if user.Name != "" {
		claims["name"] = user.Name
	}
	if user.IsSuperAdmin {
		claims["is_super_admin"] = true
	}

	signedToken, err := signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signedToken, nil
}
