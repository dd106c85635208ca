package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/quantrail/quantachat/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims is the payload the backend embeds in its RS256 JWTs. The client
// extracts these without verifying the signature: only the backend holds the
// key material, so a successful decode is never proof of authenticity, just
// enough for the UI to react optimistically.
type Claims struct {
	UserID       int64      `json:"userId"`
	Role         users.Role `json:"role"`
	Email        string     `json:"email,omitempty"`
	Name         string     `json:"name,omitempty"`
	IsSuperAdmin bool       `json:"is_super_admin,omitempty"`
	Iat          int64      `json:"iat,omitempty"`
	Exp          int64      `json:"exp,omitempty"`
	Jti          string     `json:"jti,omitempty"`
}

// User builds the denormalized user record cached next to the token.
func (c *Claims) User() users.User {
	return users.User{
		ID:           c.UserID,
		Role:         c.Role,
		Email:        c.Email,
		Name:         c.Name,
		IsSuperAdmin: c.IsSuperAdmin,
	}
}

// Expired reports whether the token's exp claim has passed. Tokens without
// an exp claim never expire client-side.
func (c *Claims) Expired() bool {
	return c.Exp != 0 && NowTimeFunc().Unix() >= c.Exp
}

// Decode parses the payload segment of a JWT without verifying the
// signature. Returns nil for anything that is not a well-formed JWT carrying
// a userId claim. Never panics.
func Decode(rawToken string) *Claims {
	if rawToken == "" {
		return nil
	}

	unverified, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil
	}

	mapClaims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil
	}

	userID, ok := numberClaim(mapClaims["userId"])
	if !ok {
		return nil
	}

	claims := &Claims{UserID: userID}

	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = users.Role(role)
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	}
	if super, ok := mapClaims["is_super_admin"].(bool); ok {
		claims.IsSuperAdmin = super
	}
	if iat, ok := numberClaim(mapClaims["iat"]); ok {
		claims.Iat = iat
	}
	if exp, ok := numberClaim(mapClaims["exp"]); ok {
		claims.Exp = exp
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.Jti = jti
	}

	return claims
}

// numberClaim converts the json.Unmarshal representations of a numeric
// claim. Some backends issue userId as a string, so that is accepted too.
func numberClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case string:
		var parsed int64
		for _, ch := range n {
			if ch < '0' || ch > '9' {
				return 0, false
			}
			parsed = parsed*10 + int64(ch-'0')
		}
		if n == "" {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
