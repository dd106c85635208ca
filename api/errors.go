package api

import (
	"fmt"
	"strings"
)

// AuthErrorClass buckets the causes of a 401 response. The three buckets get
// materially different handling: revocation tears the session down with a
// blocking notice, expiry silently sends the user back to login, and
// anything else propagates to the caller unchanged.
type AuthErrorClass int

const (
	AuthErrorOther AuthErrorClass = iota
	AuthErrorExpired
	AuthErrorRevoked
)

func (c AuthErrorClass) String() string {
	switch c {
	case AuthErrorExpired:
		return "expired"
	case AuthErrorRevoked:
		return "revoked"
	default:
		return "other"
	}
}

// AuthError is a classified 401 response.
type AuthError struct {
	Class   AuthErrorClass
	Code    string // structured error code, when the backend supplies one
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized (%s): %s", e.Class, e.Message)
}

// Structured codes the backend may attach to 401 bodies. When present they
// take priority over message matching.
const (
	codeTokenExpired   = "TOKEN_EXPIRED"
	codeTokenInvalid   = "TOKEN_INVALID"
	codeTokenRevoked   = "TOKEN_REVOKED"
	codeAccountDeleted = "ACCOUNT_DELETED"
)

// ClassifyAuthError buckets a 401 body into an AuthError. Older backends
// only send a free-text message, so substring matching remains as a
// legacy-compatibility shim behind the structured code field.
func ClassifyAuthError(code, message string) *AuthError {
	e := &AuthError{Code: code, Message: message}

	switch code {
	case codeTokenRevoked, codeAccountDeleted:
		e.Class = AuthErrorRevoked
		return e
	case codeTokenExpired, codeTokenInvalid:
		e.Class = AuthErrorExpired
		return e
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "revoked"), strings.Contains(lower, "deleted"):
		e.Class = AuthErrorRevoked
	case strings.Contains(lower, "expired"), strings.Contains(lower, "invalid token"):
		e.Class = AuthErrorExpired
	}
	return e
}
