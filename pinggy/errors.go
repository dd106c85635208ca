package pinggy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSession is returned when a query is attempted against a database with
// no live AI-service session. The user must generate a new session key.
var ErrNoSession = errors.New("no live session for database")

// ErrorCode is the short code shown inline in chat when the AI service
// fails.
type ErrorCode string

const (
	CodeSessionInvalid ErrorCode = "SI"      // session not found or expired server-side
	CodeInternalError  ErrorCode = "ISE"     // internal server error
	CodeGeneric        ErrorCode = "GENERIC" // anything unmatched
)

// ServiceError is a classified AI-service failure.
type ServiceError struct {
	Code   ErrorCode
	Status int
	Detail string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("pinggy error %s (status %d): %s", e.Code, e.Status, e.Detail)
}

// classifyDetail maps the service's detail text onto a short code. The
// service does not emit structured codes, so text matching is the contract.
func classifyDetail(detail string) ErrorCode {
	switch {
	case strings.Contains(detail, "Session not found"), strings.Contains(detail, "Session expired"):
		return CodeSessionInvalid
	case strings.Contains(detail, "Internal server error"):
		return CodeInternalError
	default:
		return CodeGeneric
	}
}
