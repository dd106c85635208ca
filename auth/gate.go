// Package auth decides whether the current user may enter a protected area
// of the application. Role claims cached client-side can go stale (an admin
// may demote a user without the local token being refreshed), so every check
// re-confirms identity with the backend rather than trusting cached claims.
package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/quantrail/quantachat/users"
	"github.com/rs/zerolog/log"
)

// State is the outcome of an authorization check. A check starts in
// StateChecking, which callers should render as nothing at all: showing
// protected content before the check resolves leaks it to demoted users.
type State int

const (
	StateChecking State = iota
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// DefaultRedirectPath is where denied users are sent.
const DefaultRedirectPath = "/"

// IdentityService confirms the current user with the backend. The session
// store's cached role is never the gate's input; only the server-confirmed
// identity is.
type IdentityService interface {
	CurrentUser(ctx context.Context) (*users.User, error)
}

// Gate evaluates role-based access for protected areas.
type Gate struct {
	identity     IdentityService
	redirectPath string
}

// GateOption defines a function type to modify the Gate instance.
type GateOption func(*Gate)

// WithRedirectPath sets where denied users are redirected.
func WithRedirectPath(path string) GateOption {
	return func(g *Gate) {
		g.redirectPath = path
	}
}

// NewGate initializes a Gate with its identity dependency.
func NewGate(identity IdentityService, options ...GateOption) (*Gate, error) {
	if identity == nil {
		return nil, errors.New("[NewGate] identity service is required")
	}

	g := &Gate{
		identity:     identity,
		redirectPath: DefaultRedirectPath,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// RedirectPath returns where denied users should be sent.
func (g *Gate) RedirectPath() string {
	return g.redirectPath
}

// Evaluate runs one authorization check and returns the terminal state.
//
// An unauthenticated caller is denied immediately, without touching the
// network. Otherwise the backend's current identity is fetched and the
// user's server-confirmed role is matched against allowedRoles (an empty set
// admits any role). Any fetch failure denies: ambiguity never fails open.
//
// Callers hold StateChecking while this call is in flight.
func (g *Gate) Evaluate(ctx context.Context, authenticated bool, allowedRoles []users.Role) State {
	if !authenticated {
		return StateDenied
	}

	user, err := g.identity.CurrentUser(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("identity check failed, denying access")
		return StateDenied
	}
	if user == nil {
		log.Warn().Msg("identity check returned no user, denying access")
		return StateDenied
	}

	if user.HasRole(allowedRoles) {
		return StateAllowed
	}
	return StateDenied
}
