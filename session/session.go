// Package session manages the client's single authenticated session across
// two storage tiers: a persistent tier that survives restarts (remember-me)
// and an ephemeral tier scoped to the running process.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/quantrail/quantachat/users"
)

// Session is the authenticated session persisted by the client. Token is the
// authoritative bearer credential; User is a denormalized cache of the
// token's claims and must track the most recent server-confirmed values.
type Session struct {
	Token string     `json:"token"`
	User  users.User `json:"user"`
}

// Validate rejects stored records that would propagate a half-formed session
// through the rest of the client. A session without a user ID is garbage; a
// session without a token is a valid logged-out shell (see
// ClearTokenForCurrentSession).
func (s *Session) Validate() error {
	if s.User.ID == 0 {
		return fmt.Errorf("session has no user id")
	}
	return nil
}

// marshal serializes the session for storage.
func (s *Session) marshal() ([]byte, error) {
	return json.Marshal(s)
}

// unmarshalSession parses and validates a stored session record. Records
// that fail validation are treated as absent rather than surfaced.
func unmarshalSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("malformed session record: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
