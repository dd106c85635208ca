package session

import (
	"errors"
	"sync"

	"github.com/quantrail/quantachat/storage"
	"github.com/quantrail/quantachat/token"
	"github.com/rs/zerolog/log"
)

// DefaultStorageKey is the key sessions are stored under in both tiers.
const DefaultStorageKey = "session"

// Store holds the single authenticated session across the persistent and
// ephemeral storage tiers. All storage failures degrade to logged no-ops:
// a broken storage tier must never take the client down with it.
type Store struct {
	persistent storage.KV
	ephemeral  storage.KV
	notifier   *Notifier
	key        string
	lock       sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStorageKey overrides the key the session is stored under.
func WithStorageKey(key string) StoreOption {
	return func(s *Store) {
		s.key = key
	}
}

// NewStore creates a session store over the two storage tiers.
func NewStore(persistent, ephemeral storage.KV, options ...StoreOption) *Store {
	s := &Store{
		persistent: persistent,
		ephemeral:  ephemeral,
		notifier:   NewNotifier(),
		key:        DefaultStorageKey,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Subscribe registers a listener for session changes.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	return s.notifier.Subscribe(l)
}

// Read returns the current session, preferring the ephemeral tier and
// falling back to the persistent one. Missing, unreadable and malformed
// records all read as nil.
func (s *Store) Read() *Session {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.read()
}

func (s *Store) read() *Session {
	if sess := s.readTier(s.ephemeral, "ephemeral"); sess != nil {
		return sess
	}
	return s.readTier(s.persistent, "persistent")
}

func (s *Store) readTier(kv storage.KV, tier string) *Session {
	data, err := kv.Get(s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("tier", tier).Msg("session read failed")
		}
		return nil
	}

	sess, err := unmarshalSession(data)
	if err != nil {
		log.Warn().Err(err).Str("tier", tier).Msg("discarding invalid stored session")
		return nil
	}
	return sess
}

// Write stores the session. With persist it lands in both tiers; without,
// only the ephemeral tier is written and any stale persistent copy is
// removed so the tiers cannot diverge. Listeners are notified either way.
func (s *Store) Write(sess *Session, persist bool) {
	s.lock.Lock()
	s.write(sess, persist)
	s.lock.Unlock()

	s.notifier.broadcast(sess)
}

func (s *Store) write(sess *Session, persist bool) {
	data, err := sess.marshal()
	if err != nil {
		log.Warn().Err(err).Msg("session serialize failed")
		return
	}

	if err := s.ephemeral.Put(s.key, data); err != nil {
		log.Warn().Err(err).Msg("ephemeral session write failed")
	}

	if persist {
		if err := s.persistent.Put(s.key, data); err != nil {
			log.Warn().Err(err).Msg("persistent session write failed")
		}
		return
	}

	if err := s.persistent.Delete(s.key); err != nil {
		log.Warn().Err(err).Msg("stale persistent session removal failed")
	}
}

// Clear removes the session from both tiers and notifies listeners once.
func (s *Store) Clear() {
	s.lock.Lock()
	if err := s.ephemeral.Delete(s.key); err != nil {
		log.Warn().Err(err).Msg("ephemeral session clear failed")
	}
	if err := s.persistent.Delete(s.key); err != nil {
		log.Warn().Err(err).Msg("persistent session clear failed")
	}
	s.lock.Unlock()

	s.notifier.broadcast(nil)
}

// Persisted reports whether the session currently has a persistent-tier
// copy, i.e. whether it was written in remember-me mode.
func (s *Store) Persisted() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, err := s.persistent.Get(s.key)
	return err == nil
}

// StoreTokenForLogin creates a fresh session from a bare token. This is the
// only path that may build a session wholesale: every user field comes from
// the token's claims. Returns false if the token cannot be decoded.
func (s *Store) StoreTokenForLogin(rawToken string, persist bool) bool {
	claims := token.Decode(rawToken)
	if claims == nil {
		log.Warn().Msg("login token could not be decoded")
		return false
	}

	sess := &Session{Token: rawToken, User: claims.User()}

	s.lock.Lock()
	s.write(sess, persist)
	s.lock.Unlock()

	s.notifier.broadcast(sess)
	return true
}

// SetTokenSafely applies a server-initiated token rotation (e.g. after a
// role edit). It fails closed when the token is undecodable, when no session
// exists, or when the token belongs to a different user: a response for one
// user's mutation must never hijack another's session. On success only the
// token and the role and name fields are updated.
func (s *Store) SetTokenSafely(rawToken string, persist bool) bool {
	claims := token.Decode(rawToken)
	if claims == nil {
		log.Warn().Msg("rotated token could not be decoded, keeping current session")
		return false
	}

	s.lock.Lock()

	sess := s.read()
	if sess == nil {
		s.lock.Unlock()
		log.Warn().Msg("rotated token arrived with no active session")
		return false
	}
	if claims.UserID != sess.User.ID {
		s.lock.Unlock()
		log.Warn().
			Int64("session_user", sess.User.ID).
			Int64("token_user", claims.UserID).
			Msg("rotated token belongs to a different user, ignoring")
		return false
	}

	sess.Token = rawToken
	sess.User.Role = claims.Role
	sess.User.Name = claims.Name
	s.write(sess, persist)
	s.lock.Unlock()

	s.notifier.broadcast(sess)
	return true
}

// ClearTokenForCurrentSession strips just the token, leaving a tokenless
// session shell behind. Used when the server reports the token revoked but
// the rest of the session metadata should not vanish mid-render.
func (s *Store) ClearTokenForCurrentSession() {
	s.lock.Lock()

	sess := s.read()
	if sess == nil {
		s.lock.Unlock()
		return
	}

	_, err := s.persistent.Get(s.key)
	persist := err == nil

	sess.Token = ""
	s.write(sess, persist)
	s.lock.Unlock()

	s.notifier.broadcast(sess)
}
