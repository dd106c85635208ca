// Package dbsession tracks the short-lived AI-service sessions a user opens
// per database connection. Its lifecycle is independent from the main
// authenticated session: records die by explicit removal or by expiry sweep,
// never as a side effect of login state.
package dbsession

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/quantrail/quantachat/storage"
	"github.com/rs/zerolog/log"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// DefaultStorageKey is the key the record set is persisted under.
const DefaultStorageKey = "db_sessions"

// DefaultSweepInterval is how often the background sweeper prunes expired
// records. Frequent enough that a long-idle process does not present dead
// sessions as live for long, without busy-looping.
const DefaultSweepInterval = 45 * time.Second

// Record is one live AI-service session for a connected database. At most
// one record exists per database id.
type Record struct {
	DBID      int64     `json:"dbid"`
	SessionID string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// live reports whether the record is still usable at the given instant.
// A record exactly at its expiry is dead.
func (r *Record) live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Registry is the persisted set of per-database sessions, keyed by database
// id. Mutations write the full set back to storage; the in-memory state is
// authoritative between loads.
type Registry struct {
	kv      storage.KV
	key     string
	lock    sync.Mutex
	records []Record
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStorageKey overrides the key the record set is stored under.
func WithStorageKey(key string) RegistryOption {
	return func(r *Registry) {
		r.key = key
	}
}

// NewRegistry creates a registry over the given store and loads any
// previously persisted records. A malformed stored set is discarded.
func NewRegistry(kv storage.KV, options ...RegistryOption) *Registry {
	r := &Registry{kv: kv, key: DefaultStorageKey}
	for _, opt := range options {
		opt(r)
	}
	r.load()
	return r
}

func (r *Registry) load() {
	data, err := r.kv.Get(r.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("database session registry read failed")
		}
		return
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Msg("discarding malformed database session records")
		return
	}
	r.records = records
}

func (r *Registry) persist() {
	data, err := json.Marshal(r.records)
	if err != nil {
		log.Warn().Err(err).Msg("database session registry serialize failed")
		return
	}
	if err := r.kv.Put(r.key, data); err != nil {
		log.Warn().Err(err).Msg("database session registry write failed")
	}
}

// Insert adds a session record for a database, replacing in place any
// existing record for the same database id.
func (r *Registry) Insert(rec Record) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i := range r.records {
		if r.records[i].DBID == rec.DBID {
			r.records[i].SessionID = rec.SessionID
			r.records[i].ExpiresAt = rec.ExpiresAt
			r.persist()
			return
		}
	}

	r.records = append(r.records, rec)
	r.persist()
}

// Remove deletes the record for a database id, if any.
func (r *Registry) Remove(dbid int64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.DBID != dbid {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	r.persist()
}

// Get returns the session id for a database regardless of expiry. Callers
// needing liveness must check IsLive separately.
func (r *Registry) Get(dbid int64) (string, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, rec := range r.records {
		if rec.DBID == dbid {
			return rec.SessionID, true
		}
	}
	return "", false
}

// IsLive reports whether a record exists for the database and has not yet
// expired.
func (r *Registry) IsLive(dbid int64) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := NowTimeFunc()
	for _, rec := range r.records {
		if rec.DBID == dbid {
			return rec.live(now)
		}
	}
	return false
}

// Len returns the number of records, live or not.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.records)
}

// SweepExpired removes every record whose expiry has passed and returns how
// many were pruned.
func (r *Registry) SweepExpired() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := NowTimeFunc()
	kept := r.records[:0]
	removed := 0
	for _, rec := range r.records {
		if rec.live(now) {
			kept = append(kept, rec)
		} else {
			removed++
		}
	}

	if removed == 0 {
		return 0
	}

	r.records = kept
	r.persist()
	log.Debug().Int("removed", removed).Msg("pruned expired database sessions")
	return removed
}

// Run sweeps expired records on the given interval until the context is
// cancelled. A non-positive interval falls back to DefaultSweepInterval.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepExpired()
		}
	}
}
