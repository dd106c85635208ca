package dbsession_test

import (
	"testing"
	"time"

	"github.com/quantrail/quantachat/dbsession"
	"github.com/quantrail/quantachat/storage/memkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t *testing.T) time.Time {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	restore := dbsession.NowTimeFunc
	dbsession.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { dbsession.NowTimeFunc = restore })
	return now
}

func TestInsertReplacesInPlace(t *testing.T) {
	now := fixedNow(t)
	reg := dbsession.NewRegistry(memkv.New())

	reg.Insert(dbsession.Record{DBID: 5, SessionID: "abc", ExpiresAt: now.Add(time.Hour)})
	reg.Insert(dbsession.Record{DBID: 5, SessionID: "def", ExpiresAt: now.Add(2 * time.Hour)})

	assert.Equal(t, 1, reg.Len(), "one record per database id")

	sessionID, ok := reg.Get(5)
	require.True(t, ok)
	assert.Equal(t, "def", sessionID)
}

func TestRemove(t *testing.T) {
	now := fixedNow(t)
	reg := dbsession.NewRegistry(memkv.New())

	reg.Insert(dbsession.Record{DBID: 1, SessionID: "a", ExpiresAt: now.Add(time.Hour)})
	reg.Insert(dbsession.Record{DBID: 2, SessionID: "b", ExpiresAt: now.Add(time.Hour)})

	reg.Remove(1)

	_, ok := reg.Get(1)
	assert.False(t, ok)
	_, ok = reg.Get(2)
	assert.True(t, ok)
}

func TestIsLiveStrictness(t *testing.T) {
	now := fixedNow(t)
	reg := dbsession.NewRegistry(memkv.New())

	reg.Insert(dbsession.Record{DBID: 1, SessionID: "a", ExpiresAt: now})
	assert.False(t, reg.IsLive(1), "a record exactly at expiry is dead")

	reg.Insert(dbsession.Record{DBID: 2, SessionID: "b", ExpiresAt: now.Add(time.Nanosecond)})
	assert.True(t, reg.IsLive(2))

	assert.False(t, reg.IsLive(99), "missing records are never live")
}

func TestGetIgnoresExpiry(t *testing.T) {
	now := fixedNow(t)
	reg := dbsession.NewRegistry(memkv.New())

	reg.Insert(dbsession.Record{DBID: 1, SessionID: "stale", ExpiresAt: now.Add(-time.Hour)})

	sessionID, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, "stale", sessionID)
	assert.False(t, reg.IsLive(1))
}

func TestSweepExpired(t *testing.T) {
	now := fixedNow(t)
	kv := memkv.New()
	reg := dbsession.NewRegistry(kv)

	reg.Insert(dbsession.Record{DBID: 1, SessionID: "dead", ExpiresAt: now.Add(-time.Minute)})
	reg.Insert(dbsession.Record{DBID: 2, SessionID: "edge", ExpiresAt: now})
	reg.Insert(dbsession.Record{DBID: 3, SessionID: "live", ExpiresAt: now.Add(time.Minute)})

	assert.Equal(t, 2, reg.SweepExpired())
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.IsLive(3))

	// Sweeping again with nothing expired is a no-op.
	assert.Equal(t, 0, reg.SweepExpired())

	// The pruned set was persisted: a fresh registry over the same store
	// only sees the live record.
	reloaded := dbsession.NewRegistry(kv)
	assert.Equal(t, 1, reloaded.Len())
	_, ok := reloaded.Get(3)
	assert.True(t, ok)
}

func TestRegistryLoadsPersistedRecords(t *testing.T) {
	now := fixedNow(t)
	kv := memkv.New()

	reg := dbsession.NewRegistry(kv)
	reg.Insert(dbsession.Record{DBID: 7, SessionID: "abc", ExpiresAt: now.Add(time.Hour)})

	reloaded := dbsession.NewRegistry(kv)
	sessionID, ok := reloaded.Get(7)
	require.True(t, ok)
	assert.Equal(t, "abc", sessionID)
}

func TestRegistryDiscardsMalformedStoredSet(t *testing.T) {
	kv := memkv.New()
	require.NoError(t, kv.Put(dbsession.DefaultStorageKey, []byte("[broken")))

	reg := dbsession.NewRegistry(kv)
	assert.Equal(t, 0, reg.Len())
}
