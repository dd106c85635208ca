package identityfakes

import (
	"context"
	"sync"

	"github.com/quantrail/quantachat/auth"
	"github.com/quantrail/quantachat/users"
)

var _ auth.IdentityService = (*FakeIdentityService)(nil)

// FakeIdentityService is an in-memory IdentityService for tests. It records
// how many times it was asked, so tests can assert the gate short-circuits
// without a network round trip.
type FakeIdentityService struct {
	lock  sync.Mutex
	user  *users.User
	err   error
	calls int
}

func NewFakeIdentityService() *FakeIdentityService {
	return &FakeIdentityService{}
}

// SetUser sets the identity returned by CurrentUser.
func (f *FakeIdentityService) SetUser(user *users.User) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.user = user
	f.err = nil
}

// SetError makes CurrentUser fail.
func (f *FakeIdentityService) SetError(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.err = err
}

func (f *FakeIdentityService) CurrentUser(_ context.Context) (*users.User, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

// Calls returns how many times CurrentUser was invoked.
func (f *FakeIdentityService) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}
