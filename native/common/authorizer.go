package common

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("caller not authorized")

// Authorizer gates administrative actions such as configuration updates,
// emergency pause and asset price overrides.
type Authorizer interface {
	IsAuthorized(caller common.Address, action string) bool
}

// Authorize rejects the call with ErrUnauthorized when the caller may not
// perform the action. A nil authorizer denies everything.
func Authorize(a Authorizer, caller common.Address, action string) error {
	if a == nil || !a.IsAuthorized(caller, action) {
		return ErrUnauthorized
	}
	return nil
}

// AdminSet authorizes a fixed set of admin addresses for every action.
type AdminSet struct {
	mu     sync.RWMutex
	admins map[common.Address]struct{}
}

// NewAdminSet constructs an authorizer trusting the provided addresses.
func NewAdminSet(admins ...common.Address) *AdminSet {
	set := &AdminSet{admins: make(map[common.Address]struct{}, len(admins))}
	for _, admin := range admins {
		set.admins[admin] = struct{}{}
	}
	return set
}

// IsAuthorized implements the Authorizer interface. Admins are trusted for all
// actions.
func (s *AdminSet) IsAuthorized(caller common.Address, _ string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[caller]
	return ok
}

// Grant adds an admin address to the set.
func (s *AdminSet) Grant(admin common.Address) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.admins[admin] = struct{}{}
	s.mu.Unlock()
}
