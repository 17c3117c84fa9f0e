// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ceremony

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// stateKey identifies one live ceremony slot: a session holds at most one
// pending state per kind.
type stateKey struct {
	session string
	kind    Kind
}

// MemoryStateStore is an in-memory implementation of StateStore.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[stateKey]*State
	now    func() time.Time
}

// NewMemoryStateStore creates a new in-memory ceremony state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[stateKey]*State),
		now:    time.Now,
	}
}

// Put stores state for the (sessionKey, kind) pair, overwriting any existing
// live entry.
func (s *MemoryStateStore) Put(ctx context.Context, sessionKey string, kind Kind, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[stateKey{sessionKey, kind}] = state
	return nil
}

// TakeAndClear atomically reads and invalidates the entry for the
// (sessionKey, kind) pair. Expired entries are treated as absent.
func (s *MemoryStateStore) TakeAndClear(ctx context.Context, sessionKey string, kind Kind) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{sessionKey, kind}
	state, ok := s.states[key]
	if !ok {
		return nil, NewError("take ceremony state", ErrNoPendingCeremony)
	}
	delete(s.states, key)

	if state.Expired(s.now()) {
		return nil, NewError("take ceremony state", ErrNoPendingCeremony)
	}
	return state, nil
}

// Count returns the number of live entries, expired or not.
func (s *MemoryStateStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Cleanup removes expired entries and returns how many were purged. Expiry
// is already enforced on read; this only bounds memory.
func (s *MemoryStateStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, state := range s.states {
		if state.Expired(now) {
			delete(s.states, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (s *MemoryStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[stateKey]*State)
}

// MemoryCredentialRepository is an in-memory implementation of
// CredentialRepository. Suitable for development and testing; production
// deployments use the SQLite repository in pkg/storage/sqlite.
type MemoryCredentialRepository struct {
	mu   sync.RWMutex
	byID map[string]*Credential
}

// NewMemoryCredentialRepository creates a new in-memory credential
// repository.
func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		byID: make(map[string]*Credential),
	}
}

// ListByUser returns all credentials owned by the user.
func (r *MemoryCredentialRepository) ListByUser(ctx context.Context, userID string) ([]*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds := make([]*Credential, 0)
	for _, cred := range r.byID {
		if cred.UserID == userID {
			copied := *cred
			creds = append(creds, &copied)
		}
	}
	return creds, nil
}

// FindByID returns the credential with the given identifier.
func (r *MemoryCredentialRepository) FindByID(ctx context.Context, credentialID []byte) (*Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.byID[hex.EncodeToString(credentialID)]
	if !ok {
		return nil, NewError("find credential", ErrCredentialNotFound)
	}
	copied := *cred
	return &copied, nil
}

// Insert stores a new credential, failing on a duplicate identifier without
// touching the existing row.
func (r *MemoryCredentialRepository) Insert(ctx context.Context, cred *Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := hex.EncodeToString(cred.ID)
	if _, ok := r.byID[key]; ok {
		return NewError("insert credential", ErrDuplicateCredential)
	}
	copied := *cred
	r.byID[key] = &copied
	return nil
}

// UpdateCounter advances the signature counter as a compare-and-set against
// the previously observed value.
func (r *MemoryCredentialRepository) UpdateCounter(ctx context.Context, credentialID []byte, observed, updated uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.byID[hex.EncodeToString(credentialID)]
	if !ok {
		return NewError("update counter", ErrCredentialNotFound)
	}
	if cred.SignCount != observed {
		// Raced by a concurrent assertion carrying the same captured
		// counter; indistinguishable from a replay.
		return NewError("update counter", ErrCloneSuspected)
	}
	cred.SignCount = updated
	cred.LastUsedAt = time.Now().UTC()
	return nil
}

// DeleteOwned removes the credential only if owned by userID. Returns false
// for both missing and foreign credentials.
func (r *MemoryCredentialRepository) DeleteOwned(ctx context.Context, credentialID []byte, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := hex.EncodeToString(credentialID)
	cred, ok := r.byID[key]
	if !ok || cred.UserID != userID {
		return false, nil
	}
	delete(r.byID, key)
	return true, nil
}

// Count returns the number of stored credentials.
func (r *MemoryCredentialRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Clear removes all credentials.
func (r *MemoryCredentialRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*Credential)
}

// MemoryUserDirectory is an in-memory implementation of UserDirectory for
// development and testing. Production deployments adapt their account
// system instead.
type MemoryUserDirectory struct {
	mu       sync.RWMutex
	byID     map[string]*User
	byHandle map[string]string
}

// NewMemoryUserDirectory creates a new in-memory user directory.
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{
		byID:     make(map[string]*User),
		byHandle: make(map[string]string),
	}
}

// Add registers a user with the directory.
func (d *MemoryUserDirectory) Add(user *User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *user
	d.byID[user.ID] = &copied
	d.byHandle[hex.EncodeToString(user.Handle)] = user.ID
}

// FindByID returns the user with the given account identifier.
func (d *MemoryUserDirectory) FindByID(ctx context.Context, userID string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.byID[userID]
	if !ok {
		return nil, NewError("find user", ErrUserNotFound)
	}
	copied := *user
	return &copied, nil
}

// FindByHandle returns the user bound to the given WebAuthn user handle.
func (d *MemoryUserDirectory) FindByHandle(ctx context.Context, handle []byte) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	userID, ok := d.byHandle[hex.EncodeToString(handle)]
	if !ok {
		return nil, NewError("find user by handle", ErrUserNotFound)
	}
	user, ok := d.byID[userID]
	if !ok {
		return nil, NewError("find user by handle", ErrUserNotFound)
	}
	copied := *user
	return &copied, nil
}
