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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(kind Kind, userID string, ttl time.Duration) *State {
	challenge, _ := NewChallenge()
	now := time.Now().UTC()
	return &State{
		Kind:      kind,
		Challenge: challenge,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemoryStateStore_TakeAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	state := testState(KindRegistration, "alice", time.Minute)
	require.NoError(t, store.Put(ctx, "session-1", KindRegistration, state))

	got, err := store.TakeAndClear(ctx, "session-1", KindRegistration)
	require.NoError(t, err)
	assert.Equal(t, state.Challenge, got.Challenge)

	// Single consumption: the same pair is now absent.
	_, err = store.TakeAndClear(ctx, "session-1", KindRegistration)
	assert.ErrorIs(t, err, ErrNoPendingCeremony)
}

func TestMemoryStateStore_AbsentSession(t *testing.T) {
	store := NewMemoryStateStore()
	_, err := store.TakeAndClear(context.Background(), "nobody", KindAuthentication)
	assert.ErrorIs(t, err, ErrNoPendingCeremony)
}

func TestMemoryStateStore_KindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	reg := testState(KindRegistration, "alice", time.Minute)
	auth := testState(KindAuthentication, "alice", time.Minute)
	require.NoError(t, store.Put(ctx, "session-1", KindRegistration, reg))
	require.NoError(t, store.Put(ctx, "session-1", KindAuthentication, auth))

	got, err := store.TakeAndClear(ctx, "session-1", KindAuthentication)
	require.NoError(t, err)
	assert.Equal(t, KindAuthentication, got.Kind)

	// Consuming the authentication slot leaves registration live.
	got, err = store.TakeAndClear(ctx, "session-1", KindRegistration)
	require.NoError(t, err)
	assert.Equal(t, KindRegistration, got.Kind)
}

func TestMemoryStateStore_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	first := testState(KindRegistration, "alice", time.Minute)
	second := testState(KindRegistration, "alice", time.Minute)
	require.NoError(t, store.Put(ctx, "session-1", KindRegistration, first))
	require.NoError(t, store.Put(ctx, "session-1", KindRegistration, second))

	got, err := store.TakeAndClear(ctx, "session-1", KindRegistration)
	require.NoError(t, err)
	assert.Equal(t, second.Challenge, got.Challenge)
	assert.NotEqual(t, first.Challenge, got.Challenge)

	_, err = store.TakeAndClear(ctx, "session-1", KindRegistration)
	assert.ErrorIs(t, err, ErrNoPendingCeremony)
}

func TestMemoryStateStore_ExpiredIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	state := testState(KindAuthentication, "alice", time.Minute)
	require.NoError(t, store.Put(ctx, "session-1", KindAuthentication, state))

	store.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	_, err := store.TakeAndClear(ctx, "session-1", KindAuthentication)
	assert.ErrorIs(t, err, ErrNoPendingCeremony)
}

func TestMemoryStateStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	require.NoError(t, store.Put(ctx, "s1", KindRegistration, testState(KindRegistration, "a", time.Minute)))
	require.NoError(t, store.Put(ctx, "s2", KindRegistration, testState(KindRegistration, "b", 10*time.Minute)))
	assert.Equal(t, 2, store.Count())

	store.now = func() time.Time { return time.Now().UTC().Add(5 * time.Minute) }

	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 1, store.Count())

	store.Clear()
	assert.Equal(t, 0, store.Count())
}

func TestMemoryCredentialRepository_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCredentialRepository()

	cred := &Credential{
		ID:        []byte{0x01},
		UserID:    "alice",
		PublicKey: []byte("pk"),
		SignCount: 3,
	}
	require.NoError(t, repo.Insert(ctx, cred))

	got, err := repo.FindByID(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, uint32(3), got.SignCount)

	// Reads return copies.
	got.SignCount = 99
	again, err := repo.FindByID(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), again.SignCount)
}

func TestMemoryCredentialRepository_DuplicateInsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCredentialRepository()

	require.NoError(t, repo.Insert(ctx, &Credential{ID: []byte{0x01}, UserID: "alice", SignCount: 7}))

	err := repo.Insert(ctx, &Credential{ID: []byte{0x01}, UserID: "bob", SignCount: 0})
	assert.ErrorIs(t, err, ErrDuplicateCredential)

	// The existing row must be unchanged.
	got, err := repo.FindByID(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, uint32(7), got.SignCount)
}

func TestMemoryCredentialRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCredentialRepository()

	require.NoError(t, repo.Insert(ctx, &Credential{ID: []byte{0x01}, UserID: "alice"}))
	require.NoError(t, repo.Insert(ctx, &Credential{ID: []byte{0x02}, UserID: "alice"}))
	require.NoError(t, repo.Insert(ctx, &Credential{ID: []byte{0x03}, UserID: "bob"}))

	creds, err := repo.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	// Unknown users yield an empty slice, not an error.
	creds, err = repo.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestMemoryCredentialRepository_UpdateCounter(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCredentialRepository()
	require.NoError(t, repo.Insert(ctx, &Credential{ID: []byte{0x01}, UserID: "alice", SignCount: 5}))

	require.NoError(t, repo.UpdateCounter(ctx, []byte{0x01}, 5, 6))

	got, err := repo.FindByID(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), got.SignCount)
	assert.False(t, got.LastUsedAt.IsZero())

	// A stale observed value fails the compare-and-set without mutating.
	err = repo.UpdateCounter(ctx, []byte{0x01}, 5, 7)
	assert.ErrorIs(t, err, ErrCloneSuspected)

	got, err = repo.FindByID(ctx, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), got.SignCount)
}

func TestMemoryCredentialRepository_UpdateCounterMissing(t *testing.T) {
	repo := NewMemoryCredentialRepository()
	err := repo.UpdateCounter(context.Background(), []byte{0xff}, 0, 1)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestMemoryCredentialRepository_DeleteOwned(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCredentialRepository()
	require.NoError(t, repo.Insert(ctx, &Credential{ID: []byte{0x01}, UserID: "alice"}))

	// Foreign owner: not deleted, indistinguishable from missing.
	deleted, err := repo.DeleteOwned(ctx, []byte{0x01}, "bob")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, 1, repo.Count())

	// Missing credential.
	deleted, err = repo.DeleteOwned(ctx, []byte{0xff}, "alice")
	require.NoError(t, err)
	assert.False(t, deleted)

	// Owner deletes.
	deleted, err = repo.DeleteOwned(ctx, []byte{0x01}, "alice")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, repo.Count())
}

func TestMemoryUserDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryUserDirectory()

	alice := &User{ID: "alice", Name: "alice@example.com", DisplayName: "Alice", Handle: []byte{0xaa}}
	dir.Add(alice)

	got, err := dir.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)

	got, err = dir.FindByHandle(ctx, []byte{0xaa})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)

	_, err = dir.FindByID(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = dir.FindByHandle(ctx, []byte{0xbb})
	assert.ErrorIs(t, err, ErrUserNotFound)
}
