// ABOUTME: Tests for the presence Registry
// ABOUTME: Verifies replace-on-register, eviction by connection handle, and race safety

package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_ReturnsRoster(t *testing.T) {
	r := NewRegistry(nil)

	roster := r.Register("u1", "conn-a", "Alice")
	require.Len(t, roster, 1)
	assert.Equal(t, "u1", roster[0].UserID)
	assert.Equal(t, "conn-a", roster[0].ConnectionID)
	assert.Equal(t, "Alice", roster[0].DisplayName)

	roster = r.Register("u2", "conn-b", "Bob")
	require.Len(t, roster, 2)
	assert.Equal(t, "u1", roster[0].UserID)
	assert.Equal(t, "u2", roster[1].UserID)
}

func TestRegister_ReplacesExistingEntry(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("u1", "conn-a", "Alice")
	roster := r.Register("u1", "conn-b", "Alice2")

	require.Len(t, roster, 1, "re-registration must replace, not duplicate")
	assert.Equal(t, "conn-b", roster[0].ConnectionID)
	assert.Equal(t, "Alice2", roster[0].DisplayName)

	conn, ok := r.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "conn-b", conn)
}

func TestUnregisterByConnection_StaleConnectionCannotEvict(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("u1", "conn-a", "Alice")
	r.Register("u1", "conn-b", "Alice2")

	// The replaced connection's disconnect arrives late
	roster, removed := r.UnregisterByConnection("conn-a")
	assert.False(t, removed)
	assert.Nil(t, roster)

	conn, ok := r.Resolve("u1")
	require.True(t, ok, "newer registration must survive the stale disconnect")
	assert.Equal(t, "conn-b", conn)
}

func TestUnregisterByConnection_RemovesEntry(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("u1", "conn-a", "Alice")
	r.Register("u2", "conn-b", "Bob")

	roster, removed := r.UnregisterByConnection("conn-a")
	require.True(t, removed)
	require.Len(t, roster, 1)
	assert.Equal(t, "u2", roster[0].UserID)

	_, ok := r.Resolve("u1")
	assert.False(t, ok)

	// Unknown connection is a no-op, not an error
	roster, removed = r.UnregisterByConnection("conn-a")
	assert.False(t, removed)
	assert.Nil(t, roster)
}

func TestResolve_AbsentUser(t *testing.T) {
	r := NewRegistry(nil)

	_, ok := r.Resolve("ghost")
	assert.False(t, ok)
}

func TestSnapshot_RegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("u1", "c1", "A")
	r.Register("u2", "c2", "B")
	r.Register("u3", "c3", "C")

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "u1", snap[0].UserID)
	assert.Equal(t, "u2", snap[1].UserID)
	assert.Equal(t, "u3", snap[2].UserID)

	// Snapshot is a copy: mutating it does not affect the registry
	snap[0].UserID = "mutated"
	again := r.Snapshot()
	assert.Equal(t, "u1", again[0].UserID)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", n%5)
			conn := fmt.Sprintf("conn-%d", n)
			r.Register(user, conn, user)
			r.UnregisterByConnection(conn)
		}(i)
	}
	wg.Wait()

	// At most one entry per user regardless of interleaving
	seen := map[string]bool{}
	for _, e := range r.Snapshot() {
		assert.False(t, seen[e.UserID], "duplicate entry for %s", e.UserID)
		seen[e.UserID] = true
	}
}
