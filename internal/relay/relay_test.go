// ABOUTME: Tests for the Relay
// ABOUTME: Verifies routing, roster broadcasts, and offline-drop semantics with a fake emitter

package relay

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-chat/parlor/internal/conversation"
	"github.com/parlor-chat/parlor/internal/presence"
	"github.com/parlor-chat/parlor/internal/store"
)

// fakeEmitter records emissions instead of writing to sockets
type fakeEmitter struct {
	mu         sync.Mutex
	emits      []emission
	broadcasts []emission
}

type emission struct {
	connectionID string
	event        string
	payload      any
}

func (f *fakeEmitter) EmitToConnection(connectionID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emission{connectionID, event, payload})
	return nil
}

func (f *fakeEmitter) BroadcastAll(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, emission{"", event, payload})
	return nil
}

func newTestRelay(t *testing.T) (*Relay, *fakeEmitter, *presence.Registry) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := presence.NewRegistry(nil)
	emitter := &fakeEmitter{}
	r := New(registry, conversation.New(st, nil), emitter, nil)
	return r, emitter, registry
}

func TestOnRegister_BroadcastsRosterToAll(t *testing.T) {
	r, emitter, _ := newTestRelay(t)

	r.OnRegister("conn-a", "u1", "Alice")
	r.OnRegister("conn-b", "u2", "Bob")

	require.Len(t, emitter.broadcasts, 2)
	assert.Equal(t, EventOnlineUsers, emitter.broadcasts[0].event)

	roster, ok := emitter.broadcasts[1].payload.([]presence.Entry)
	require.True(t, ok)
	require.Len(t, roster, 2)
	assert.Equal(t, "u1", roster[0].UserID)
	assert.Equal(t, "u2", roster[1].UserID)
}

func TestOnSendMessage_DeliversToOnlineReceiver(t *testing.T) {
	r, emitter, _ := newTestRelay(t)
	ctx := context.Background()

	r.OnRegister("conn-a", "u1", "Alice")
	r.OnRegister("conn-b", "u2", "Bob")

	msg, err := r.OnSendMessage(ctx, "u1", "u2", "hi", "")
	require.NoError(t, err)
	require.NotNil(t, msg)

	require.Len(t, emitter.emits, 1)
	assert.Equal(t, "conn-b", emitter.emits[0].connectionID)
	assert.Equal(t, EventPrivateMessage, emitter.emits[0].event)

	payload, ok := emitter.emits[0].payload.(MessagePayload)
	require.True(t, ok)
	assert.Equal(t, msg.ID, payload.ID)
	assert.Equal(t, "u1", payload.SenderID)
	assert.Equal(t, "u2", payload.ReceiverID)
	assert.Equal(t, "hi", payload.Content)
}

func TestOnSendMessage_OfflineReceiverPersistsWithoutDelivery(t *testing.T) {
	r, emitter, _ := newTestRelay(t)
	ctx := context.Background()

	r.OnRegister("conn-a", "u1", "Alice")

	msg, err := r.OnSendMessage(ctx, "u1", "u2", "you there?", "")
	require.NoError(t, err, "offline receiver is a normal state, not a failure")
	require.NotNil(t, msg)
	assert.Empty(t, emitter.emits, "no delivery attempted for offline receiver")
}

func TestOnSendMessage_ExplicitConnectionOverride(t *testing.T) {
	r, emitter, _ := newTestRelay(t)
	ctx := context.Background()

	_, err := r.OnSendMessage(ctx, "u1", "u2", "direct", "conn-x")
	require.NoError(t, err)

	require.Len(t, emitter.emits, 1)
	assert.Equal(t, "conn-x", emitter.emits[0].connectionID)
}

func TestOnSendMessage_ValidationErrorPropagates(t *testing.T) {
	r, emitter, _ := newTestRelay(t)

	_, err := r.OnSendMessage(context.Background(), "u1", "u2", "", "")
	require.Error(t, err)
	assert.Empty(t, emitter.emits)
}

func TestOnEditMessage_NotifiesOnlineReceiver(t *testing.T) {
	r, emitter, _ := newTestRelay(t)
	ctx := context.Background()

	r.OnRegister("conn-b", "u2", "Bob")
	msg, err := r.OnSendMessage(ctx, "u1", "u2", "helo", "")
	require.NoError(t, err)
	emitter.emits = nil

	edited, err := r.OnEditMessage(ctx, msg.ConversationID, msg.ID, "hello", "u2")
	require.NoError(t, err)
	assert.True(t, edited.Edited)

	require.Len(t, emitter.emits, 1)
	assert.Equal(t, EventMessageEdited, emitter.emits[0].event)
	payload, ok := emitter.emits[0].payload.(EditPayload)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Content)
	assert.Equal(t, msg.ID, payload.MessageID)
}

func TestOnEditMessage_OfflineReceiverNoNotification(t *testing.T) {
	r, emitter, _ := newTestRelay(t)
	ctx := context.Background()

	msg, err := r.OnSendMessage(ctx, "u1", "u2", "helo", "")
	require.NoError(t, err)
	emitter.emits = nil

	_, err = r.OnEditMessage(ctx, msg.ConversationID, msg.ID, "hello", "u2")
	require.NoError(t, err)
	assert.Empty(t, emitter.emits)
}

func TestOnDisconnect_BroadcastsOnlyWhenEntryRemoved(t *testing.T) {
	r, emitter, _ := newTestRelay(t)

	r.OnRegister("conn-a", "u1", "Alice")
	emitter.broadcasts = nil

	r.OnDisconnect("conn-a")
	require.Len(t, emitter.broadcasts, 1)
	roster := emitter.broadcasts[0].payload.([]presence.Entry)
	assert.Empty(t, roster)

	// Second disconnect for the same handle changes nothing
	emitter.broadcasts = nil
	r.OnDisconnect("conn-a")
	assert.Empty(t, emitter.broadcasts)
}

func TestReRegisterThenStaleDisconnect(t *testing.T) {
	r, emitter, registry := newTestRelay(t)

	r.OnRegister("conn-a", "u1", "Alice")
	r.OnRegister("conn-b", "u1", "Alice2")

	emitter.broadcasts = nil
	r.OnDisconnect("conn-a")
	assert.Empty(t, emitter.broadcasts, "stale disconnect must not broadcast")

	conn, ok := registry.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "conn-b", conn)
}
