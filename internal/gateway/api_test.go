// ABOUTME: Tests for the HTTP API handlers over a real temp-file store
// ABOUTME: Exercises routing, auth enforcement, status codes, and response bodies

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/conversation"
	"github.com/parlor-chat/parlor/internal/store"
)

type apiFixture struct {
	router   *mux.Router
	verifier *auth.JWTVerifier
	store    *store.SQLiteStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	api := NewAPI(conversation.New(s, nil), s, verifier, time.Hour, nil)

	router := mux.NewRouter()
	api.Routes(router)

	return &apiFixture{router: router, verifier: verifier, store: s}
}

// do issues a request as the given user. Empty userID means unauthenticated.
func (f *apiFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := f.verifier.Generate(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "success", envelope.Status)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatRoutes_RequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/chats/history/u1/u2", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateMessage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2",
		"content":    "hello there",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg messageResponse
	decodeData(t, rec, &msg)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.ChatID)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "hello there", msg.Content)
	assert.False(t, msg.Read)
	assert.False(t, msg.Edited)
}

func TestCreateMessage_SenderMismatch(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"senderId":   "u9",
		"receiverId": "u2",
		"content":    "spoofed",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMessage_Validation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2",
		"content":    "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "error", errResp["status"])
	assert.NotEmpty(t, errResp["message"])
}

func TestHistory(t *testing.T) {
	f := newAPIFixture(t)

	for _, content := range []string{"one", "two", "three"} {
		rec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
			"receiverId": "u2",
			"content":    content,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Reversed participant order resolves to the same conversation
	rec := f.do(t, http.MethodGet, "/api/chats/history/u2/u1", "u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist historyResponse
	decodeData(t, rec, &hist)
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, "one", hist.Messages[0].Content)
	assert.Equal(t, "three", hist.Messages[2].Content)
	require.NotNil(t, hist.LastMessage)
	assert.Equal(t, "three", hist.LastMessage.Content)
	assert.Equal(t, [2]string{"u1", "u2"}, hist.Participants)
}

func TestHistory_Pagination(t *testing.T) {
	f := newAPIFixture(t)

	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
			"receiverId": "u2",
			"content":    fmt.Sprintf("msg-%d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/chats/history/u1/u2?page=2&limit=2", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist historyResponse
	decodeData(t, rec, &hist)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "msg-2", hist.Messages[0].Content)
	assert.Equal(t, "msg-3", hist.Messages[1].Content)
}

func TestHistory_UnknownPairEmpty(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/chats/history/nobody/anybody", "nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hist historyResponse
	decodeData(t, rec, &hist)
	assert.Empty(t, hist.Messages)
	assert.Nil(t, hist.LastMessage)
}

func TestHistory_BadPageParam(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/chats/history/u1/u2?page=zero", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecent(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2", "content": "to u2",
	}).Code)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u3", "content": "to u3",
	}).Code)

	rec := f.do(t, http.MethodGet, "/api/chats/recent/u1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []summaryResponse
	decodeData(t, rec, &summaries)
	require.Len(t, summaries, 2)
	assert.Equal(t, "to u3", summaries[0].LastMessage.Content)
	assert.Equal(t, "to u2", summaries[1].LastMessage.Content)
}

func TestMarkRead(t *testing.T) {
	f := newAPIFixture(t)

	createRec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2", "content": "unread",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var msg messageResponse
	decodeData(t, createRec, &msg)

	rec := f.do(t, http.MethodPost, "/api/chats/read", "u2", map[string]string{
		"chatId": msg.ChatID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]int
	decodeData(t, rec, &result)
	assert.Equal(t, 1, result["modifiedCount"])

	// Second call reports nothing further to mark
	rec = f.do(t, http.MethodPost, "/api/chats/read", "u2", map[string]string{
		"chatId": msg.ChatID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &result)
	assert.Equal(t, 0, result["modifiedCount"])
}

func TestMarkRead_UnknownConversation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats/read", "u2", map[string]string{
		"chatId": "no-such-chat",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditMessage(t *testing.T) {
	f := newAPIFixture(t)

	createRec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2", "content": "orignal",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var msg messageResponse
	decodeData(t, createRec, &msg)

	path := fmt.Sprintf("/api/chats/%s/messages/%s", msg.ChatID, msg.ID)
	rec := f.do(t, http.MethodPatch, path, "u1", map[string]string{"content": "original"})
	require.Equal(t, http.StatusOK, rec.Code)

	var edited messageResponse
	decodeData(t, rec, &edited)
	assert.Equal(t, "original", edited.Content)
	assert.True(t, edited.Edited)
}

func TestEditMessage_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPatch, "/api/chats/chat-x/messages/msg-x", "u1", map[string]string{
		"content": "anything",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteMessage(t *testing.T) {
	f := newAPIFixture(t)

	createRec := f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2", "content": "ephemeral",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var msg messageResponse
	decodeData(t, createRec, &msg)

	path := fmt.Sprintf("/api/chats/%s/messages/%s", msg.ChatID, msg.ID)
	rec := f.do(t, http.MethodDelete, path, "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Gone now
	rec = f.do(t, http.MethodDelete, path, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/chats/messages", "u1", map[string]string{
		"receiverId": "u2", "content": "soon gone",
	}).Code)

	rec := f.do(t, http.MethodDelete, "/api/chats/u2/u1", "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/chats/u1/u2", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username":    "ada",
		"password":    "hunter2hunter2",
		"displayName": "Ada",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	decodeData(t, rec, &created)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "ada", created["username"])

	rec = f.do(t, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "ada",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var session map[string]string
	decodeData(t, rec, &session)
	assert.Equal(t, created["id"], session["userId"])
	assert.Equal(t, "Ada", session["displayName"])

	// The issued token authenticates chat requests
	userID, err := f.verifier.Verify(session["token"])
	require.NoError(t, err)
	assert.Equal(t, created["id"], userID)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newAPIFixture(t)

	body := map[string]string{"username": "ada", "password": "hunter2hunter2"}
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/users/register", "", body).Code)

	rec := f.do(t, http.MethodPost, "/api/users/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "ada", "password": "hunter2hunter2",
	}).Code)

	rec := f.do(t, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "ada", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "nobody", "password": "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
