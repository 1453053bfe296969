// ABOUTME: HTTP API handlers for conversation history and account endpoints
// ABOUTME: Maps REST routes 1:1 onto the conversation service contract

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/parlor-chat/parlor/internal/apperr"
	"github.com/parlor-chat/parlor/internal/auth"
	"github.com/parlor-chat/parlor/internal/conversation"
	"github.com/parlor-chat/parlor/internal/store"
)

// API exposes the conversation contract and the account endpoints over HTTP.
type API struct {
	conversations *conversation.Service
	users         store.Store
	verifier      *auth.JWTVerifier
	tokenTTL      time.Duration
	logger        *slog.Logger
}

// NewAPI creates the HTTP API layer.
func NewAPI(conversations *conversation.Service, users store.Store, verifier *auth.JWTVerifier, tokenTTL time.Duration, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		conversations: conversations,
		users:         users,
		verifier:      verifier,
		tokenTTL:      tokenTTL,
		logger:        logger.With("component", "api"),
	}
}

// Routes registers all endpoints on the router. Chat endpoints require a
// verified identity; account endpoints do not.
func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/users/register", a.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/users/login", a.handleLogin).Methods(http.MethodPost)

	chats := r.PathPrefix("/api/chats").Subrouter()
	chats.Use(auth.Middleware(a.verifier))
	chats.HandleFunc("/messages", a.handleCreateMessage).Methods(http.MethodPost)
	chats.HandleFunc("/history/{userId1}/{userId2}", a.handleHistory).Methods(http.MethodGet)
	chats.HandleFunc("/recent/{userId}", a.handleRecent).Methods(http.MethodGet)
	chats.HandleFunc("/read", a.handleMarkRead).Methods(http.MethodPost)
	chats.HandleFunc("/{chatId}/messages/{messageId}", a.handleEditMessage).Methods(http.MethodPatch)
	chats.HandleFunc("/{chatId}/messages/{messageId}", a.handleDeleteMessage).Methods(http.MethodDelete)
	chats.HandleFunc("/{userId1}/{userId2}", a.handleDeleteConversation).Methods(http.MethodDelete)
}

// messageResponse is the JSON shape for a stored message.
type messageResponse struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read"`
	Edited    bool   `json:"edited"`
}

func toMessageResponse(m *store.Message) *messageResponse {
	if m == nil {
		return nil
	}
	return &messageResponse{
		ID:        m.ID,
		ChatID:    m.ConversationID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.CreatedAt.Format(time.RFC3339Nano),
		Read:      m.Read,
		Edited:    m.Edited,
	}
}

// historyResponse is the JSON shape for a page of conversation history.
type historyResponse struct {
	ChatID       string             `json:"chatId,omitempty"`
	Participants [2]string          `json:"participants"`
	Messages     []*messageResponse `json:"messages"`
	LastMessage  *messageResponse   `json:"lastMessage"`
}

// summaryResponse is the JSON shape for one recent-conversation preview.
type summaryResponse struct {
	ChatID       string           `json:"chatId"`
	Participants [2]string        `json:"participants"`
	LastMessage  *messageResponse `json:"lastMessage"`
	UpdatedAt    string           `json:"updatedAt"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID   string `json:"senderId"`
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperr.Invalid("invalid request body"))
		return
	}

	// The verified identity is the sender; an explicit senderId must match it
	userID, _ := auth.UserFromContext(r.Context())
	if req.SenderID == "" {
		req.SenderID = userID
	}
	if req.SenderID != userID {
		a.writeError(w, apperr.Invalid("senderId does not match authenticated user"))
		return
	}

	msg, err := a.conversations.AppendMessage(r.Context(), req.SenderID, req.ReceiverID, req.SenderID, req.Content)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toMessageResponse(msg))
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	page, ok := queryInt(r, "page")
	if !ok {
		a.writeError(w, apperr.Invalid("page must be a positive integer"))
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		a.writeError(w, apperr.Invalid("limit must be a positive integer"))
		return
	}

	hist, err := a.conversations.GetHistory(r.Context(), vars["userId1"], vars["userId2"], page, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := historyResponse{
		ChatID:       hist.ConversationID,
		Participants: hist.Participants,
		Messages:     make([]*messageResponse, 0, len(hist.Messages)),
		LastMessage:  toMessageResponse(hist.LastMessage),
	}
	for _, m := range hist.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (a *API) handleRecent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	limit, ok := queryInt(r, "limit")
	if !ok {
		a.writeError(w, apperr.Invalid("limit must be a positive integer"))
		return
	}

	summaries, err := a.conversations.RecentConversations(r.Context(), vars["userId"], limit)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, summaryResponse{
			ChatID:       s.ID,
			Participants: s.Participants,
			LastMessage:  toMessageResponse(s.LastMessage),
			UpdatedAt:    s.UpdatedAt.Format(time.RFC3339Nano),
		})
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	if req.UserID == "" {
		req.UserID, _ = auth.UserFromContext(r.Context())
	}

	count, err := a.conversations.MarkRead(r.Context(), req.ChatID, req.UserID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]int{"modifiedCount": count})
}

func (a *API) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperr.Invalid("invalid request body"))
		return
	}

	msg, err := a.conversations.EditMessage(r.Context(), vars["chatId"], vars["messageId"], req.Content)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toMessageResponse(msg))
}

func (a *API) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := a.conversations.DeleteMessage(r.Context(), vars["chatId"], vars["messageId"]); err != nil {
		a.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"message": "message deleted"})
}

func (a *API) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := a.conversations.DeleteConversation(r.Context(), vars["userId1"], vars["userId2"]); err != nil {
		a.writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperr.Invalid("invalid request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		a.writeError(w, apperr.Invalid("username and password are required"))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.writeError(w, apperr.Persistence("hashing password", err))
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: string(hash),
		DisplayName:  req.DisplayName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			a.writeError(w, apperr.Invalid("username already taken"))
			return
		}
		a.writeError(w, apperr.Persistence("creating user", err))
		return
	}

	a.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeSuccess(w, http.StatusCreated, map[string]string{"id": user.ID, "username": user.Username})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperr.Invalid("invalid request body"))
		return
	}

	user, err := a.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "invalid credentials"})
			return
		}
		a.writeError(w, apperr.Persistence("loading user", err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "invalid credentials"})
		return
	}

	token, err := a.verifier.Generate(user.ID, a.tokenTTL)
	if err != nil {
		a.writeError(w, apperr.Persistence("issuing token", err))
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"token":       token,
		"userId":      user.ID,
		"username":    user.Username,
		"displayName": user.DisplayName,
	})
}

// queryInt parses an optional positive integer query parameter. Zero means
// "unset" and lets the service apply its default.
func queryInt(r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// writeError maps an error to its HTTP status and logs server-side failures.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"status": "success", "data": data})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
