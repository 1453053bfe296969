// Package gateway orchestrates the parlor-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the parlor-gateway
// server. It owns and manages the major components: the WebSocket hub for
// live connections, the HTTP API for history and accounts, the data store,
// and the relay that binds them together.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    conversation *conversation.Service
//	    registry     *presence.Registry
//	    relay        *relay.Relay
//	    hub          *Hub
//	    api          *API
//	    httpServer   *http.Server
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/users/register - Create an account
//   - POST /api/users/login - Authenticate and receive a JWT
//   - POST /api/chats/messages - Append a message
//   - GET /api/chats/history/{userId1}/{userId2} - Paged conversation history
//   - GET /api/chats/recent/{userId} - Recent conversations with previews
//   - POST /api/chats/read - Mark messages read
//   - PATCH /api/chats/{chatId}/messages/{messageId} - Edit a message
//   - DELETE /api/chats/{chatId}/messages/{messageId} - Delete a message
//   - DELETE /api/chats/{userId1}/{userId2} - Delete a conversation
//   - GET /health - Liveness check
//
// Chat endpoints require a bearer JWT; account endpoints and /health do not.
//
// # WebSocket Protocol
//
// Clients connect to /ws and exchange JSON envelopes:
//
//	{"event": "register-user", "data": {"userId": "u1", "username": "Ada"}}
//	{"event": "private-message", "data": {"senderId": "u1", "receiverId": "u2", "content": "hi"}}
//	{"event": "message-edited", "data": {"chatId": "...", "messageId": "...", "content": "..."}}
//
// The hub pushes "online-users" roster broadcasts, "private-message"
// deliveries, "message-edited" notifications, and "error" diagnostics.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled, then shuts down the HTTP server
// and closes the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers
//   - hub.go: WebSocket connection management and event dispatch
//   - events.go: Wire envelope and payload shapes
package gateway
