// ABOUTME: Wire event envelope and inbound payload shapes for the WebSocket gateway
// ABOUTME: Mirrors the client protocol: register-user, private-message, message-edited

package gateway

import "encoding/json"

// Envelope is the framing for every WebSocket event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// outbound pairs an event name with a payload awaiting serialization.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// registerUserEvent binds the connection to a user identity.
type registerUserEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// privateMessageEvent carries a new message. ReceiverSocketID optionally
// overrides the presence lookup with an explicit connection target.
type privateMessageEvent struct {
	SenderID         string `json:"senderId"`
	ReceiverID       string `json:"receiverId"`
	Content          string `json:"content"`
	ReceiverSocketID string `json:"receiverSocketId"`
}

// messageEditedEvent carries an in-place content edit.
type messageEditedEvent struct {
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId"`
}

// errorEvent is sent back to the originating connection when an inbound
// event fails validation or persistence.
type errorEvent struct {
	Message string `json:"message"`
}
