// ABOUTME: Relay binds transport events to presence and conversation operations
// ABOUTME: Decides delivery routing for messages, edits, and roster broadcasts

package relay

import (
	"context"
	"log/slog"

	"github.com/parlor-chat/parlor/internal/presence"
	"github.com/parlor-chat/parlor/internal/store"
)

// Event names on the wire, shared by inbound handling and outbound delivery.
const (
	EventRegisterUser   = "register-user"
	EventPrivateMessage = "private-message"
	EventMessageEdited  = "message-edited"
	EventOnlineUsers    = "online-users"
	EventError          = "error"
)

// Emitter is what the relay needs from the connection gateway.
type Emitter interface {
	EmitToConnection(connectionID, event string, payload any) error
	BroadcastAll(event string, payload any) error
}

// Conversations is the slice of the conversation service the relay uses.
type Conversations interface {
	AppendMessage(ctx context.Context, participantA, participantB, sender, content string) (*store.Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, newContent string) (*store.Message, error)
}

// MessagePayload is the outbound body for a delivered private message.
type MessagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"chatId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

// EditPayload is the outbound body for an edit notification.
type EditPayload struct {
	ConversationID string `json:"chatId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
	Edited         bool   `json:"edited"`
}

// Relay consumes inbound connection events, updates the presence registry
// and conversation store, and routes outbound deliveries. Offline receivers
// are not an error: the message is persisted and picked up via history.
type Relay struct {
	registry      *presence.Registry
	conversations Conversations
	emitter       Emitter
	logger        *slog.Logger
}

// New creates a Relay. Pass nil logger for default.
func New(registry *presence.Registry, conversations Conversations, emitter Emitter, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry:      registry,
		conversations: conversations,
		emitter:       emitter,
		logger:        logger.With("component", "relay"),
	}
}

// OnConnect handles a fresh transport connection. The connection is not
// addressable by user identity until a register-user event arrives.
func (r *Relay) OnConnect(connectionID string) {
	r.logger.Debug("connection opened", "connection_id", connectionID)
}

// OnRegister binds the connection to a user identity and broadcasts the
// updated roster to every connected client, registrant included, so all
// peer-list views stay consistent.
func (r *Relay) OnRegister(connectionID, userID, displayName string) {
	roster := r.registry.Register(userID, connectionID, displayName)

	if err := r.emitter.BroadcastAll(EventOnlineUsers, roster); err != nil {
		r.logger.Warn("roster broadcast failed", "error", err)
	}
}

// OnSendMessage persists the message, then delivers it to the receiver's
// live connection when one exists. With no live connection the send still
// succeeds; the receiver sees the message on its next history fetch.
// A non-empty receiverConnectionID overrides the registry lookup.
func (r *Relay) OnSendMessage(ctx context.Context, senderID, receiverID, content, receiverConnectionID string) (*store.Message, error) {
	msg, err := r.conversations.AppendMessage(ctx, senderID, receiverID, senderID, content)
	if err != nil {
		return nil, err
	}

	target := receiverConnectionID
	if target == "" {
		var online bool
		target, online = r.registry.Resolve(receiverID)
		if !online {
			r.logger.Debug("receiver offline, delivery skipped",
				"receiver_id", receiverID,
				"message_id", msg.ID)
			return msg, nil
		}
	}

	payload := MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        msg.Content,
		Timestamp:      msg.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if err := r.emitter.EmitToConnection(target, EventPrivateMessage, payload); err != nil {
		// Delivery is best effort; persistence already succeeded
		r.logger.Warn("live delivery failed",
			"receiver_id", receiverID,
			"connection_id", target,
			"error", err)
	}
	return msg, nil
}

// OnEditMessage applies the edit and notifies the receiver's live connection
// if there is one.
func (r *Relay) OnEditMessage(ctx context.Context, conversationID, messageID, newContent, receiverID string) (*store.Message, error) {
	msg, err := r.conversations.EditMessage(ctx, conversationID, messageID, newContent)
	if err != nil {
		return nil, err
	}

	target, online := r.registry.Resolve(receiverID)
	if !online {
		r.logger.Debug("receiver offline, edit notification skipped",
			"receiver_id", receiverID,
			"message_id", messageID)
		return msg, nil
	}

	payload := EditPayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Content:        msg.Content,
		Edited:         msg.Edited,
	}
	if err := r.emitter.EmitToConnection(target, EventMessageEdited, payload); err != nil {
		r.logger.Warn("edit notification failed",
			"receiver_id", receiverID,
			"connection_id", target,
			"error", err)
	}
	return msg, nil
}

// OnDisconnect removes the connection's presence entry, if it still owns
// one, and broadcasts the shrunken roster. A connection that was already
// replaced produces no broadcast.
func (r *Relay) OnDisconnect(connectionID string) {
	roster, removed := r.registry.UnregisterByConnection(connectionID)
	if !removed {
		r.logger.Debug("disconnect without presence entry", "connection_id", connectionID)
		return
	}

	if err := r.emitter.BroadcastAll(EventOnlineUsers, roster); err != nil {
		r.logger.Warn("roster broadcast failed", "error", err)
	}
}
