// ABOUTME: Store interface and data types for parlor persistence
// ABOUTME: Defines Conversation, Message, ConversationSummary and the Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when registering a username that already exists
var ErrDuplicateUser = errors.New("user already exists")

// Conversation is the durable two-party message log. Participants are stored
// in canonical order (ParticipantA < ParticipantB) so that the unordered pair
// (A,B) and (B,A) resolve to the same record.
type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string
	LastMessage  *Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a single entry in a conversation's log.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Content        string
	CreatedAt      time.Time
	Read           bool
	Edited         bool
}

// ConversationSummary is the projection used for conversation-list previews.
type ConversationSummary struct {
	ID           string
	Participants [2]string
	LastMessage  *Message
	UpdatedAt    time.Time
}

// History is one page of a conversation's message sequence plus metadata.
// A pair with no conversation yet yields an empty Messages slice, not an error.
type History struct {
	ConversationID string
	Participants   [2]string
	Messages       []*Message
	LastMessage    *Message
}

// User is an account that can authenticate against the HTTP boundary.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

// NormalizePair returns the two participants in canonical (lexicographic) order.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Store defines the persistence contract for conversations and users.
// Implementations must keep the cached last-message projection consistent
// within the same transaction as the mutation that invalidates it.
type Store interface {
	// Conversations
	AppendMessage(ctx context.Context, participantA, participantB, sender, content string) (*Message, error)
	GetHistory(ctx context.Context, participantA, participantB string, offset, limit int) (*History, error)
	RecentConversations(ctx context.Context, user string, limit int) ([]*ConversationSummary, error)
	MarkRead(ctx context.Context, conversationID, reader string) (int, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	DeleteConversation(ctx context.Context, participantA, participantB string) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Close releases any resources held by the store
	Close() error
}
