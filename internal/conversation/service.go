// ABOUTME: Service is the central layer for conversation persistence
// ABOUTME: Validates requests, normalizes participant pairs, and serializes appends per conversation

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/parlor-chat/parlor/internal/apperr"
	"github.com/parlor-chat/parlor/internal/store"
)

// Defaults applied when the caller leaves paging parameters unset.
const (
	DefaultPage        = 1
	DefaultPageSize    = 50
	DefaultRecentLimit = 20
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	AppendMessage(ctx context.Context, participantA, participantB, sender, content string) (*store.Message, error)
	GetHistory(ctx context.Context, participantA, participantB string, offset, limit int) (*store.History, error)
	RecentConversations(ctx context.Context, user string, limit int) ([]*store.ConversationSummary, error)
	MarkRead(ctx context.Context, conversationID, reader string) (int, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string) (*store.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	DeleteConversation(ctx context.Context, participantA, participantB string) error
}

// Service implements the conversation contract over a Store. Validation
// happens here, before any store mutation; storage failures surface to the
// caller unretried.
type Service struct {
	store  ConversationStore
	logger *slog.Logger

	// Per-conversation append locks. SQLite serializes writers globally,
	// but the lock keeps timestamp assignment and insertion order aligned
	// for rapid-fire appends to one conversation. Entries are never pruned:
	// one mutex per participant pair seen by this process, which stays small
	// for a single-node deployment. Revisit with an eviction scheme if pair
	// cardinality ever grows unbounded.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a conversation Service. Pass nil logger for default.
func New(st ConversationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "conversation"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// pairLock returns the append lock for a canonical participant pair.
func (s *Service) pairLock(a, b string) *sync.Mutex {
	key := a + "\x00" + b
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// AppendMessage persists a new message between the two participants, creating
// the conversation on first contact. The sender must be one of the two
// participants and the content must be non-empty.
func (s *Service) AppendMessage(ctx context.Context, participantA, participantB, sender, content string) (*store.Message, error) {
	if participantA == "" || participantB == "" {
		return nil, apperr.Invalid("both participants are required")
	}
	if participantA == participantB {
		return nil, apperr.Invalid("a conversation needs two distinct participants")
	}
	if sender != participantA && sender != participantB {
		return nil, apperr.Invalid("sender %q is not a participant", sender)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Invalid("message content is required")
	}

	a, b := store.NormalizePair(participantA, participantB)
	lock := s.pairLock(a, b)
	lock.Lock()
	defer lock.Unlock()

	msg, err := s.store.AppendMessage(ctx, a, b, sender, content)
	if err != nil {
		return nil, apperr.Persistence("saving message", err)
	}

	s.logger.Debug("message appended",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender", sender)
	return msg, nil
}

// GetHistory returns a page of the conversation between the two participants.
// Page numbering is 1-based; zero values select the defaults. An unknown pair
// yields an empty history, not an error.
func (s *Service) GetHistory(ctx context.Context, participantA, participantB string, page, pageSize int) (*store.History, error) {
	if participantA == "" || participantB == "" {
		return nil, apperr.Invalid("both participants are required")
	}
	if page < 0 || pageSize < 0 {
		return nil, apperr.Invalid("page and page size must be positive")
	}
	if page == 0 {
		page = DefaultPage
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	hist, err := s.store.GetHistory(ctx, participantA, participantB, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, apperr.Persistence("loading history", err)
	}
	return hist, nil
}

// RecentConversations returns the user's conversations, most recently updated
// first, each carrying the last-message preview.
func (s *Service) RecentConversations(ctx context.Context, user string, limit int) ([]*store.ConversationSummary, error) {
	if user == "" {
		return nil, apperr.Invalid("user is required")
	}
	if limit < 0 {
		return nil, apperr.Invalid("limit must be positive")
	}
	if limit == 0 {
		limit = DefaultRecentLimit
	}

	summaries, err := s.store.RecentConversations(ctx, user, limit)
	if err != nil {
		return nil, apperr.Persistence("loading recent conversations", err)
	}
	return summaries, nil
}

// MarkRead flips the read flag on all messages in the conversation not sent
// by reader. Repeat calls report zero further modifications.
func (s *Service) MarkRead(ctx context.Context, conversationID, reader string) (int, error) {
	if conversationID == "" || reader == "" {
		return 0, apperr.Invalid("conversation id and reader are required")
	}

	count, err := s.store.MarkRead(ctx, conversationID, reader)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, apperr.NotFound("conversation %s not found", conversationID)
		}
		return 0, apperr.Persistence("marking messages read", err)
	}

	s.logger.Debug("messages marked read",
		"conversation_id", conversationID,
		"reader", reader,
		"count", count)
	return count, nil
}

// EditMessage replaces the content of an existing message and flags it edited.
// Editing never creates records: unknown ids are reported, not upserted.
func (s *Service) EditMessage(ctx context.Context, conversationID, messageID, newContent string) (*store.Message, error) {
	if conversationID == "" || messageID == "" {
		return nil, apperr.Invalid("conversation id and message id are required")
	}
	if strings.TrimSpace(newContent) == "" {
		return nil, apperr.Invalid("message content is required")
	}

	msg, err := s.store.EditMessage(ctx, conversationID, messageID, newContent)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("message %s not found in conversation %s", messageID, conversationID)
		}
		return nil, apperr.Persistence("editing message", err)
	}

	s.logger.Debug("message edited",
		"conversation_id", conversationID,
		"message_id", messageID)
	return msg, nil
}

// DeleteMessage removes a single message from a conversation.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if conversationID == "" || messageID == "" {
		return apperr.Invalid("conversation id and message id are required")
	}

	if err := s.store.DeleteMessage(ctx, conversationID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("message %s not found in conversation %s", messageID, conversationID)
		}
		return apperr.Persistence("deleting message", err)
	}

	s.logger.Debug("message deleted",
		"conversation_id", conversationID,
		"message_id", messageID)
	return nil
}

// DeleteConversation removes the conversation between the two participants
// and all of its messages atomically.
func (s *Service) DeleteConversation(ctx context.Context, participantA, participantB string) error {
	if participantA == "" || participantB == "" {
		return apperr.Invalid("both participants are required")
	}

	if err := s.store.DeleteConversation(ctx, participantA, participantB); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a, b := store.NormalizePair(participantA, participantB)
			return apperr.NotFound("no conversation between %s and %s", a, b)
		}
		return apperr.Persistence("deleting conversation", err)
	}

	s.logger.Debug("conversation deleted",
		"participant_a", participantA,
		"participant_b", participantB)
	return nil
}
