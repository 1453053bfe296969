// Package store provides persistent storage for parlor using SQLite.
//
// # Data Model
//
//   - Conversation: two-party message log keyed by the canonical (sorted)
//     participant pair, with a denormalized last-message pointer
//   - Message: a log entry with read and edited flags
//   - User: an account for the HTTP auth boundary
//
// Conversations are created lazily on first append and removed only by
// DeleteConversation. The last_message_id column is derived state: every
// mutation that can change the tail of the sequence (append, delete)
// recomputes it inside the same transaction, so readers never observe a
// dangling or stale projection.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// SQLite's single-writer discipline is what serializes concurrent appends to
// the same conversation; appends to different conversations only contend for
// the short write transaction.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested conversation, message, or user does not exist
//   - ErrDuplicateUser: username already registered
//
// All methods accept context.Context for cancellation support.
package store
