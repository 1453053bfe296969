// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragmas ride on the DSN so every pooled connection gets them: WAL for
	// concurrent readers, foreign keys on, and a busy timeout so a locked
	// database makes writers wait instead of failing
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite permits one writer at a time. A single pooled connection turns
	// concurrent transactions into queued ones rather than SQLITE_BUSY
	// failures when deferred transactions race to upgrade to a write lock.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			participant_a   TEXT NOT NULL,
			participant_b   TEXT NOT NULL,
			last_message_id TEXT,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL,

			CHECK (participant_a < participant_b)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_participants
			ON conversations(participant_a, participant_b);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      DATETIME NOT NULL,
			read            INTEGER NOT NULL DEFAULT 0,
			edited          INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name  TEXT NOT NULL,
			created_at    DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendMessage appends a message to the conversation between the two
// participants, creating the conversation lazily on first use. The cached
// last-message pointer and the conversation's updated_at are maintained in
// the same transaction as the insert.
func (s *SQLiteStore) AppendMessage(ctx context.Context, participantA, participantB, sender, content string) (*Message, error) {
	a, b := NormalizePair(participantA, participantB)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var convID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE participant_a = ? AND participant_b = ?`,
		a, b,
	).Scan(&convID)
	switch {
	case err == sql.ErrNoRows:
		convID = uuid.New().String()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			convID, a, b, now, now,
		); err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, created_at, read, edited)
		 VALUES (?, ?, ?, ?, ?, 0, 0)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Content, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?`,
		msg.ID, now, convID,
	); err != nil {
		return nil, fmt.Errorf("updating last message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}
	return msg, nil
}

// GetHistory returns one page of the conversation's message sequence in
// insertion order, plus the participant pair and last-message projection.
// A pair with no conversation yields an empty History, not an error.
func (s *SQLiteStore) GetHistory(ctx context.Context, participantA, participantB string, offset, limit int) (*History, error) {
	a, b := NormalizePair(participantA, participantB)

	hist := &History{Participants: [2]string{a, b}, Messages: []*Message{}}

	var convID string
	var lastMessageID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, last_message_id FROM conversations WHERE participant_a = ? AND participant_b = ?`,
		a, b,
	).Scan(&convID, &lastMessageID)
	if err == sql.ErrNoRows {
		return hist, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	hist.ConversationID = convID

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at, read, edited
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at ASC, rowid ASC
		 LIMIT ? OFFSET ?`,
		convID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		hist.Messages = append(hist.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	if lastMessageID.Valid {
		last, err := s.getMessage(ctx, convID, lastMessageID.String)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		hist.LastMessage = last
	}

	return hist, nil
}

// RecentConversations returns conversations involving the user, most recently
// updated first, each with its last-message preview.
func (s *SQLiteStore) RecentConversations(ctx context.Context, user string, limit int) ([]*ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.participant_a, c.participant_b, c.updated_at,
		        m.id, m.conversation_id, m.sender, m.content, m.created_at, m.read, m.edited
		 FROM conversations c
		 LEFT JOIN messages m ON m.id = c.last_message_id
		 WHERE c.participant_a = ? OR c.participant_b = ?
		 ORDER BY c.updated_at DESC
		 LIMIT ?`,
		user, user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent conversations: %w", err)
	}
	defer rows.Close()

	summaries := []*ConversationSummary{}
	for rows.Next() {
		var sum ConversationSummary
		var mID, mConvID, mSender, mContent sql.NullString
		var mCreatedAt sql.NullTime
		var mRead, mEdited sql.NullBool
		if err := rows.Scan(
			&sum.ID, &sum.Participants[0], &sum.Participants[1], &sum.UpdatedAt,
			&mID, &mConvID, &mSender, &mContent, &mCreatedAt, &mRead, &mEdited,
		); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if mID.Valid {
			sum.LastMessage = &Message{
				ID:             mID.String,
				ConversationID: mConvID.String,
				Sender:         mSender.String,
				Content:        mContent.String,
				CreatedAt:      mCreatedAt.Time,
				Read:           mRead.Bool,
				Edited:         mEdited.Bool,
			}
		}
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summaries: %w", err)
	}
	return summaries, nil
}

// MarkRead flips read=false to read=true on every message in the conversation
// not authored by reader, returning how many were flipped. Idempotent.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, reader string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("looking up conversation: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1
		 WHERE conversation_id = ? AND sender <> ? AND read = 0`,
		conversationID, reader,
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting marked messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing mark read: %w", err)
	}
	return int(count), nil
}

// EditMessage replaces a message's content and sets its edited flag. The
// last-message projection needs no repointing since it references by id, but
// the conversation's updated_at is bumped to surface the edit in previews.
func (s *SQLiteStore) EditMessage(ctx context.Context, conversationID, messageID, content string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited = 1
		 WHERE id = ? AND conversation_id = ?`,
		content, messageID, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking update: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), conversationID,
	); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	msg, err := scanMessageRow(tx.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at, read, edited
		 FROM messages WHERE id = ? AND conversation_id = ?`,
		messageID, conversationID,
	))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing edit: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a message. When the removed message was the cached
// last message, the projection is recomputed from the remaining sequence in
// the same transaction (cleared if the conversation became empty).
func (s *SQLiteStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var lastMessageID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT last_message_id FROM conversations WHERE id = ?`, conversationID,
	).Scan(&lastMessageID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND conversation_id = ?`,
		messageID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC()
	if lastMessageID.Valid && lastMessageID.String == messageID {
		var newLast sql.NullString
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM messages WHERE conversation_id = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
			conversationID,
		).Scan(&newLast)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("recomputing last message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?`,
			newLast, now, conversationID,
		); err != nil {
			return fmt.Errorf("updating last message: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			now, conversationID,
		); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// DeleteConversation atomically removes the conversation between the two
// participants and all of its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, participantA, participantB string) error {
	a, b := NormalizePair(participantA, participantB)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var convID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE participant_a = ? AND participant_b = ?`,
		a, b,
	).Scan(&convID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}

	// Clear the last-message reference before deleting rows it points at
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = NULL WHERE id = ?`, convID,
	); err != nil {
		return fmt.Errorf("clearing last message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, convID,
	); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, convID,
	); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation delete: %w", err)
	}
	return nil
}

// CreateUser inserts a new user account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, display_name, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.DisplayName, user.CreatedAt,
	)
	if err != nil {
		var serr *sqlite.Error
		if errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUserByUsername looks up a user account by its unique username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, display_name, created_at
		 FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// getMessage loads a single message scoped to its conversation.
func (s *SQLiteStore) getMessage(ctx context.Context, conversationID, messageID string) (*Message, error) {
	return scanMessageRow(s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at, read, edited
		 FROM messages WHERE id = ? AND conversation_id = ?`,
		messageID, conversationID,
	))
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.CreatedAt, &m.Read, &m.Edited); err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return &m, nil
}

func scanMessageRow(row *sql.Row) (*Message, error) {
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}
