// ABOUTME: In-memory presence registry mapping user identities to live connections
// ABOUTME: Guarantees at most one entry per user and eviction by connection handle

package presence

import (
	"log/slog"
	"sync"
)

// Entry binds one user identity to its currently live connection.
// Entries are ephemeral: nothing here survives a restart.
type Entry struct {
	ConnectionID string `json:"socketId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"username"`
}

// Registry tracks which user owns which live connection. All methods are
// safe for concurrent use; register/unregister for the same user are
// linearizable under one lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry // userID -> entry
	order   []string          // userIDs in registration order
	logger  *slog.Logger
}

// NewRegistry creates an empty presence registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger.With("component", "presence"),
	}
}

// Register binds userID to connectionID, replacing any prior entry for the
// same user. It returns the full roster for broadcast.
func (r *Registry) Register(userID, connectionID, displayName string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.entries[userID]; exists {
		r.logger.Debug("replacing presence entry",
			"user_id", userID,
			"old_connection", prev.ConnectionID,
			"new_connection", connectionID)
		r.removeFromOrder(userID)
	}

	r.entries[userID] = &Entry{
		ConnectionID: connectionID,
		UserID:       userID,
		DisplayName:  displayName,
	}
	r.order = append(r.order, userID)

	r.logger.Info("user registered",
		"user_id", userID,
		"connection_id", connectionID,
		"online", len(r.entries))
	return r.rosterLocked()
}

// UnregisterByConnection removes the entry whose connection handle matches.
// Matching is strictly by connection id so a disconnect from an already
// replaced connection cannot evict the user's newer registration. The second
// return value reports whether anything was removed; when false the roster
// is nil and callers must not broadcast.
func (r *Registry) UnregisterByConnection(connectionID string) ([]Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, entry := range r.entries {
		if entry.ConnectionID == connectionID {
			delete(r.entries, userID)
			r.removeFromOrder(userID)
			r.logger.Info("user unregistered",
				"user_id", userID,
				"connection_id", connectionID,
				"online", len(r.entries))
			return r.rosterLocked(), true
		}
	}
	return nil, false
}

// Resolve returns the live connection for a user, if any.
func (r *Registry) Resolve(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return "", false
	}
	return entry.ConnectionID, true
}

// Snapshot returns the current roster in registration order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

// rosterLocked builds the ordered roster copy. Caller holds r.mu.
func (r *Registry) rosterLocked() []Entry {
	roster := make([]Entry, 0, len(r.entries))
	for _, userID := range r.order {
		if entry, ok := r.entries[userID]; ok {
			roster = append(roster, *entry)
		}
	}
	return roster
}

// removeFromOrder drops userID from the registration order. Caller holds r.mu.
func (r *Registry) removeFromOrder(userID string) {
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
