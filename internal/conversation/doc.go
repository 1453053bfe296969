// Package conversation provides the durable conversation contract over the
// store: append, paginated history, recent-conversation previews, read
// receipts, and message edit/delete.
//
// The Service validates every request before touching storage, resolves the
// unordered participant pair to its canonical order, and serializes appends
// per conversation so insertion order and the last-message projection stay
// consistent. It never retries or buffers failed writes; persistence errors
// surface to the caller as apperr values.
package conversation
