// Package presence tracks which user identity owns which live connection.
//
// The registry is purely in-memory: a restart empties it and presence is
// rebuilt from reconnects, never recovered from storage. Two invariants
// matter here. First, at most one entry per user — registering an identity
// that already has an entry replaces it. Second, eviction matches by
// connection handle, never by user identity, so a late disconnect from a
// replaced connection cannot evict a fresher registration.
package presence
