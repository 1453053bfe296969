// Package relay translates inbound transport events into presence and
// conversation operations and decides where outbound deliveries go.
//
// # Event Flow
//
// A connection moves through three states: connected (anonymous), registered
// (bound to a user), disconnected. The relay's entry points mirror that:
//
//   - OnConnect: no state change; the connection awaits registration
//   - OnRegister: bind user to connection, broadcast the roster to everyone
//   - OnSendMessage: persist first, then deliver to the receiver if online
//   - OnEditMessage: apply the edit, notify the receiver if online
//   - OnDisconnect: evict by connection handle, broadcast only on change
//
// # Delivery Semantics
//
// Delivery is best effort with persisted fallback. A message to an offline
// receiver is stored and simply not delivered; the receiver catches up
// through a history fetch. There is no redelivery queue and no per-message
// retry. Failed persistence, by contrast, is an error to the sender: a send
// either completes (stored, delivered or not) or fails atomically.
//
// The relay reaches the transport only through the Emitter interface, which
// keeps it testable with a recording fake.
package relay
