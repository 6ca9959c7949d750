// Package realtime implements the presence and message fan-out core of the
// chat feature: it accepts concurrent WebSocket connections, binds each to a
// user identity on authentication, tracks chat-room memberships, and routes
// message deliveries, typing indicators, and online/offline presence to the
// right set of connected peers, with heartbeat-based reaping of dead
// connections.
//
// The core holds no durable state. Everything is rebuilt from zero on
// restart; clients re-authenticate after reconnecting. Persistence,
// authorization policy, and multi-process scale-out belong to external
// collaborators that call in through the Hub's exported methods and the
// /internal HTTP endpoints.
//
// Two documented invariants of the reference behavior are preserved here
// rather than "fixed": a user has at most one live connection (a second
// login replaces the first), and presence events go to every connected user
// instead of a contact list.
package realtime
