package realtime

import "sync"

// Registry owns the userID to connection mapping. A user has at most one live
// connection at a time: registering a new connection silently replaces the
// old mapping, and the displaced connection is handed back to the caller so
// it can be closed. The raw map is never exposed.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[int64]*Client)}
}

// Register maps userID to client, replacing any prior mapping. It returns the
// displaced client, if any, so the caller can close it and avoid leaking the
// connection from a duplicate login.
func (r *Registry) Register(userID int64, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.clients[userID]
	r.clients[userID] = client
	if prior == client {
		return nil
	}
	return prior
}

// Unregister removes the mapping for userID, but only while it still points
// at client. A connection that was replaced by a newer login must not evict
// its successor during its own teardown. It reports whether a mapping was
// removed.
func (r *Registry) Unregister(userID int64, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.clients[userID]
	if !ok || current != client {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Lookup returns the live connection for userID, if one is registered.
func (r *Registry) Lookup(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[userID]
	return client, ok
}

// IsOnline reports whether userID has a registered connection whose liveness
// flag is set.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[userID]
	return ok && client.Alive()
}

// ListOnline returns the user ids of all currently registered connections.
func (r *Registry) ListOnline() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]int64, 0, len(r.clients))
	for userID := range r.clients {
		users = append(users, userID)
	}
	return users
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
