package realtime

import "sync"

// Membership owns the userID to chat-id-set relation. Entries are seeded from
// client-declared state at auth time and grown by the external "chat created"
// collaborator; everything is removed on disconnect.
type Membership struct {
	mu    sync.RWMutex
	chats map[int64]map[string]struct{}
}

// NewMembership creates an empty Membership index.
func NewMembership() *Membership {
	return &Membership{chats: make(map[int64]map[string]struct{})}
}

// SetMemberships replaces the chat set for userID with chatIDs. Called once
// per connection, at auth time.
func (m *Membership) SetMemberships(userID int64, chatIDs []string) {
	set := make(map[string]struct{}, len(chatIDs))
	for _, chatID := range chatIDs {
		if chatID == "" {
			continue
		}
		set[chatID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[userID] = set
}

// AddMembership adds a single chat to the user's set so a newly created room
// receives fan-out without a reconnect. Adding an existing chat is a no-op.
func (m *Membership) AddMembership(userID int64, chatID string) {
	if chatID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.chats[userID]
	if !ok {
		set = make(map[string]struct{})
		m.chats[userID] = set
	}
	set[chatID] = struct{}{}
}

// MembersOf returns every user whose set contains chatID. The linear scan is
// acceptable at the expected scale of a single deployment; it is the known
// scaling limit of this index.
func (m *Membership) MembersOf(chatID string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members []int64
	for userID, set := range m.chats {
		if _, ok := set[chatID]; ok {
			members = append(members, userID)
		}
	}
	return members
}

// Chats returns the chat ids the user is currently subscribed to.
func (m *Membership) Chats(userID int64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.chats[userID]
	if !ok {
		return nil
	}
	chatIDs := make([]string, 0, len(set))
	for chatID := range set {
		chatIDs = append(chatIDs, chatID)
	}
	return chatIDs
}

// Remove purges all memberships for userID. No dangling entries may outlive
// the underlying connection.
func (m *Membership) Remove(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, userID)
}
