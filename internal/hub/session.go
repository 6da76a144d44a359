package hub

import "sync"

// SessionRegistry indexes live connections by id and, once authenticated,
// by user. A user may hold any number of connections.
type SessionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Client
	users map[string]map[string]*Client
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		conns: make(map[string]*Client),
		users: make(map[string]map[string]*Client),
	}
}

func (s *SessionRegistry) Add(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = c
}

// Bind indexes c under userID. It fails when c is no longer registered.
func (s *SessionRegistry) Bind(c *Client, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[c.ID]; !ok {
		return false
	}

	byID, ok := s.users[userID]
	if !ok {
		byID = make(map[string]*Client)
		s.users[userID] = byID
	}
	byID[c.ID] = c
	return true
}

// Remove drops c and reports whether it was registered.
func (s *SessionRegistry) Remove(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[c.ID]; !ok {
		return false
	}
	delete(s.conns, c.ID)

	if userID := c.UserID(); userID != "" {
		if byID, ok := s.users[userID]; ok {
			delete(byID, c.ID)
			if len(byID) == 0 {
				delete(s.users, userID)
			}
		}
	}
	return true
}

func (s *SessionRegistry) Get(id string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// ConnectionsOf returns every live connection of userID.
func (s *SessionRegistry) ConnectionsOf(userID string) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Client, 0, len(s.users[userID]))
	for _, c := range s.users[userID] {
		out = append(out, c)
	}
	return out
}

// All returns a snapshot of every registered connection.
func (s *SessionRegistry) All() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Client, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connections, bound connections and distinct users.
func (s *SessionRegistry) Count() (connections, authenticated, users int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, byID := range s.users {
		authenticated += len(byID)
	}
	return len(s.conns), authenticated, len(s.users)
}
