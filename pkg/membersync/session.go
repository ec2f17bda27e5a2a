package membersync

import (
	"context"
	"sync"
)

// NotificationKey is the one-shot key for surfacing an entitlement to a user.
func NotificationKey(uid string, plan Plan, role Role) string {
	return uid + "|" + string(plan) + "|" + string(role)
}

// MemorySessionStore is an in-process SessionStore. Sessions never expire, so
// it suits tests and single-process deployments.
type MemorySessionStore struct {
	mu       sync.Mutex
	surfaced map[string]map[string]struct{}
}

// NewMemorySessionStore creates an empty in-process session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{surfaced: make(map[string]map[string]struct{})}
}

// MarkSurfaced implements SessionStore.
func (s *MemorySessionStore) MarkSurfaced(_ context.Context, sessionID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.surfaced[sessionID]
	if !ok {
		keys = make(map[string]struct{})
		s.surfaced[sessionID] = keys
	}
	if _, seen := keys[key]; seen {
		return false, nil
	}
	keys[key] = struct{}{}
	return true, nil
}

// EndSession forgets everything surfaced in the session.
func (s *MemorySessionStore) EndSession(sessionID string) {
	s.mu.Lock()
	delete(s.surfaced, sessionID)
	s.mu.Unlock()
}
