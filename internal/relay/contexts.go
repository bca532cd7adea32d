package relay

import "sync"

// ContextStore maps a conversation key ("channel:chatID") to the backend's
// opaque context token. Tokens live for the process lifetime; only an
// explicit Clear removes one. The zero token ("") means no prior
// conversation.
type ContextStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewContextStore() *ContextStore {
	return &ContextStore{tokens: make(map[string]string)}
}

// Get returns the stored token for key, or "" when none exists.
func (s *ContextStore) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[key]
}

// Set stores token for key. An empty token is a no-op: a stored token is
// only replaced by a newer non-empty one or removed by Clear.
func (s *ContextStore) Set(key, token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = token
}

// Clear removes the token for key, reverting the conversation to fresh.
func (s *ContextStore) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
}

// Len returns the number of conversations with a stored token.
func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
