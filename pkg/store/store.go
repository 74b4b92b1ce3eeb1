// Package store is the process-wide session store: the last EstimateResult
// per chat, overwritten atomically, consulted by follow-up actions.
package store

import (
	"sync"
	"time"

	"github.com/garagehq/advisor/pkg/models"
)

// Store keeps the most recent result per chat id.
type Store struct {
	mu      sync.RWMutex
	byChat  map[string]*models.EstimateResult
	updated map[string]time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byChat:  make(map[string]*models.EstimateResult),
		updated: make(map[string]time.Time),
	}
}

// Put overwrites the chat's last result.
func (s *Store) Put(chatID string, res *models.EstimateResult) {
	s.mu.Lock()
	s.byChat[chatID] = res
	s.updated[chatID] = time.Now()
	s.mu.Unlock()
}

// Get returns the chat's last result, or nil.
func (s *Store) Get(chatID string) *models.EstimateResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byChat[chatID]
}

// Delete removes a chat's entry.
func (s *Store) Delete(chatID string) {
	s.mu.Lock()
	delete(s.byChat, chatID)
	delete(s.updated, chatID)
	s.mu.Unlock()
}

// Len reports how many chats have a stored result.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byChat)
}

// PruneOlderThan drops entries not updated within ttl and returns the count.
func (s *Store) PruneOlderThan(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for chat, at := range s.updated {
		if at.Before(cutoff) {
			delete(s.byChat, chat)
			delete(s.updated, chat)
			n++
		}
	}
	return n
}
