package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// InMemoryStore keeps conversations and dedup records in process memory.
// It is used by tests and by deployments without a database DSN.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	dedup         map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.Conversation),
		dedup:         make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) FindConversations(ctx context.Context, phone string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[phone]
	if !ok {
		return []models.Conversation{}, nil
	}
	return []models.Conversation{c}, nil
}

func (s *InMemoryStore) InsertConversation(ctx context.Context, c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.Phone]; ok {
		return ErrDuplicateConversation
	}
	s.conversations[c.Phone] = c
	slog.Debug("InMemoryStore.InsertConversation", "phone", c.Phone, "id", c.ID)
	return nil
}

func (s *InMemoryStore) UpdateConversation(ctx context.Context, c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[c.Phone]
	if !ok {
		return ErrConversationNotFound
	}
	existing.Context = c.Context
	existing.UpdatedAt = c.UpdatedAt
	s.conversations[c.Phone] = existing
	slog.Debug("InMemoryStore.UpdateConversation", "phone", c.Phone)
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, phone string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[phone]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	s.mu.RLock()
	all := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if offset >= len(all) {
		return []models.Conversation{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
		s.dedup[messageID] = rec
	}
	return nil
}

func (s *InMemoryStore) ForgetInbound(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok && rec.ProcessedAt == nil {
		delete(s.dedup, messageID)
	}
	return nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
