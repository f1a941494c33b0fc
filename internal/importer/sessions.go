package importer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("import session not found")

// SessionStore keeps staged batches between requests. Batches are scoped to
// the user that uploaded them; lookups with another user's id miss.
//
// Lock guards a commit across processes. It fails with ErrCommitInProgress
// while another holder has the lock.
type SessionStore interface {
	Put(ctx context.Context, userID uuid.UUID, b *Batch) error
	Get(ctx context.Context, userID uuid.UUID, id string) (*Batch, error)
	Delete(ctx context.Context, userID uuid.UUID, id string) error
	Lock(ctx context.Context, userID uuid.UUID, id string) (func(), error)
}

type memoryEntry struct {
	batch   *Batch
	expires time.Time
}

// MemoryStore is the single-process SessionStore.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	locks   map[string]struct{}
}

var _ SessionStore = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]memoryEntry{},
		locks:   map[string]struct{}{},
	}
}

func sessionKey(userID uuid.UUID, id string) string {
	return userID.String() + ":" + id
}

func (s *MemoryStore) Put(_ context.Context, userID uuid.UUID, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionKey(userID, b.ID)] = memoryEntry{batch: b, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID, id string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(userID, id)
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.ttl > 0 && s.now().After(e.expires) {
		delete(s.entries, key)
		return nil, ErrSessionNotFound
	}
	return e.batch, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID uuid.UUID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionKey(userID, id))
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, userID uuid.UUID, id string) (func(), error) {
	key := sessionKey(userID, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return nil, ErrCommitInProgress
	}
	s.locks[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.locks, key)
		s.mu.Unlock()
	}, nil
}

// Sweep drops expired batches and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
