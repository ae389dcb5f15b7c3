package storage

import (
	"context"
	"sync"

	"github.com/ManyThreads/horme/core/service"
	"github.com/google/uuid"
)

// MemoryStorage keeps service entries in process memory. Query results preserve creation order.
type MemoryStorage struct {
	entries map[service.UUID]*service.ServiceEntry
	order   []service.UUID
	mu      sync.RWMutex
}

var _ PersistentStorage = &MemoryStorage{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[service.UUID]*service.ServiceEntry),
	}
}

func (s *MemoryStorage) CreateService(_ context.Context, unInit service.UnInitServiceEntry) (*service.ServiceEntry, error) {
	entry := &service.ServiceEntry{
		UUID:      uuid.New().String(),
		Type:      unInit.Type,
		Room:      unInit.Room,
		DependsOn: []service.UUID{},
	}
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.UUID] = entry
	s.order = append(s.order, entry.UUID)
	return entry.Clone(), nil
}

func (s *MemoryStorage) UpdateService(_ context.Context, entry *service.ServiceEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[entry.UUID]
	if !ok {
		return ErrServiceNotFound
	}
	logEntryDiff(prev, entry)
	s.entries[entry.UUID] = entry.Clone()
	return nil
}

func (s *MemoryStorage) RemoveService(_ context.Context, id service.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStorage) QueryServices(_ context.Context) ([]*service.ServiceEntry, error) {
	return s.filter(func(*service.ServiceEntry) bool { return true }), nil
}

func (s *MemoryStorage) QueryService(_ context.Context, id service.UUID) (*service.ServiceEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

func (s *MemoryStorage) QueryServicesInRoom(_ context.Context, room string) ([]*service.ServiceEntry, error) {
	return s.filter(func(e *service.ServiceEntry) bool { return e.Room == room }), nil
}

func (s *MemoryStorage) filter(pred func(*service.ServiceEntry) bool) []*service.ServiceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*service.ServiceEntry, 0, len(s.order))
	for _, id := range s.order {
		entry := s.entries[id]
		if pred(entry) {
			res = append(res, entry.Clone())
		}
	}
	return res
}
