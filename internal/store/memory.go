package store

import (
	"context"
	"sync"

	"github.com/agenthands/droneguard/internal/core/model"
)

type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]model.InspectionItem
	images map[string][]byte
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:  make(map[string]model.InspectionItem),
		images: make(map[string][]byte),
	}
}

func (s *MemoryStore) Add(ctx context.Context, item model.InspectionItem, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return ErrExists
	}
	s.items[item.ID] = item.Clone()
	if image != nil {
		s.images[item.ID] = append([]byte(nil), image...)
	}
	s.order = append(s.order, item.ID)
	return nil
}

func (s *MemoryStore) AddUnique(ctx context.Context, item model.InspectionItem, image []byte) (model.InspectionItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if s.items[id].Hash == item.Hash {
			return s.items[id].Clone(), false, nil
		}
	}
	if _, ok := s.items[item.ID]; ok {
		return model.InspectionItem{}, false, ErrExists
	}
	s.items[item.ID] = item.Clone()
	if image != nil {
		s.images[item.ID] = append([]byte(nil), image...)
	}
	s.order = append(s.order, item.ID)
	return item.Clone(), true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.InspectionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return model.InspectionItem{}, ErrNotFound
	}
	return item.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]model.InspectionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.InspectionItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*model.InspectionItem) error) (model.InspectionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return model.InspectionItem{}, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return cur.Clone(), err
	}
	next.ID = id
	s.items[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Image(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, hash string) (model.InspectionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if s.items[id].Hash == hash {
			return s.items[id].Clone(), nil
		}
	}
	return model.InspectionItem{}, ErrNotFound
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	delete(s.images, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]model.InspectionItem)
	s.images = make(map[string][]byte)
	s.order = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
