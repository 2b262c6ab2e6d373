package database

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	texts map[string]Text
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string]Document),
		texts: make(map[string]Text),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.texts[doc.ID] = Text{}
	return nil
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	delete(s.texts, id)
	return nil
}

func (s *MemoryStore) LoadText(_ context.Context, id string) (Text, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.texts[id]
	if !ok {
		return Text{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) SaveText(_ context.Context, id string, text Text) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[id] = text
	return nil
}
