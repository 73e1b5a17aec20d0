package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Backend. Records are lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[Kind]map[uuid.UUID]Record
}

func NewMemory() *Memory {
	return &Memory{data: make(map[Kind]map[uuid.UUID]Record)}
}

func (m *Memory) Insert(_ context.Context, kind Kind, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.data[kind]
	if !ok {
		bucket = make(map[uuid.UUID]Record)
		m.data[kind] = bucket
	}
	if _, exists := bucket[rec.ID]; exists {
		return ErrDuplicateID
	}
	bucket[rec.ID] = cloneRecord(rec)
	return nil
}

func (m *Memory) Get(_ context.Context, kind Kind, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[kind][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Update(_ context.Context, kind Kind, id uuid.UUID, fn func(Record) (Record, error)) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.data[kind][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	next, err := fn(cloneRecord(rec))
	if err != nil {
		return Record{}, err
	}
	next.ID = rec.ID
	next.CreatedAt = rec.CreatedAt
	m.data[kind][id] = cloneRecord(next)
	return next, nil
}

func (m *Memory) List(_ context.Context, kind Kind, order Order) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.data[kind]))
	for _, rec := range m.data[kind] {
		out = append(out, cloneRecord(rec))
	}
	m.mu.RUnlock()

	sortRecords(out, order)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, kind Kind, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[kind][id]; !ok {
		return ErrNotFound
	}
	delete(m.data[kind], id)
	return nil
}

func (m *Memory) Close() error { return nil }

// sortRecords orders by creation time, breaking ties by id so listings are
// stable across calls.
func sortRecords(recs []Record, order Order) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if order.Desc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if order.Desc {
			return a.ID.String() > b.ID.String()
		}
		return a.ID.String() < b.ID.String()
	})
}
