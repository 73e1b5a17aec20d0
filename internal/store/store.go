// Package store persists records of each entity kind as JSON documents keyed
// by (kind, id). Backends only move opaque documents around; the merge rules
// live in Collection.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConsultation Kind = "consultation"
	KindCustomer     Kind = "customer"
	KindPayment      Kind = "payment"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateID    = errors.New("record id already exists")
	ErrImmutableField = errors.New("field is immutable")
	ErrUnknownField   = errors.New("unknown field")
	ErrInvalidValue   = errors.New("invalid field value")
	ErrInvalidOrder   = errors.New("invalid order")
)

// Record is one persisted document plus the metadata backends index on.
type Record struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      json.RawMessage
}

// Backend is the persistence boundary. Every mutating call is durable before
// it returns, and Update applies fn atomically with respect to other writers
// of the same record. fn may run more than once on optimistic backends.
type Backend interface {
	Insert(ctx context.Context, kind Kind, rec Record) error
	Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error)
	Update(ctx context.Context, kind Kind, id uuid.UUID, fn func(Record) (Record, error)) (Record, error)
	List(ctx context.Context, kind Kind, order Order) ([]Record, error)
	Delete(ctx context.Context, kind Kind, id uuid.UUID) error
	Close() error
}

// Order sorts List results by creation time.
type Order struct {
	Desc bool
}

var (
	OldestFirst = Order{Desc: false}
	NewestFirst = Order{Desc: true}
)

// ParseOrder accepts "created_at" / "-created_at" (and the legacy
// "created_date" spelling). An empty string means newest first.
func ParseOrder(s string) (Order, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NewestFirst, nil
	}

	desc := false
	switch s[0] {
	case '-':
		desc = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	switch s {
	case "created_at", "created_date":
		return Order{Desc: desc}, nil
	}
	return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrder, s)
}

func cloneRecord(rec Record) Record {
	body := make(json.RawMessage, len(rec.Body))
	copy(body, rec.Body)
	rec.Body = body
	return rec
}
