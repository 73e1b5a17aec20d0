package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields is a partial record: top-level JSON keys to values.
type Fields map[string]any

const (
	fieldID        = "id"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"

	maxIDAttempts = 3
)

// FieldsOf converts a tagged struct into Fields, honouring omitempty.
func FieldsOf(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("fields must encode as a JSON object: %w", err)
	}
	f := make(Fields, len(m))
	for k, v := range m {
		f[k] = v
	}
	return f, nil
}

// Collection is the typed view of one kind. T must carry the JSON fields
// "id", "created_at" and "updated_at"; the collection owns all three.
type Collection[T any] struct {
	backend  Backend
	kind     Kind
	defaults Fields
	now      func() time.Time
}

func NewCollection[T any](backend Backend, kind Kind, defaults Fields) *Collection[T] {
	return &Collection[T]{
		backend:  backend,
		kind:     kind,
		defaults: defaults,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (c *Collection[T]) WithClock(now func() time.Time) *Collection[T] {
	c.now = now
	return c
}

func (c *Collection[T]) Kind() Kind { return c.kind }

// Create stores a new record: kind defaults, then fields, then a fresh id and
// creation stamp.
func (c *Collection[T]) Create(ctx context.Context, fields Fields) (*T, error) {
	if err := checkMutable(fields); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := uuid.New()
		now := c.now().UTC()

		doc := map[string]json.RawMessage{}
		if err := mergeInto(doc, c.defaults); err != nil {
			return nil, err
		}
		if err := mergeInto(doc, fields); err != nil {
			return nil, err
		}
		if err := mergeInto(doc, Fields{fieldID: id, fieldCreatedAt: now, fieldUpdatedAt: now}); err != nil {
			return nil, err
		}

		rec, body, err := c.decodeStrict(doc)
		if err != nil {
			return nil, err
		}

		err = c.backend.Insert(ctx, c.kind, Record{ID: id, CreatedAt: now, UpdatedAt: now, Body: body})
		if errors.Is(err, ErrDuplicateID) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", c.kind, err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("allocating %s id: %w", c.kind, ErrDuplicateID)
}

// Update shallow-merges fields over the stored record. Arrays and objects
// are replaced wholesale. A missing record yields ErrNotFound and no write.
func (c *Collection[T]) Update(ctx context.Context, id uuid.UUID, fields Fields) (*T, error) {
	if err := checkMutable(fields); err != nil {
		return nil, err
	}

	var out *T
	_, err := c.backend.Update(ctx, c.kind, id, func(rec Record) (Record, error) {
		doc := map[string]json.RawMessage{}
		if err := json.Unmarshal(rec.Body, &doc); err != nil {
			return Record{}, fmt.Errorf("decoding stored %s: %w", c.kind, err)
		}
		if err := mergeInto(doc, fields); err != nil {
			return Record{}, err
		}
		return c.restamp(rec, doc, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", c.kind, id, err)
	}
	return out, nil
}

// Modify runs fn on the decoded record inside the backend's atomic update.
// Changes fn makes to id or created_at are discarded.
func (c *Collection[T]) Modify(ctx context.Context, id uuid.UUID, fn func(*T) error) (*T, error) {
	var out *T
	_, err := c.backend.Update(ctx, c.kind, id, func(rec Record) (Record, error) {
		var orig map[string]json.RawMessage
		if err := json.Unmarshal(rec.Body, &orig); err != nil {
			return Record{}, fmt.Errorf("decoding stored %s: %w", c.kind, err)
		}

		v := new(T)
		if err := json.Unmarshal(rec.Body, v); err != nil {
			return Record{}, fmt.Errorf("decoding stored %s: %w", c.kind, err)
		}
		if err := fn(v); err != nil {
			return Record{}, err
		}

		raw, err := json.Marshal(v)
		if err != nil {
			return Record{}, err
		}
		doc := map[string]json.RawMessage{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Record{}, err
		}
		doc[fieldID] = orig[fieldID]
		doc[fieldCreatedAt] = orig[fieldCreatedAt]
		return c.restamp(rec, doc, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("modifying %s %s: %w", c.kind, id, err)
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, id uuid.UUID) (*T, error) {
	rec, err := c.backend.Get(ctx, c.kind, id)
	if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", c.kind, id, err)
	}
	v := new(T)
	if err := json.Unmarshal(rec.Body, v); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", c.kind, id, err)
	}
	return v, nil
}

func (c *Collection[T]) List(ctx context.Context, order Order) ([]*T, error) {
	recs, err := c.backend.List(ctx, c.kind, order)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c.kind, err)
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := json.Unmarshal(rec.Body, v); err != nil {
			return nil, fmt.Errorf("decoding %s %s: %w", c.kind, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.backend.Delete(ctx, c.kind, id); err != nil {
		return fmt.Errorf("deleting %s %s: %w", c.kind, id, err)
	}
	return nil
}

func (c *Collection[T]) restamp(rec Record, doc map[string]json.RawMessage, out **T) (Record, error) {
	now := c.now().UTC()
	if now.Before(rec.UpdatedAt) {
		now = rec.UpdatedAt
	}
	if err := mergeInto(doc, Fields{fieldUpdatedAt: now}); err != nil {
		return Record{}, err
	}
	v, body, err := c.decodeStrict(doc)
	if err != nil {
		return Record{}, err
	}
	*out = v
	rec.UpdatedAt = now
	rec.Body = body
	return rec, nil
}

// decodeStrict checks doc against T and returns the canonical encoding.
func (c *Collection[T]) decodeStrict(doc map[string]json.RawMessage) (*T, json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	v := new(T)
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr):
			return nil, nil, fmt.Errorf("%w: %s must be %s", ErrInvalidValue, typeErr.Field, typeErr.Type)
		case strings.Contains(err.Error(), "unknown field"):
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownField, strings.TrimPrefix(err.Error(), "json: unknown field "))
		default:
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return v, body, nil
}

func checkMutable(fields Fields) error {
	for _, k := range []string{fieldID, fieldCreatedAt, fieldUpdatedAt} {
		if _, ok := fields[k]; ok {
			return fmt.Errorf("%w: %s", ErrImmutableField, k)
		}
	}
	return nil
}

func mergeInto(doc map[string]json.RawMessage, fields Fields) error {
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, k, err)
		}
		doc[k] = raw
	}
	return nil
}
