package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Tags      []string  `json:"tags"`
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newWidgets(t *testing.T) (*Collection[widget], *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := NewCollection[widget](NewMemory(), KindConsultation, Fields{
		"status": "draft",
		"tags":   []string{},
	}).WithClock(clock.Now)
	return c, clock
}

func TestCollection_Create_AppliesDefaultsThenFields(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	a, err := c.Create(ctx, Fields{"name": "a"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, "draft", a.Status)
	assert.Equal(t, []string{}, a.Tags)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, a.CreatedAt, a.UpdatedAt)

	b, err := c.Create(ctx, Fields{"name": "b", "status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "done", b.Status)
	assert.NotEqual(t, a.ID, b.ID)

	got, err := c.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestCollection_Create_Rejections(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	_, err := c.Create(ctx, Fields{"id": uuid.New()})
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = c.Create(ctx, Fields{"created_at": time.Now()})
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = c.Create(ctx, Fields{"colour": "red"})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = c.Create(ctx, Fields{"name": 42})
	assert.ErrorIs(t, err, ErrInvalidValue)

	all, err := c.List(ctx, OldestFirst)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCollection_Update_ShallowMerge(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	w, err := c.Create(ctx, Fields{"name": "a", "tags": []string{"x", "y"}})
	require.NoError(t, err)

	updated, err := c.Update(ctx, w.ID, Fields{"tags": []string{"z"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, updated.Tags)
	assert.Equal(t, "a", updated.Name)
	assert.Equal(t, "draft", updated.Status)
	assert.Equal(t, w.ID, updated.ID)
	assert.Equal(t, w.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(w.UpdatedAt))

	got, err := c.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestCollection_Update_EmptyPatchOnlyTouchesUpdatedAt(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	w, err := c.Create(ctx, Fields{"name": "a"})
	require.NoError(t, err)

	updated, err := c.Update(ctx, w.ID, Fields{})
	require.NoError(t, err)
	assert.Equal(t, w.Name, updated.Name)
	assert.Equal(t, w.Status, updated.Status)
}

func TestCollection_Update_Missing(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	_, err := c.Update(ctx, uuid.New(), Fields{"name": "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := c.List(ctx, OldestFirst)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCollection_Update_Rejections(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	w, err := c.Create(ctx, Fields{"name": "a"})
	require.NoError(t, err)

	_, err = c.Update(ctx, w.ID, Fields{"id": uuid.New()})
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = c.Update(ctx, w.ID, Fields{"updated_at": time.Now()})
	assert.ErrorIs(t, err, ErrImmutableField)

	_, err = c.Update(ctx, w.ID, Fields{"bogus": true})
	assert.ErrorIs(t, err, ErrUnknownField)

	got, err := c.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestCollection_Modify(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	w, err := c.Create(ctx, Fields{"name": "a"})
	require.NoError(t, err)

	out, err := c.Modify(ctx, w.ID, func(v *widget) error {
		v.Tags = append(v.Tags, "first")
		v.ID = uuid.New()
		v.CreatedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, out.Tags)
	assert.Equal(t, w.ID, out.ID)
	assert.Equal(t, w.CreatedAt, out.CreatedAt)

	_, err = c.Modify(ctx, w.ID, func(v *widget) error {
		return fmt.Errorf("refused")
	})
	assert.EqualError(t, err, fmt.Sprintf("modifying consultation %s: refused", w.ID))

	got, err := c.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, got.Tags)
}

func TestCollection_Modify_ConcurrentAppendsAllLand(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	w, err := c.Create(ctx, Fields{"name": "a"})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Modify(ctx, w.ID, func(v *widget) error {
				v.Tags = append(v.Tags, fmt.Sprintf("t%d", i))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := c.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, got.Tags, n)
}

func TestCollection_ListAndDelete(t *testing.T) {
	c, _ := newWidgets(t)
	ctx := context.Background()

	first, err := c.Create(ctx, Fields{"name": "first"})
	require.NoError(t, err)
	second, err := c.Create(ctx, Fields{"name": "second"})
	require.NoError(t, err)

	desc, err := c.List(ctx, NewestFirst)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, second.ID, desc[0].ID)
	assert.Equal(t, first.ID, desc[1].ID)

	require.NoError(t, c.Delete(ctx, first.ID))
	assert.ErrorIs(t, c.Delete(ctx, first.ID), ErrNotFound)

	_, err = c.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	asc, err := c.List(ctx, OldestFirst)
	require.NoError(t, err)
	require.Len(t, asc, 1)
	assert.Equal(t, second.ID, asc[0].ID)
}

func TestFieldsOf(t *testing.T) {
	type patch struct {
		Name   string   `json:"name,omitempty"`
		Status string   `json:"status,omitempty"`
		Tags   []string `json:"tags,omitempty"`
	}

	f, err := FieldsOf(patch{Name: "n"})
	require.NoError(t, err)
	assert.Len(t, f, 1)
	assert.Contains(t, f, "name")

	_, err = FieldsOf([]string{"not", "an", "object"})
	assert.Error(t, err)
}
