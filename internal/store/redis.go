package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// Redis stores each record under prefix:kind:id and keeps a per-kind sorted
// set scored by creation time for listing.
type Redis struct {
	client *redis.Client
	prefix string
}

type redisEnvelope struct {
	ID        uuid.UUID       `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Body      json.RawMessage `json:"body"`
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(kind Kind, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, id)
}

func (r *Redis) indexKey(kind Kind) string {
	return fmt.Sprintf("%s:%s:index", r.prefix, kind)
}

func (r *Redis) Insert(ctx context.Context, kind Kind, rec Record) error {
	data, err := encodeEnvelope(rec)
	if err != nil {
		return err
	}
	key := r.key(kind, rec.ID)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("check record: %w", err)
		}
		if n > 0 {
			return ErrDuplicateID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, r.indexKey(kind), redis.Z{
				Score:  float64(rec.CreatedAt.UnixMicro()),
				Member: rec.ID.String(),
			})
			return nil
		})
		return err
	}, key)
}

func (r *Redis) Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error) {
	data, err := r.client.Get(ctx, r.key(kind, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return decodeEnvelope(data)
}

// Update retries when another writer touches the key between read and write.
func (r *Redis) Update(ctx context.Context, kind Kind, id uuid.UUID, fn func(Record) (Record, error)) (Record, error) {
	key := r.key(kind, id)
	var next Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get record: %w", err)
		}
		rec, err := decodeEnvelope(data)
		if err != nil {
			return err
		}

		next, err = fn(rec)
		if err != nil {
			return err
		}
		next.ID = rec.ID
		next.CreatedAt = rec.CreatedAt

		out, err := encodeEnvelope(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return next, nil
	}
	return Record{}, fmt.Errorf("update record %s: too much contention", id)
}

func (r *Redis) List(ctx context.Context, kind Kind, order Order) ([]Record, error) {
	var ids []string
	var err error
	if order.Desc {
		ids, err = r.client.ZRevRange(ctx, r.indexKey(kind), 0, -1).Result()
	} else {
		ids, err = r.client.ZRange(ctx, r.indexKey(kind), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf("%s:%s:%s", r.prefix, kind, id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	out := make([]Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// index entry outlived its record
			continue
		}
		rec, err := decodeEnvelope([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out, order)
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(kind, id))
		pipe.ZRem(ctx, r.indexKey(kind), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func encodeEnvelope(rec Record) ([]byte, error) {
	return json.Marshal(redisEnvelope{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Body:      rec.Body,
	})
}

func decodeEnvelope(data []byte) (Record, error) {
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return Record{ID: env.ID, CreatedAt: env.CreatedAt, UpdatedAt: env.UpdatedAt, Body: env.Body}, nil
}
