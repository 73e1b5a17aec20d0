package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Postgres keeps every kind in one JSONB table (see migrations/).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Insert(ctx context.Context, kind Kind, rec Record) error {
	query := `
		INSERT INTO records (kind, id, created_at, updated_at, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, id) DO NOTHING
	`
	res, err := p.db.ExecContext(ctx, query, string(kind), rec.ID, rec.CreatedAt, rec.UpdatedAt, string(rec.Body))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error) {
	query := `SELECT created_at, updated_at, body FROM records WHERE kind = $1 AND id = $2`

	rec := Record{ID: id}
	var body []byte
	err := p.db.QueryRowContext(ctx, query, string(kind), id).Scan(&rec.CreatedAt, &rec.UpdatedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select record: %w", err)
	}
	rec.Body = body
	return rec, nil
}

// Update locks the row for the duration of fn.
func (p *Postgres) Update(ctx context.Context, kind Kind, id uuid.UUID, fn func(Record) (Record, error)) (Record, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec := Record{ID: id}
	var body []byte
	err = tx.QueryRowContext(ctx,
		`SELECT created_at, updated_at, body FROM records WHERE kind = $1 AND id = $2 FOR UPDATE`,
		string(kind), id,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("lock record: %w", err)
	}
	rec.Body = body

	next, err := fn(rec)
	if err != nil {
		return Record{}, err
	}
	next.ID = rec.ID
	next.CreatedAt = rec.CreatedAt

	_, err = tx.ExecContext(ctx,
		`UPDATE records SET updated_at = $3, body = $4 WHERE kind = $1 AND id = $2`,
		string(kind), id, next.UpdatedAt, string(next.Body),
	)
	if err != nil {
		return Record{}, fmt.Errorf("update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (p *Postgres) List(ctx context.Context, kind Kind, order Order) ([]Record, error) {
	query := `SELECT id, created_at, updated_at, body FROM records WHERE kind = $1 ORDER BY created_at ASC, id ASC`
	if order.Desc {
		query = `SELECT id, created_at, updated_at, body FROM records WHERE kind = $1 ORDER BY created_at DESC, id DESC`
	}

	rows, err := p.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var body []byte
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &body); err != nil {
			return nil, err
		}
		rec.Body = body
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM records WHERE kind = $1 AND id = $2`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
