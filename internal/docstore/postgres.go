package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGStore stores documents in the Postgres "documents" table as JSONB.
type PGStore struct {
	DB *sql.DB
}

const pgReturning = `RETURNING id, data, version, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	id, doc, err := prepareCreate(data)
	if err != nil {
		return Record{}, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, 1, $4, $4)
		`+pgReturning, collection, id, raw, now)
	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
		}
		return Record{}, fmt.Errorf("insert document %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (s *PGStore) Get(ctx context.Context, collection, id string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, data, version, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2`, collection, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (s *PGStore) Update(ctx context.Context, collection, id string, partial map[string]any) (Record, error) {
	patch, err := encodePatch(partial)
	if err != nil {
		return Record{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb, version = version + 1, updated_at = $4
		WHERE collection = $1 AND id = $2
		`+pgReturning, collection, id, patch, time.Now().UTC())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (s *PGStore) UpdateIf(ctx context.Context, collection, id string, version int64, partial map[string]any) (Record, error) {
	patch, err := encodePatch(partial)
	if err != nil {
		return Record{}, err
	}
	row := s.DB.QueryRowContext(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb, version = version + 1, updated_at = $4
		WHERE collection = $1 AND id = $2 AND version = $5
		`+pgReturning, collection, id, patch, time.Now().UTC(), version)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	var exists bool
	if err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id).Scan(&exists); err != nil {
		return Record{}, fmt.Errorf("check document %s/%s: %w", collection, id, err)
	}
	if !exists {
		return Record{}, ErrNotFound
	}
	return Record{}, ErrVersionConflict
}

func (s *PGStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Query(ctx context.Context, collection string, conds []Condition, opts QueryOptions) ([]Record, error) {
	if err := validateQuery(conds, opts); err != nil {
		return nil, err
	}
	var (
		b    strings.Builder
		args = []any{collection}
	)
	b.WriteString(`SELECT id, data, version, created_at, updated_at FROM documents WHERE collection = $1`)
	for _, c := range conds {
		val, err := jsonValue(c.Value)
		if err != nil {
			return nil, fmt.Errorf("encode condition %s: %w", c.Field, err)
		}
		args = append(args, c.Field, val)
		fmt.Fprintf(&b, ` AND data -> $%d::text = $%d::jsonb`, len(args)-1, len(args))
	}
	if opts.OrderBy != "" {
		args = append(args, opts.OrderBy)
		dir := "ASC"
		if opts.Direction == Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY data -> $%d::text %s, id`, len(args), dir)
	} else {
		b.WriteString(` ORDER BY id`)
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return out, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec Record
		raw []byte
	)
	if err := row.Scan(&rec.ID, &raw, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Data = map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Data); err != nil {
			return Record{}, fmt.Errorf("decode document %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func encodePatch(partial map[string]any) ([]byte, error) {
	patch, err := preparePartial(partial)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return raw, nil
}

var _ Store = (*PGStore)(nil)
