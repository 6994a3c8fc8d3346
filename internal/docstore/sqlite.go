package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sqliteUpdateAttempts = 5

// SQLiteStore stores documents in a SQLite "documents" table with JSON text
// data. Merges happen in Go and are written back guarded by the version column.
type SQLiteStore struct {
	DB *sql.DB
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	id, doc, err := prepareCreate(data)
	if err != nil {
		return Record{}, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`, collection, id, string(raw), FormatTime(now), FormatTime(now))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return Record{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, collection, id)
		}
		return Record{}, fmt.Errorf("insert document %s/%s: %w", collection, id, err)
	}
	return Record{ID: id, Data: doc, Version: 1, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, data, version, created_at, updated_at
		FROM documents WHERE collection = ? AND id = ?`, collection, id)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, id string, partial map[string]any) (Record, error) {
	for attempt := 0; attempt < sqliteUpdateAttempts; attempt++ {
		current, err := s.Get(ctx, collection, id)
		if err != nil {
			return Record{}, err
		}
		rec, err := s.UpdateIf(ctx, collection, id, current.Version, partial)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return rec, err
	}
	return Record{}, fmt.Errorf("update document %s/%s: %w", collection, id, ErrVersionConflict)
}

func (s *SQLiteStore) UpdateIf(ctx context.Context, collection, id string, version int64, partial map[string]any) (Record, error) {
	patch, err := preparePartial(partial)
	if err != nil {
		return Record{}, err
	}
	current, err := s.Get(ctx, collection, id)
	if err != nil {
		return Record{}, err
	}
	if current.Version != version {
		return Record{}, ErrVersionConflict
	}
	merged := merge(current.Data, patch)
	raw, err := json.Marshal(merged)
	if err != nil {
		return Record{}, fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE documents SET data = ?, version = version + 1, updated_at = ?
		WHERE collection = ? AND id = ? AND version = ?`,
		string(raw), FormatTime(now), collection, id, version)
	if err != nil {
		return Record{}, fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return Record{}, ErrVersionConflict
	}
	return Record{
		ID:        id,
		Data:      merged,
		Version:   version + 1,
		CreatedAt: current.CreatedAt,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
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

func (s *SQLiteStore) Query(ctx context.Context, collection string, conds []Condition, opts QueryOptions) ([]Record, error) {
	if err := validateQuery(conds, opts); err != nil {
		return nil, err
	}
	var (
		b    strings.Builder
		args = []any{collection}
	)
	b.WriteString(`SELECT id, data, version, created_at, updated_at FROM documents WHERE collection = ?`)
	for _, c := range conds {
		val, err := jsonValue(c.Value)
		if err != nil {
			return nil, fmt.Errorf("encode condition %s: %w", c.Field, err)
		}
		// Both sides go through json_extract so booleans and numbers compare as SQL values.
		b.WriteString(` AND json_extract(data, ?) = json_extract(?, '$')`)
		args = append(args, "$."+c.Field, val)
	}
	if opts.OrderBy != "" {
		dir := "ASC"
		if opts.Direction == Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY json_extract(data, ?) %s, id`, dir)
		args = append(args, "$."+opts.OrderBy)
	} else {
		b.WriteString(` ORDER BY id`)
	}
	if opts.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var (
		rec              Record
		raw              string
		created, updated string
	)
	if err := row.Scan(&rec.ID, &raw, &rec.Version, &created, &updated); err != nil {
		return Record{}, err
	}
	rec.Data = map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Data); err != nil {
			return Record{}, fmt.Errorf("decode document %s: %w", rec.ID, err)
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}

var _ Store = (*SQLiteStore)(nil)
