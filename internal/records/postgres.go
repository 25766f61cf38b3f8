package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	pool pgQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("records: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithExec(exec pgQuerier) *PostgresStore {
	if exec == nil {
		panic("records: exec required")
	}
	return &PostgresStore{pool: exec}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	table, err := tableFor(collection)
	if err != nil {
		return Document{}, err
	}
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return Document{}, fmt.Errorf("records: get %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Data: data}, nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]Document, error) {
	table, err := tableFor(q.Collection)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT id, data FROM %s`, table)

	var args []any
	for i, f := range q.Filters {
		if !validOp(f.Op) {
			return nil, fmt.Errorf("%w: %q", ErrBadFilter, f.Op)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		op := f.Op
		if op == "==" {
			op = "="
		}
		args = append(args, fmt.Sprint(f.Value))
		if isNumeric(f.Value) {
			fmt.Fprintf(&sb, `(data->>'%s')::numeric %s $%d::numeric`, sanitizeField(f.Field), op, len(args))
		} else {
			fmt.Fprintf(&sb, `data->>'%s' %s $%d`, sanitizeField(f.Field), op, len(args))
		}
	}

	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY data->>'%s' %s`, sanitizeField(q.OrderBy), dir)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("records: list %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var data []byte
		if err := rows.Scan(&doc.ID, &data); err != nil {
			return nil, fmt.Errorf("records: scan %s: %w", q.Collection, err)
		}
		doc.Data = append(json.RawMessage(nil), data...)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, data json.RawMessage) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("records: put %s/%s: body is not valid JSON", collection, id)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, data)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, table)
	if _, err := s.pool.Exec(ctx, query, id, []byte(data)); err != nil {
		return fmt.Errorf("records: put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Patch(ctx context.Context, collection, id string, fields map[string]any) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("records: patch %s/%s: %w", collection, id, err)
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET data = data || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, table)
	ct, err := s.pool.Exec(ctx, query, id, patch)
	if err != nil {
		return fmt.Errorf("records: patch %s/%s: %w", collection, id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("records: delete %s/%s: %w", collection, id, err)
	}
	// Deleting an absent document is not an error, matching provider semantics.
	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// sanitizeField strips anything that could escape the JSON path expression.
// Field names come from trusted callers but filters can be built from client
// query params.
func sanitizeField(field string) string {
	var sb strings.Builder
	for _, r := range field {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
