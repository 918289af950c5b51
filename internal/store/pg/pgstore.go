// Package pg is the Postgres-backed store. Directory records are kept
// as jsonb documents keyed by id, which lets the collection contract
// and the file store share one shape; audit events get their own
// append-only table indexed by timestamp.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
)

type Store struct {
	db *sql.DB
}

var (
	_ directory.Store = (*Store)(nil)
	_ audit.Sink      = (*Store)(nil)
	_ audit.Purger    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Tenants(ctx context.Context) directory.TenantCollection {
	return docCollection[directory.Tenant]{db: s.db, table: "tenants", id: func(t directory.Tenant) string { return t.ID }}
}

func (s *Store) Users(ctx context.Context) directory.UserCollection {
	return docCollection[directory.User]{db: s.db, table: "users", id: func(u directory.User) string { return u.ID }}
}

func (s *Store) Credentials(ctx context.Context) directory.CredentialCollection {
	return docCollection[directory.Credential]{db: s.db, table: "credentials", id: func(c directory.Credential) string { return c.UserID }}
}

// docCollection reads and writes one jsonb-document table as a whole
// collection. WriteAll replaces the table contents in a single
// transaction so concurrent readers always see a complete state.
type docCollection[T any] struct {
	db    *sql.DB
	table string
	id    func(T) string
}

func (c docCollection[T]) ReadAll(ctx context.Context) ([]T, error) {
	rows, err := c.db.QueryContext(ctx, `select doc from `+c.table+` order by id`)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", directory.ErrStoreUnavailable, c.table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", directory.ErrStoreUnavailable, c.table, err)
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", directory.ErrStoreUnavailable, c.table, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", directory.ErrStoreUnavailable, c.table, err)
	}
	return out, nil
}

func (c docCollection[T]) WriteAll(ctx context.Context, items []T) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", directory.ErrStoreUnavailable, c.table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from `+c.table); err != nil {
		return fmt.Errorf("%w: write %s: %v", directory.ErrStoreUnavailable, c.table, err)
	}
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %v", directory.ErrStoreUnavailable, c.table, err)
		}
		if _, err := tx.ExecContext(ctx,
			`insert into `+c.table+`(id, doc, updated_at) values ($1, $2, now())`,
			c.id(item), raw); err != nil {
			return fmt.Errorf("%w: write %s: %v", directory.ErrStoreUnavailable, c.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: write %s: %v", directory.ErrStoreUnavailable, c.table, err)
	}
	return nil
}

// Append inserts one audit event. Events are never updated or
// deleted outside of retention cleanup.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pg: encode audit event: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`insert into audit_events(id, ts, doc) values ($1, $2, $3)`,
		event.ID, event.Timestamp, raw); err != nil {
		return fmt.Errorf("pg: append audit event: %w", err)
	}
	return nil
}

// ReadFiltered returns one page of matching events newest-first plus
// the total match count. The time window narrows the scan in SQL; the
// remaining filter fields are applied in memory so the semantics stay
// identical to the file store.
func (s *Store) ReadFiltered(ctx context.Context, filter audit.Filter) ([]audit.Event, int, error) {
	query := `select doc from audit_events`
	var (
		args  []any
		where []string
	)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " where " + cond
		} else {
			query += " and " + cond
		}
	}
	query += ` order by ts desc, id desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg: read audit events: %w", err)
	}
	defer rows.Close()

	var matched []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("pg: read audit events: %w", err)
		}
		var event audit.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, 0, fmt.Errorf("pg: decode audit event: %w", err)
		}
		if filter.Matches(event) {
			matched = append(matched, event)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pg: read audit events: %w", err)
	}

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// Purge removes events older than the cutoff and reports how many
// went.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_events where ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("pg: purge audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
