package conversation

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// SQLiteStore keeps conversation slots in the conversation and
// conversation_message tables created by the sqlite migrations.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = &SQLiteStore{}

// Summary describes one stored conversation slot.
type Summary struct {
	ID        string `json:"id" yaml:"id"`
	Messages  int    `json:"messages" yaml:"messages"`
	UpdatedAt string `json:"updated_at" yaml:"updated_at"`
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Load(ctx context.Context, id string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM conversation_message WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: load")
	}
	defer func() { _ = rows.Close() }()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, errors.Wrap(err, "sqlite conversation store: scan")
		}
		if !m.Role.Valid() {
			return nil, errors.Wrapf(ErrInvalidRole, "sqlite conversation store: role %q", m.Role)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: rows")
	}
	return msgs, nil
}

// Save replaces the slot in one transaction, so a reader never sees a half-written ledger.
func (s *SQLiteStore) Save(ctx context.Context, id string, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	ts := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, ts, ts,
	); err != nil {
		return errors.Wrap(err, "sqlite conversation store: upsert conversation")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_message WHERE conversation_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite conversation store: clear messages")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversation_message (conversation_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: prepare insert")
	}
	defer func() { _ = stmt.Close() }()

	for i, m := range msgs {
		if !m.Role.Valid() {
			return errors.Wrapf(ErrInvalidRole, "sqlite conversation store: role %q at index %d", m.Role, i)
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(m.Role), m.Content, ts); err != nil {
			return errors.Wrapf(err, "sqlite conversation store: insert message %d", i)
		}
	}
	return errors.Wrap(tx.Commit(), "sqlite conversation store: commit")
}

// Delete removes a slot and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation WHERE id = ?`, id)
	return errors.Wrap(err, "sqlite conversation store: delete")
}

// List returns every stored slot, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, COUNT(m.seq), c.updated_at
		FROM conversation c
		LEFT JOIN conversation_message m ON m.conversation_id = c.id
		GROUP BY c.id, c.updated_at
		ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: list")
	}
	defer func() { _ = rows.Close() }()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Messages, &sum.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "sqlite conversation store: scan summary")
		}
		out = append(out, sum)
	}
	return out, errors.Wrap(rows.Err(), "sqlite conversation store: rows")
}
