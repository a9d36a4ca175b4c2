package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Session is one transactional handle over the cache. Every read and write
// in a handler happens inside a single session; nested sessions are not
// supported.
type Session struct {
	tx     *sql.Tx
	logger *slog.Logger
	done   bool
}

// Begin opens a session. The caller must Commit or Rollback; prefer With.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{tx: t, logger: s.logger}, nil
}

// Commit commits the session. A second Commit or Rollback is a no-op.
func (s *Session) Commit() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Commit()
}

// Rollback aborts the session. Safe to defer after Begin.
func (s *Session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}

// With runs fn inside a fresh session: commits when fn returns nil, rolls
// back otherwise. This is the scoped acquisition used by handlers.
func (s *Store) With(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback() //nolint:errcheck
	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}
