package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-ai/conclave/pkg/apperr"
)

// SQLStore persists sessions to a relational database through
// database/sql, with an in-memory per-key mutex layer serializing Append
// calls the same way the cache map in the pack's Postgres session store
// does — the DB round trip is the source of truth, the mutex only prevents
// two goroutines racing to append to the same row.
type SQLStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLStore wraps an already-open *sql.DB (mattn/go-sqlite3 in
// development, lib/pq in production — see pkg/relstore/migrations for the
// schema both drivers share).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, locks: make(map[string]*sync.Mutex)}
}

func (s *SQLStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *SQLStore) Create(ctx context.Context, owner, title string) (*Session, error) {
	id := New()
	now := time.Now()
	empty, _ := json.Marshal([]Message{})
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_sessions (session_id, owner, title, messages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, owner, title, empty, now, now,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "create session", err)
	}
	return &Session{ID: id, Owner: owner, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLStore) List(ctx context.Context, owner string) ([]*Session, error) {
	var rows *sql.Rows
	var err error
	if owner == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT session_id, owner, title, created_at, updated_at FROM orchestrator_sessions`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT session_id, owner, title, created_at, updated_at FROM orchestrator_sessions WHERE owner = $1`, owner)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "list sessions", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Owner, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.StorageError, "scan session row", err)
		}
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "iterate session rows", err)
	}
	return out, nil
}

func (s *SQLStore) Rename(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orchestrator_sessions SET title = $1, updated_at = $2 WHERE session_id = $3`,
		title, time.Now(), id,
	)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "rename session", err)
	}
	return nil
}

func (s *SQLStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	now := time.Now()
	empty, _ := json.Marshal([]Message{})
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_sessions (session_id, owner, title, messages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, "", "", empty, now, now,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "create session", err)
	}
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLStore) Append(ctx context.Context, id string, msg Message) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		if _, err := s.GetOrCreate(ctx, id); err != nil {
			return err
		}
		sess = &Session{ID: id}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.Must(uuid.NewV7())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	sess.Messages = append(sess.Messages, msg)

	data, err := json.Marshal(sess.Messages)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "marshal session messages", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE orchestrator_sessions SET messages = $1, updated_at = $2 WHERE session_id = $3`,
		data, msg.CreatedAt, id,
	)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "append session message", err)
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, id string, view View) ([]Message, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if view == ViewRaw {
		return sess.Messages, nil
	}
	return collapsePresentation(sess.Messages), nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM orchestrator_sessions WHERE session_id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "delete session", err)
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context, id string) (*Session, error) {
	var messagesJSON []byte
	var owner, title string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, title, messages, created_at, updated_at FROM orchestrator_sessions WHERE session_id = $1`, id,
	).Scan(&owner, &title, &messagesJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, fmt.Sprintf("load session %s", id), err)
	}
	var messages []Message
	if err := json.Unmarshal(messagesJSON, &messages); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "unmarshal session messages", err)
	}
	return &Session{ID: id, Owner: owner, Title: title, Messages: messages, CreatedAt: createdAt, UpdatedAt: updatedAt}, nil
}
