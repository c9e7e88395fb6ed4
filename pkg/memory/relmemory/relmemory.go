// Package relmemory is the layered memory subsystem's long-term structured
// layer: subject/predicate/object triplets extracted from conversation and
// persisted relationally, queryable by subject without re-running any
// embedding or keyword search. Grounded on pkg/session's SQLStore for the
// database/sql + per-session-lock pattern, backed by pkg/relstore's
// memory_triplets table.
package relmemory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-ai/conclave/pkg/apperr"
)

// Triplet is one fact: subject-predicate-object, with a confidence in [0,1]
// reflecting how certain the extraction step was.
type Triplet struct {
	ID         string
	SessionID  string
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
	CreatedAt  time.Time
}

// Store persists and queries triplets for a session's long-term memory.
type Store interface {
	Add(ctx context.Context, t Triplet) error
	BySubject(ctx context.Context, sessionID, subject string) ([]Triplet, error)
	All(ctx context.Context, sessionID string) ([]Triplet, error)
	Delete(ctx context.Context, sessionID string) error
}

type SQLStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Add(ctx context.Context, t Triplet) error {
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return apperr.Wrap(apperr.StorageError, "relmemory: generate triplet id", err)
		}
		t.ID = id.String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Confidence == 0 {
		t.Confidence = 1.0
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_triplets (id, session_id, subject, predicate, object, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.SessionID, t.Subject, t.Predicate, t.Object, t.Confidence, t.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, fmt.Sprintf("relmemory: insert triplet for session %s", t.SessionID), err)
	}
	return nil
}

func (s *SQLStore) BySubject(ctx context.Context, sessionID, subject string) ([]Triplet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, subject, predicate, object, confidence, created_at
		FROM memory_triplets WHERE session_id = $1 AND subject = $2
		ORDER BY created_at ASC
	`, sessionID, subject)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, fmt.Sprintf("relmemory: query subject %s", subject), err)
	}
	return scanTriplets(rows)
}

func (s *SQLStore) All(ctx context.Context, sessionID string) ([]Triplet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, subject, predicate, object, confidence, created_at
		FROM memory_triplets WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, fmt.Sprintf("relmemory: query session %s", sessionID), err)
	}
	return scanTriplets(rows)
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_triplets WHERE session_id = $1`, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, fmt.Sprintf("relmemory: delete session %s", sessionID), err)
	}
	return nil
}

func scanTriplets(rows *sql.Rows) ([]Triplet, error) {
	defer rows.Close()
	var out []Triplet
	for rows.Next() {
		var t Triplet
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Subject, &t.Predicate, &t.Object, &t.Confidence, &t.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.StorageError, "relmemory: scan triplet row", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "relmemory: iterate triplet rows", err)
	}
	return out, nil
}

var _ Store = (*SQLStore)(nil)
