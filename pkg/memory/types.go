// Package memory is the facade spec'd by the layered memory design: a
// single entry point over three backing stores — vector (semantic
// similarity), document (BM25 keyword), and relational (subject/predicate/
// object triplets) — plus the session log they're read alongside. Callers
// never reach into vectorstore/docstore/relmemory/session directly; they
// go through Facade.
package memory

import "time"

// Kind selects which backing store an operation targets.
type Kind string

const (
	KindVector     Kind = "vector"
	KindDocument   Kind = "document"
	KindRelational Kind = "relational"
	KindAll        Kind = "all"
)

// VectorRecord is one semantic-memory entry. Embedding dimension must match
// the facade's configured dimension; mismatches are rejected at Store time.
type VectorRecord struct {
	ID         string
	Text       string
	Embedding  []float32
	Tags       []string
	Importance float64
	CreatedAt  time.Time
}

// DocumentRecord is one free-text entry retrieved by BM25 ranking.
type DocumentRecord struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// RelationalRecord is one subject/predicate/object fact.
type RelationalRecord struct {
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
}

// Record is a tagged union: exactly one of Vector, Document, Relational is
// set, matching Kind.
type Record struct {
	Vector     *VectorRecord
	Document   *DocumentRecord
	Relational *RelationalRecord
}

// SearchResult is a ranked hit from any of the three backing stores.
type SearchResult struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

// Filters narrows Search and Clear. Patterns are case-insensitive substring
// matches against record content, used by the control surface's memory
// cleanup operation.
type Filters struct {
	Tags     []string
	Patterns []string
}

// SnapshotVersion is the export/import blob's format version. Import
// rejects any blob whose Version doesn't match.
const SnapshotVersion = 1

// Snapshot is the round-trippable export/import payload. It spans both the
// memory facade's three stores and the session log, matching the
// {version, sessions[], vector_records[], documents[], relations[]} shape.
type Snapshot struct {
	Version        int                `json:"version"`
	Sessions       []SessionSnapshot  `json:"sessions"`
	VectorRecords  []VectorRecord     `json:"vector_records"`
	Documents      []DocumentRecord   `json:"documents"`
	Relations      []RelationalRecord `json:"relations"`
}

// SessionSnapshot is the portion of a session.Session carried in a
// Snapshot, decoupled from pkg/session's own types to avoid a facade ->
// session.Message field-for-field coupling that would break the export
// format every time the session schema changes internally.
type SessionSnapshot struct {
	ID        string             `json:"id"`
	Messages  []SessionMessage   `json:"messages"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type SessionMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Agent     string    `json:"agent,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
