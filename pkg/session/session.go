// Package session stores the append-only log of turns for a conversation.
// Appends are serialized per session key so two concurrent requests against
// the same session never interleave their writes, while reads of different
// sessions never block each other.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role mirrors model.Role without importing pkg/model, since a Message
// stored here may have been produced by an agent rather than the gateway
// directly (e.g. a contributor attribution record).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AggregatorAgent tags the synthesized message appended at the end of a
// multi-agent turn, distinguishing it from the per-contributor messages
// that precede it in raw view.
const AggregatorAgent = "aggregator"

// Message is one stored turn. Agent is empty for user turns; for an
// assistant turn it names the responding specialist, or AggregatorAgent
// for the synthesized message that closes out a multi-agent turn.
type Message struct {
	ID        uuid.UUID
	Role      Role
	Agent     string
	Content   string
	CreatedAt time.Time
}

// Session is a single conversation's metadata and message log.
type Session struct {
	ID        string
	Owner     string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// View selects how History renders stored messages back to a caller.
type View int

const (
	// ViewRaw returns every stored message verbatim, including internal
	// per-agent turns from collaborative mode — used to rebuild Gateway
	// context for a follow-up request.
	ViewRaw View = iota

	// ViewPresentation collapses a turn's per-agent messages into the
	// aggregator's final synthesized answer — used to render chat history
	// back to the end user.
	ViewPresentation
)

// Store is the session persistence contract. Append serializes concurrent
// writers on the same key; GetOrCreate and History are safe to call
// concurrently with Append on any key.
type Store interface {
	Create(ctx context.Context, owner, title string) (*Session, error)
	List(ctx context.Context, owner string) ([]*Session, error)
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	Append(ctx context.Context, id string, msg Message) error
	History(ctx context.Context, id string, view View) ([]Message, error)
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

// New generates a fresh session id, using the same uuid.NewV7 time-ordered
// scheme the pack's SQL session stores key rows by.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}
