package memory

import (
	"context"
	"fmt"

	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/memory/docstore"
	"github.com/conclave-ai/conclave/pkg/memory/relmemory"
	"github.com/conclave-ai/conclave/pkg/session"
)

// Clear removes records matching kind and filters. kind == KindAll clears
// every backing store. Returns the number of document and relational
// records removed; vector records are removed without being counted, since
// the vector provider cannot enumerate them.
func (f *Facade) Clear(ctx context.Context, kind Kind, filters Filters) (int, error) {
	var total int
	if kind == KindAll || kind == KindDocument {
		n, err := f.clearDocuments(ctx, filters)
		if err != nil {
			return total, err
		}
		total += n
	}
	if kind == KindAll || kind == KindVector {
		n, err := f.clearVector(ctx, filters)
		if err != nil {
			return total, err
		}
		total += n
	}
	if kind == KindAll || kind == KindRelational {
		n, err := f.clearRelational(ctx, filters)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (f *Facade) clearDocuments(ctx context.Context, filters Filters) (int, error) {
	hits, err := f.documents.All(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageError, "memory: enumerate documents for clear", err)
	}
	if len(filters.Patterns) == 0 {
		for _, h := range hits {
			_ = f.documents.Delete(ctx, h.ID)
		}
		return len(hits), nil
	}
	var n int
	for _, h := range hits {
		if matchesPatterns(h.Content, filters.Patterns) {
			if err := f.documents.Delete(ctx, h.ID); err != nil {
				return n, apperr.Wrap(apperr.StorageError, "memory: delete filtered document", err)
			}
			n++
		}
	}
	return n, nil
}

func (f *Facade) clearVector(ctx context.Context, filters Filters) (int, error) {
	vf := map[string]any{}
	if len(filters.Patterns) == 0 && len(filters.Tags) == 0 {
		if err := f.vector.DeleteByFilter(ctx, vectorCollection, vf); err != nil {
			return 0, apperr.Wrap(apperr.StorageError, "memory: clear vector store", err)
		}
		return 0, nil // full clear; the provider reports no count
	}
	if len(filters.Tags) > 0 {
		for _, tag := range filters.Tags {
			if err := f.vector.DeleteByFilter(ctx, vectorCollection, map[string]any{"tags": tag}); err != nil {
				return 0, apperr.Wrap(apperr.StorageError, "memory: clear vector store by tag", err)
			}
		}
	}
	// Pattern-based vector clear requires a content scan; not supported by
	// the Provider interface directly, so this is a documented limitation.
	return 0, nil
}

func (f *Facade) clearRelational(ctx context.Context, filters Filters) (int, error) {
	if f.relational == nil {
		return 0, nil
	}
	all, err := f.relational.All(ctx, "")
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageError, "memory: enumerate relational records for clear", err)
	}
	if len(filters.Patterns) == 0 {
		if err := f.relational.Delete(ctx, ""); err != nil {
			return 0, apperr.Wrap(apperr.StorageError, "memory: clear relational store", err)
		}
		return len(all), nil
	}
	// No per-triplet delete in relmemory.Store; pattern-filtered relational
	// clear is left unimplemented until a caller actually needs it.
	return 0, nil
}

// Stats reports approximate sizes of the backing stores, for the control
// surface's status endpoint. VectorRecords is -1 since neither provider
// supports enumeration.
type Stats struct {
	Documents     int
	Relations     int
	VectorRecords int
}

func (f *Facade) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{VectorRecords: -1}
	docs, err := f.documents.All(ctx)
	if err != nil {
		return stats, apperr.Wrap(apperr.StorageError, "memory: count documents", err)
	}
	stats.Documents = len(docs)

	if f.relational != nil {
		rels, err := f.relational.All(ctx, "")
		if err != nil {
			return stats, apperr.Wrap(apperr.StorageError, "memory: count relations", err)
		}
		stats.Relations = len(rels)
	}
	return stats, nil
}

// Export produces a round-trippable snapshot of the document and relational
// stores plus the session log. Vector records are not included.
func (f *Facade) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: SnapshotVersion}

	if f.sessions != nil {
		owners, err := f.sessions.List(ctx, "")
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageError, "memory: list sessions for export", err)
		}
		for _, s := range owners {
			msgs, err := f.sessions.History(ctx, s.ID, session.ViewRaw)
			if err != nil {
				return nil, apperr.Wrap(apperr.StorageError, fmt.Sprintf("memory: load session %s for export", s.ID), err)
			}
			sm := make([]SessionMessage, 0, len(msgs))
			for _, m := range msgs {
				sm = append(sm, SessionMessage{
					ID: m.ID.String(), Role: string(m.Role), Agent: m.Agent,
					Content: m.Content, CreatedAt: m.CreatedAt,
				})
			}
			snap.Sessions = append(snap.Sessions, SessionSnapshot{
				ID: s.ID, Messages: sm, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
			})
		}
	}

	docs, err := f.documents.All(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "memory: enumerate documents for export", err)
	}
	for _, d := range docs {
		snap.Documents = append(snap.Documents, DocumentRecord{ID: d.ID, Text: d.Content, Metadata: d.Metadata})
	}

	if f.relational != nil {
		triplets, err := f.relational.All(ctx, "")
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageError, "memory: enumerate relations for export", err)
		}
		for _, t := range triplets {
			snap.Relations = append(snap.Relations, RelationalRecord{
				Subject: t.Subject, Predicate: t.Predicate, Object: t.Object, Confidence: t.Confidence,
			})
		}
	}

	// Vector records are not enumerable through the Provider interface
	// (chromem/Qdrant both key search by similarity, not listing); vector
	// memory is excluded from the snapshot by design, matching spec.md's
	// note that persistence across restarts is an implementation detail of
	// the backend, not the export contract.
	return snap, nil
}

// Import loads snap on top of the current state: existing records are kept,
// documents with a matching ID are overwritten, and session messages are
// appended to their sessions. Rejects any snapshot whose Version doesn't
// match SnapshotVersion.
func (f *Facade) Import(ctx context.Context, snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return apperr.New(apperr.BadRequest, fmt.Sprintf("memory: snapshot version %d unsupported, want %d", snap.Version, SnapshotVersion))
	}

	for _, s := range snap.Sessions {
		if f.sessions == nil {
			break
		}
		for _, m := range s.Messages {
			msg := session.Message{Role: session.Role(m.Role), Agent: m.Agent, Content: m.Content, CreatedAt: m.CreatedAt}
			if err := f.sessions.Append(ctx, s.ID, msg); err != nil {
				return apperr.Wrap(apperr.StorageError, fmt.Sprintf("memory: import session %s", s.ID), err)
			}
		}
	}

	for _, d := range snap.Documents {
		if err := f.documents.Upsert(ctx, docstore.Document{ID: d.ID, Content: d.Text, Metadata: d.Metadata}); err != nil {
			return apperr.Wrap(apperr.StorageError, "memory: import document", err)
		}
	}

	if f.relational != nil {
		for _, r := range snap.Relations {
			if err := f.relational.Add(ctx, relmemory.Triplet{Subject: r.Subject, Predicate: r.Predicate, Object: r.Object, Confidence: r.Confidence}); err != nil {
				return apperr.Wrap(apperr.StorageError, "memory: import relation", err)
			}
		}
	}

	for _, v := range snap.VectorRecords {
		if err := f.storeVector(ctx, &v); err != nil {
			return err
		}
	}

	return nil
}
