// Package docstore is the keyword-search fallback memory layer: a BM25
// scored in-process index used when a query's terms don't cluster well in
// embedding space, or when no embedder/vectorstore is configured at all.
//
// No pack example imports a full-text search engine (bleve, zoekt, or
// similar); the one keyword-search implementation in the corpus
// (kadirpekel-hector's KeywordIndexService) is itself a hand-rolled
// word-overlap scorer over the standard library. This package follows
// that precedent and upgrades the scoring from raw overlap counts to BM25,
// still entirely on top of strings/sort/sync.
package docstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Document is one unit of indexed text.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Result is a scored search hit, ordered by descending Score.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]any
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Store is a BM25-scored keyword index over one logical collection
// (typically one per session). Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	docs    map[string]*indexedDoc
	order   []string // insertion order, for deterministic rebuilds
	df      map[string]int
	avgLen  float64
	dirty   bool
}

type indexedDoc struct {
	doc   Document
	terms map[string]int
	len   int
}

func New() *Store {
	return &Store{
		docs: make(map[string]*indexedDoc),
		df:   make(map[string]int),
	}
}

// Upsert indexes or reindexes a document.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	terms := tokenize(doc.Content)
	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.docs[doc.ID]; ok {
		for t := range old.terms {
			s.df[t]--
			if s.df[t] <= 0 {
				delete(s.df, t)
			}
		}
	} else {
		s.order = append(s.order, doc.ID)
	}

	for t := range freq {
		s.df[t]++
	}

	s.docs[doc.ID] = &indexedDoc{doc: doc, terms: freq, len: len(terms)}
	s.dirty = true
	return nil
}

// Delete removes a document from the index.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.docs[id]
	if !ok {
		return nil
	}
	for t := range old.terms {
		s.df[t]--
		if s.df[t] <= 0 {
			delete(s.df, t)
		}
	}
	delete(s.docs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dirty = true
	return nil
}

// All returns every indexed document unscored, in insertion order. Used for
// enumeration (export, pattern-filtered clear) rather than ranked search.
func (s *Store) All(ctx context.Context) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, 0, len(s.order))
	for _, id := range s.order {
		d, ok := s.docs[id]
		if !ok {
			continue
		}
		out = append(out, Result{ID: id, Content: d.doc.Content, Metadata: d.doc.Metadata})
	}
	return out, nil
}

// Search returns the topK documents best matching query, BM25-scored.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.dirty {
		s.recomputeAvgLen()
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.docs)
	if n == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(queryTerms))
	var uniq []string
	for _, t := range queryTerms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			uniq = append(uniq, t)
		}
	}

	idf := make(map[string]float64, len(uniq))
	for _, t := range uniq {
		df := s.df[t]
		idf[t] = math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
	}

	results := make([]Result, 0, n)
	for _, id := range s.order {
		d, ok := s.docs[id]
		if !ok {
			continue
		}
		var score float64
		for _, t := range uniq {
			tf := float64(d.terms[t])
			if tf == 0 {
				continue
			}
			score += idf[t] * (tf * (bm25K1 + 1)) /
				(tf + bm25K1*(1-bm25B+bm25B*float64(d.len)/s.avgLen))
		}
		if score > 0 {
			results = append(results, Result{ID: id, Score: score, Content: d.doc.Content, Metadata: d.doc.Metadata})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) recomputeAvgLen() {
	var total int
	for _, d := range s.docs {
		total += d.len
	}
	if len(s.docs) > 0 {
		s.avgLen = float64(total) / float64(len(s.docs))
	} else {
		s.avgLen = 0
	}
	if s.avgLen == 0 {
		s.avgLen = 1
	}
	s.dirty = false
}

func tokenize(text string) []string {
	var out []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 2 {
			out = append(out, word)
		}
	}
	return out
}
