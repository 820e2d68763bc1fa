package search

import (
	"log"
	"sync"

	"flashrevise/api/internal/tree"
)

// Service is the facade that tries Meilisearch first and then each
// fallback in order.
type Service struct {
	meili     *Meili
	fallbacks []Searcher

	mu      sync.Mutex
	indexed map[string]struct{}
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured. Nil fallbacks are skipped.
func NewService(meili *Meili, fallbacks ...Searcher) *Service {
	s := &Service{meili: meili, indexed: make(map[string]struct{})}
	for _, f := range fallbacks {
		if f != nil {
			s.fallbacks = append(s.fallbacks, f)
		}
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}

	for _, f := range s.fallbacks {
		if !f.Healthy() {
			continue
		}
		results, total, err := f.Search(q)
		if err != nil {
			log.Printf("search: fallback %T error: %v", f, err)
			continue
		}
		return Response{Results: nonNil(results), Total: total, Query: q.Text}
	}
	return Response{Results: []Result{}, Total: 0, Query: q.Text}
}

// Healthy reports whether the primary index is reachable.
func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Reindex brings the Meilisearch index in line with t (fire-and-forget):
// every card is upserted and cards indexed earlier but now gone are deleted.
func (s *Service) Reindex(t *tree.Tree) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	records := Records(t)
	stale := s.swapIndexed(records)
	go func() {
		if err := s.meili.IndexCards(records); err != nil {
			log.Printf("search: index %d cards: %v", len(records), err)
		}
		if err := s.meili.DeleteCards(stale); err != nil {
			log.Printf("search: delete %d cards: %v", len(stale), err)
		}
	}()
}

func (s *Service) swapIndexed(records []CardRecord) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]struct{}, len(records))
	for _, r := range records {
		next[r.ID] = struct{}{}
	}
	var stale []string
	for id := range s.indexed {
		if _, ok := next[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.indexed = next
	return stale
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
