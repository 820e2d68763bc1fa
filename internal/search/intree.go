package search

import (
	"sort"
	"strings"

	"flashrevise/api/internal/tree"
)

// InTree searches the current snapshot directly. It needs no external
// service and is the last fallback.
type InTree struct {
	snapshot func() *tree.Tree
}

func NewInTree(snapshot func() *tree.Tree) *InTree {
	return &InTree{snapshot: snapshot}
}

func (s *InTree) Healthy() bool {
	return true
}

// Search matches every word of the query case-insensitively against the
// front, expansion and trail. Front matches rank first.
func (s *InTree) Search(q Query) ([]Result, int, error) {
	q = normalizeQuery(q)
	words := strings.Fields(strings.ToLower(q.Text))
	if len(words) == 0 {
		return nil, 0, nil
	}

	type scored struct {
		result Result
		score  int
	}
	var hits []scored
	for _, r := range Records(s.snapshot()) {
		if q.FilterGoalID != "" && r.GoalID != q.FilterGoalID {
			continue
		}
		if q.MaxMastery >= 0 && r.Mastery > q.MaxMastery {
			continue
		}
		front, expansion, trail := strings.ToLower(r.Front), strings.ToLower(r.Expansion), strings.ToLower(r.Trail)
		score := 0
		matched := true
		for _, w := range words {
			switch {
			case strings.Contains(front, w):
				score += 3
			case strings.Contains(expansion, w):
				score += 2
			case strings.Contains(trail, w):
				score++
			default:
				matched = false
			}
			if !matched {
				break
			}
		}
		if matched {
			hits = append(hits, scored{result: r.result(snippet(r.Expansion, words[0])), score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	total := len(hits)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-q.Offset)
	for _, h := range hits[q.Offset:end] {
		results = append(results, h.result)
	}
	return results, total, nil
}

const snippetRadius = 60

// snippet cuts text around the first occurrence of word.
func snippet(text, word string) string {
	runes := []rune(text)
	if len(runes) <= 2*snippetRadius {
		return text
	}
	idx := strings.Index(strings.ToLower(text), word)
	if idx < 0 {
		return string(runes[:2*snippetRadius]) + "…"
	}
	center := len([]rune(text[:idx]))
	start := center - snippetRadius
	if start < 0 {
		start = 0
	}
	end := start + 2*snippetRadius
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}
