package search

import (
	"strings"

	"flashrevise/api/internal/tree"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string    `json:"id"`
	Front   string    `json:"front"`
	Snippet string    `json:"snippet"`
	Trail   string    `json:"trail"`
	Path    tree.Path `json:"path"`
	Mastery int       `json:"mastery"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterGoalID string
	// MaxMastery keeps only cards at or below this level; negative means no filter.
	MaxMastery int
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a flashcard.
type CardRecord struct {
	ID         string `json:"id"`
	Front      string `json:"front"`
	Expansion  string `json:"expansion"`
	Trail      string `json:"trail"`
	GoalID     string `json:"goalId"`
	SubjectID  string `json:"subjectId"`
	TopicID    string `json:"topicId"`
	SubtopicID string `json:"subtopicId"`
	Mastery    int    `json:"mastery"`
}

const trailSeparator = " / "

// Records lists every flashcard in t with its ancestry.
func Records(t *tree.Tree) []CardRecord {
	records := make([]CardRecord, 0)
	if t == nil {
		return records
	}
	for _, g := range t.Goals {
		for _, s := range g.Subjects {
			for _, tp := range s.Topics {
				for _, st := range tp.Subtopics {
					trail := strings.Join([]string{g.Title, s.Title, tp.Title, st.Title}, trailSeparator)
					for _, c := range st.Flashcards {
						records = append(records, CardRecord{
							ID:         c.ID,
							Front:      c.Front,
							Expansion:  c.Expansion,
							Trail:      trail,
							GoalID:     g.ID,
							SubjectID:  s.ID,
							TopicID:    tp.ID,
							SubtopicID: st.ID,
							Mastery:    c.Mastery,
						})
					}
				}
			}
		}
	}
	return records
}

func (r CardRecord) result(snippet string) Result {
	return Result{
		ID:      r.ID,
		Front:   r.Front,
		Snippet: snippet,
		Trail:   r.Trail,
		Path:    tree.Path{GoalID: r.GoalID, SubjectID: r.SubjectID, TopicID: r.TopicID, SubtopicID: r.SubtopicID},
		Mastery: r.Mastery,
	}
}

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
