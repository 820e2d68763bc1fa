package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the flashcards table kept in step with
// the saved state by store.PostgresState.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; a Postgres outage surfaces as a query error.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search uses plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	q = normalizeQuery(q)

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	where := "f.fts @@ " + tsQuery
	if q.FilterGoalID != "" {
		args = append(args, q.FilterGoalID)
		where += fmt.Sprintf(" AND f.goal_id = $%d", len(args))
	}
	if q.MaxMastery >= 0 {
		args = append(args, q.MaxMastery)
		where += fmt.Sprintf(" AND f.mastery <= $%d", len(args))
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM flashcards f WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT f.id, f.front,
			ts_headline('simple', f.expansion, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			f.trail, f.goal_id, f.subject_id, f.topic_id, f.subtopic_id, f.mastery
		FROM flashcards f
		WHERE %s
		ORDER BY ts_rank(f.fts, %s) DESC, f.id
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, q.Limit, q.Offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r CardRecord
		var snippet string
		if err := rows.Scan(&r.ID, &r.Front, &snippet, &r.Trail, &r.GoalID, &r.SubjectID, &r.TopicID, &r.SubtopicID, &r.Mastery); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r.result(snippet))
	}
	return results, total, rows.Err()
}
