package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flashrevise/api/internal/search"
	"flashrevise/api/internal/tree"
)

// PostgresState keeps the single application state row and a flat
// flashcards table that search.PgFTS queries.
type PostgresState struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresState(db *sql.DB) *PostgresState {
	return &PostgresState{db: db, now: time.Now}
}

func (s *PostgresState) DB() *sql.DB {
	return s.db
}

func (s *PostgresState) LoadState(ctx context.Context) (AppState, error) {
	var treeJSON, cursorJSON []byte
	var state AppState
	err := s.db.QueryRowContext(ctx, `SELECT tree, cursor, updated_at FROM app_state WHERE id = 1`).
		Scan(&treeJSON, &cursorJSON, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AppState{}, ErrNoState
	}
	if err != nil {
		return AppState{}, fmt.Errorf("load app state: %w", err)
	}

	t, err := tree.ParseManifest(treeJSON)
	if err != nil {
		return AppState{}, fmt.Errorf("decode tree: %w", err)
	}
	state.Tree = t
	if err := json.Unmarshal(cursorJSON, &state.Cursor); err != nil {
		return AppState{}, fmt.Errorf("decode cursor: %w", err)
	}
	return state, nil
}

// SaveState replaces the stored state and rewrites the flashcards table in
// one transaction.
func (s *PostgresState) SaveState(ctx context.Context, state AppState) error {
	treeJSON, err := tree.MarshalManifest(state.Tree)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	cursorJSON, err := json.Marshal(state.Cursor)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO app_state (id, tree, cursor, updated_at)
		VALUES (1, $1::jsonb, $2::jsonb, $3)
		ON CONFLICT (id) DO UPDATE SET tree = EXCLUDED.tree, cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at
	`, string(treeJSON), string(cursorJSON), updatedAt); err != nil {
		return fmt.Errorf("upsert app state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM flashcards`); err != nil {
		return fmt.Errorf("clear flashcards: %w", err)
	}
	const insertCard = `
		INSERT INTO flashcards (id, goal_id, subject_id, topic_id, subtopic_id, front, expansion, trail, mastery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, r := range search.Records(state.Tree) {
		if _, err := tx.ExecContext(ctx, insertCard, r.ID, r.GoalID, r.SubjectID, r.TopicID, r.SubtopicID, r.Front, r.Expansion, r.Trail, r.Mastery); err != nil {
			return fmt.Errorf("insert flashcard %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}
