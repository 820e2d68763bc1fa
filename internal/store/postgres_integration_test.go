package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"flashrevise/api/internal/tree"
)

func openTestDB(t *testing.T) *PostgresState {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("FLASHREVISE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FLASHREVISE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresState(db)
}

func TestPostgresStateRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	if _, err := s.LoadState(ctx); !errors.Is(err, ErrNoState) {
		t.Fatalf("LoadState(empty) error = %v, want ErrNoState", err)
	}

	tr := tree.Empty()
	tr, g, _ := tr.AddGoal("Biology")
	tr, sub, _ := tr.AddSubject(g.ID, "Cells")
	tr, tp, _ := tr.AddTopic(g.ID, sub.ID, "Division")
	tr, st, _ := tr.AddSubtopic(g.ID, sub.ID, tp.ID, "Mitosis")
	tr, card, _ := tr.AddFlashcard(g.ID, sub.ID, tp.ID, st.ID, tree.CardInput{Front: "Prophase", Expansion: "Chromatin condenses"})
	cursor := tree.Cursor{Type: tree.LevelSubtopic, ID: st.ID}

	if err := s.SaveState(ctx, AppState{Tree: tr, Cursor: cursor}); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	got, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if !reflect.DeepEqual(got.Tree, tr) || got.Cursor != cursor || got.UpdatedAt.IsZero() {
		t.Fatalf("LoadState() = %+v", got)
	}

	var id string
	if err := s.DB().QueryRowContext(ctx, `SELECT id FROM flashcards WHERE fts @@ plainto_tsquery('simple', 'chromatin')`).Scan(&id); err != nil {
		t.Fatalf("query flashcards: %v", err)
	}
	if id != card.ID {
		t.Fatalf("flashcard id = %q, want %q", id, card.ID)
	}

	// saving a smaller tree replaces the indexed rows
	next, _, _ := tr.DeleteGoal(g.ID)
	if err := s.SaveState(ctx, AppState{Tree: next, Cursor: tree.Home()}); err != nil {
		t.Fatalf("SaveState(second) error = %v", err)
	}
	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT count(*) FROM flashcards`).Scan(&count); err != nil || count != 0 {
		t.Fatalf("flashcards count = %d, %v", count, err)
	}
}
