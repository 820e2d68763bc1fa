package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestListMigrationsOrdersUpFiles(t *testing.T) {
	migrations, err := listMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("listMigrations() error = %v", err)
	}
	want := []string{"0001_app_state.up.sql", "0002_flashcards_fts.up.sql"}
	if len(migrations) != len(want) {
		t.Fatalf("listMigrations() = %+v", migrations)
	}
	for i, m := range migrations {
		if m.version != want[i] {
			t.Fatalf("migration %d = %s, want %s", i, m.version, want[i])
		}
	}

	if _, err := listMigrations(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}
