package session

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"flashrevise/api/internal/localdir"
	"flashrevise/api/internal/store"
	"flashrevise/api/internal/tree"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func TestNewRedisStore(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestLoadStateWhenEmpty(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if _, err := rs.LoadState(context.Background()); !errors.Is(err, store.ErrNoState) {
		t.Fatalf("LoadState() error = %v, want ErrNoState", err)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	tr := tree.Empty()
	tr, g, _ := tr.AddGoal("Biology")
	tr, sub, _ := tr.AddSubject(g.ID, "Cells")
	cursor := tree.Cursor{Type: tree.LevelSubject, ID: sub.ID}

	if err := rs.SaveState(ctx, store.AppState{Tree: tr, Cursor: cursor}); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	if !s.Exists("flashrevise:state") {
		t.Fatalf("expected key flashrevise:state, have %v", s.Keys())
	}

	got, err := rs.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if !reflect.DeepEqual(got.Tree, tr) {
		t.Errorf("tree mismatch: %+v", got.Tree)
	}
	if got.Cursor != cursor {
		t.Errorf("cursor = %+v, want %+v", got.Cursor, cursor)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestHandleRestoresWithoutGrants(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()
	dir := t.TempDir()

	h := localdir.OpenHandle(localdir.Descriptor{Name: "cards", Root: dir}, localdir.StaticPrompter(true))
	h.Grant(localdir.ModeReadWrite)
	if err := rs.SaveHandle(ctx, localdir.HandleKey, h); err != nil {
		t.Fatalf("SaveHandle failed: %v", err)
	}
	if !s.Exists("flashrevise:handle:" + localdir.HandleKey) {
		t.Fatalf("handle key missing, have %v", s.Keys())
	}

	restored, err := rs.LoadHandle(ctx, localdir.HandleKey, localdir.StaticPrompter(false))
	if err != nil {
		t.Fatalf("LoadHandle failed: %v", err)
	}
	if restored.Descriptor() != h.Descriptor() {
		t.Fatalf("descriptor = %+v", restored.Descriptor())
	}
	state, err := restored.QueryPermission(ctx, localdir.ModeReadWrite)
	if err != nil || state != localdir.PermissionPrompt {
		t.Fatalf("QueryPermission() = %s, %v; want prompt", state, err)
	}
	ok, err := localdir.VerifyPermission(ctx, restored, true)
	if err != nil || ok {
		t.Fatalf("VerifyPermission() = %v, %v; want denied", ok, err)
	}
}

func TestLoadMissingHandle(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	if _, err := rs.LoadHandle(ctx, "nope", nil); !errors.Is(err, localdir.ErrNoHandle) {
		t.Fatalf("LoadHandle() error = %v, want ErrNoHandle", err)
	}
	if err := rs.ForgetHandle(ctx, "nope"); err != nil {
		t.Fatalf("ForgetHandle() error = %v", err)
	}
}

func TestAdapterRestoresFromRedis(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	dir := t.TempDir()

	picker := localdir.FixedPicker{Name: "cards", Root: dir}
	if _, err := localdir.SelectDirectory(ctx, picker, rs, localdir.StaticPrompter(true)); err != nil {
		t.Fatalf("SelectDirectory failed: %v", err)
	}

	a := localdir.NewAdapter(rs, localdir.StaticPrompter(true))
	ok, err := a.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("Restore() = %v, %v", ok, err)
	}
}
