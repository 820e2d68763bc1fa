package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"flashrevise/api/internal/cloudblob"
	"flashrevise/api/internal/config"
	"flashrevise/api/internal/localdir"
	"flashrevise/api/internal/search"
	"flashrevise/api/internal/store"
	"flashrevise/api/internal/syncer"
	"flashrevise/api/internal/tree"
)

type fakeAdapter struct {
	name string

	mu      sync.Mutex
	pushes  []*tree.Tree
	removes [][]string
	stored  *tree.Tree
	pushErr error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Push(_ context.Context, t *tree.Tree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, t)
	if f.pushErr != nil {
		return f.pushErr
	}
	f.stored = t
	return nil
}

func (f *fakeAdapter) Pull(context.Context) (*tree.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored, nil
}

func (f *fakeAdapter) Remove(_ context.Context, segments []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, segments)
	return nil
}

type memState struct {
	mu    sync.Mutex
	state *store.AppState
	saves int
	err   error
}

func (m *memState) LoadState(context.Context) (store.AppState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return store.AppState{}, m.err
	}
	if m.state == nil {
		return store.AppState{}, store.ErrNoState
	}
	return *m.state, nil
}

func (m *memState) SaveState(_ context.Context, s store.AppState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.state = &s
	return nil
}

func newTestService(t *testing.T, adapters ...syncer.Adapter) (*Service, *memState) {
	t.Helper()
	state := &memState{}
	svc := New(config.Config{}, Deps{State: state, Adapters: adapters})
	t.Cleanup(svc.Close)
	return svc, state
}

// buildPath creates one goal down to a subtopic and returns its path.
func buildPath(t *testing.T, svc *Service) tree.Path {
	t.Helper()
	ctx := context.Background()
	g, err := svc.AddGoal(ctx, "Biology")
	if err != nil {
		t.Fatalf("AddGoal() error = %v", err)
	}
	s, err := svc.AddSubject(ctx, g.ID, "Cells")
	if err != nil {
		t.Fatalf("AddSubject() error = %v", err)
	}
	tp, err := svc.AddTopic(ctx, g.ID, s.ID, "Division")
	if err != nil {
		t.Fatalf("AddTopic() error = %v", err)
	}
	st, err := svc.AddSubtopic(ctx, g.ID, s.ID, tp.ID, "Mitosis")
	if err != nil {
		t.Fatalf("AddSubtopic() error = %v", err)
	}
	return tree.Path{GoalID: g.ID, SubjectID: s.ID, TopicID: tp.ID, SubtopicID: st.ID}
}

func TestMutationsPublishPersistAndSchedule(t *testing.T) {
	fa := &fakeAdapter{name: "fake"}
	svc, state := newTestService(t, fa)
	if err := svc.SelectAdapter("fake"); err != nil {
		t.Fatalf("SelectAdapter() error = %v", err)
	}

	before := svc.Snapshot()
	p := buildPath(t, svc)
	card, err := svc.AddFlashcard(context.Background(), p, tree.CardInput{Front: "Prophase", Expansion: "Chromatin condenses"})
	if err != nil {
		t.Fatalf("AddFlashcard() error = %v", err)
	}
	svc.sync.Wait()

	if len(before.Goals) != 0 {
		t.Fatal("earlier snapshot was modified")
	}
	if got := svc.Snapshot().Counts(); got.Total() != 5 {
		t.Fatalf("Counts() = %+v", got)
	}
	if len(fa.pushes) != 5 {
		t.Fatalf("pushes = %d, want one per mutation", len(fa.pushes))
	}
	if state.saves != 5 {
		t.Fatalf("saves = %d, want 5", state.saves)
	}
	if _, ok := state.state.Tree.Find(tree.LevelFlashcard, card.ID); !ok {
		t.Fatal("saved state misses the new card")
	}
	if st := svc.SyncStatus(); st.LastOutcome != syncer.OutcomeSuccess || st.Adapter != "fake" {
		t.Fatalf("SyncStatus() = %+v", st)
	}
}

func TestFailedMutationLeavesStateAlone(t *testing.T) {
	fa := &fakeAdapter{name: "fake"}
	svc, state := newTestService(t, fa)
	_ = svc.SelectAdapter("fake")

	before := svc.Snapshot()
	if _, err := svc.AddSubject(context.Background(), "missing", "Cells"); !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("AddSubject() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.AddGoal(context.Background(), "  "); !errors.Is(err, tree.ErrInvalidInput) {
		t.Fatalf("AddGoal(blank) error = %v, want ErrInvalidInput", err)
	}
	svc.sync.Wait()
	if svc.Snapshot() != before {
		t.Fatal("snapshot replaced after failed mutation")
	}
	if len(fa.pushes) != 0 || state.saves != 0 {
		t.Fatalf("pushes = %d, saves = %d", len(fa.pushes), state.saves)
	}
}

func TestDeleteMirrorsRemovalAndResetsCursor(t *testing.T) {
	fa := &fakeAdapter{name: "fake"}
	svc, _ := newTestService(t, fa)
	_ = svc.SelectAdapter("fake")
	ctx := context.Background()

	p := buildPath(t, svc)
	if _, err := svc.SetCursor(ctx, tree.Cursor{Type: tree.LevelSubtopic, ID: p.SubtopicID}); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}

	removed, err := svc.Delete(ctx, tree.LevelTopic, []string{p.GoalID, p.SubjectID, p.TopicID})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	svc.sync.Wait()

	if removed.Subtree.Topics != 1 || removed.Subtree.Subtopics != 1 {
		t.Fatalf("removed = %+v", removed.Subtree)
	}
	if !reflect.DeepEqual(fa.removes, [][]string{{"Biology", "Cells", "Division"}}) {
		t.Fatalf("removes = %v", fa.removes)
	}
	if c := svc.Cursor(); c != tree.Home() {
		t.Fatalf("cursor = %+v, want home", c)
	}
}

func TestDeleteRejectsMismatchedIDs(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Delete(context.Background(), tree.LevelTopic, []string{"g"}); !errors.Is(err, tree.ErrInvalidInput) {
		t.Fatalf("Delete() error = %v, want ErrInvalidInput", err)
	}
}

func TestSetCursorRejectsUnknownNode(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.SetCursor(context.Background(), tree.Cursor{Type: tree.LevelGoal, ID: "nope"}); !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("SetCursor() error = %v, want ErrNotFound", err)
	}
	if _, err := svc.SetCursor(context.Background(), tree.Cursor{Type: "planet", ID: "x"}); !errors.Is(err, tree.ErrInvalidInput) {
		t.Fatalf("SetCursor(bad level) error = %v, want ErrInvalidInput", err)
	}
	view, err := svc.SetCursor(context.Background(), tree.Cursor{Type: tree.LevelHome, ID: "ignored"})
	if err != nil || view.Cursor != tree.Home() {
		t.Fatalf("SetCursor(home) = %+v, %v", view, err)
	}
}

func TestBootstrapRestoresStateAndAdapter(t *testing.T) {
	tr := tree.Empty()
	tr, g, _ := tr.AddGoal("History")
	state := &memState{state: &store.AppState{Tree: tr, Cursor: tree.Cursor{Type: tree.LevelGoal, ID: g.ID}}}
	fa := &fakeAdapter{name: "fake"}
	svc := New(config.Config{Adapter: "fake"}, Deps{State: state, Adapters: []syncer.Adapter{fa}})
	defer svc.Close()

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if svc.Snapshot() != tr {
		t.Fatal("snapshot not restored")
	}
	if c := svc.Cursor(); c.ID != g.ID {
		t.Fatalf("cursor = %+v", c)
	}
	if svc.SyncStatus().Adapter != "fake" {
		t.Fatalf("adapter = %q", svc.SyncStatus().Adapter)
	}
}

func TestBootstrapDropsDanglingCursor(t *testing.T) {
	state := &memState{state: &store.AppState{Tree: tree.Empty(), Cursor: tree.Cursor{Type: tree.LevelTopic, ID: "gone"}}}
	svc := New(config.Config{}, Deps{State: state})
	defer svc.Close()
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if svc.Cursor() != tree.Home() {
		t.Fatalf("cursor = %+v", svc.Cursor())
	}
}

func TestBootstrapReportsStoreFailure(t *testing.T) {
	svc := New(config.Config{}, Deps{State: &memState{err: errors.New("connection refused")}})
	defer svc.Close()
	if err := svc.Bootstrap(context.Background()); err == nil {
		t.Fatal("expected Bootstrap() to fail")
	}
}

func TestSelectUnknownAdapter(t *testing.T) {
	svc, _ := newTestService(t, &fakeAdapter{name: "fake"})
	err := svc.SelectAdapter("ftp")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("SelectAdapter() error = %v", err)
	}
	if err := svc.SelectAdapter(config.AdapterNone); err != nil || svc.sync.Active() != nil {
		t.Fatalf("SelectAdapter(none) = %v, active %v", err, svc.sync.Active())
	}
}

func TestPullReplacesSnapshot(t *testing.T) {
	stored := tree.Empty()
	stored, _, _ = stored.AddGoal("Chemistry")
	fa := &fakeAdapter{name: "fake", stored: stored}
	svc, state := newTestService(t, fa)

	if _, err := svc.Pull(context.Background()); err == nil {
		t.Fatal("expected Pull() without adapter to fail")
	}
	_ = svc.SelectAdapter("fake")
	loaded, err := svc.Pull(context.Background())
	if err != nil || !loaded {
		t.Fatalf("Pull() = %v, %v", loaded, err)
	}
	if svc.Snapshot() != stored || state.saves != 1 {
		t.Fatalf("snapshot not replaced (saves %d)", state.saves)
	}
	if len(fa.pushes) != 0 {
		t.Fatal("pull pushed back to the adapter")
	}
}

func TestSyncNowReportsTransportErrors(t *testing.T) {
	fa := &fakeAdapter{name: "fake", pushErr: syncer.ErrTransport}
	svc, _ := newTestService(t, fa)
	_ = svc.SelectAdapter("fake")

	status, err := svc.SyncNow(context.Background())
	if !errors.Is(err, syncer.ErrTransport) {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if status.LastOutcome != syncer.OutcomeError || status.LastErrorKind != "transport" {
		t.Fatalf("status = %+v", status)
	}
}

type fixedSearcher []search.Result

func (f fixedSearcher) Healthy() bool { return true }

func (f fixedSearcher) Search(search.Query) ([]search.Result, int, error) {
	return append([]search.Result{}, f...), len(f), nil
}

func TestSearchDropsCardsMissingFromSnapshot(t *testing.T) {
	svc := New(config.Config{}, Deps{})
	defer svc.Close()
	p := buildPath(t, svc)
	card, _ := svc.AddFlashcard(context.Background(), p, tree.CardInput{Front: "Prophase", Expansion: "x"})

	svc.search = search.NewService(nil, fixedSearcher{{ID: "deleted-long-ago"}, {ID: card.ID}})
	resp := svc.Search(search.Query{Text: "prophase"})
	if len(resp.Results) != 1 || resp.Results[0].ID != card.ID || resp.Total != 1 {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestSearchFallsBackToSnapshot(t *testing.T) {
	svc := New(config.Config{}, Deps{})
	defer svc.Close()
	p := buildPath(t, svc)
	_, _ = svc.AddFlashcard(context.Background(), p, tree.CardInput{Front: "Prophase", Expansion: "Chromatin"})

	resp := svc.Search(search.Query{Text: "chromatin", MaxMastery: -1})
	if len(resp.Results) != 1 || resp.Results[0].Front != "Prophase" {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestLinkDirectoryEnablesLocalMirror(t *testing.T) {
	caps := localdir.NewMemoryCapabilities()
	ld := localdir.NewAdapter(caps, nil)
	svc := New(config.Config{}, Deps{LocalDir: ld, Capabilities: caps, Adapters: []syncer.Adapter{ld}})
	defer svc.Close()
	dir := t.TempDir()

	linked, err := svc.LinkDirectory(context.Background(), localdir.FixedPicker{}, nil)
	if err != nil || linked {
		t.Fatalf("LinkDirectory(cancel) = %v, %v", linked, err)
	}

	buildPath(t, svc)
	linked, err = svc.LinkDirectory(context.Background(), localdir.FixedPicker{Name: "cards", Root: dir}, nil)
	if err != nil || !linked {
		t.Fatalf("LinkDirectory() = %v, %v", linked, err)
	}
	svc.sync.Wait()

	if _, err := os.Stat(filepath.Join(dir, "app_data.json")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Biology", "Cells", "Division", "Mitosis", "flashcards.json")); err != nil {
		t.Fatalf("subtopic file missing: %v", err)
	}

	steps, err := svc.DiagnoseDirectory(context.Background())
	if err != nil || len(steps) == 0 || !steps[len(steps)-1].OK {
		t.Fatalf("DiagnoseDirectory() = %+v, %v", steps, err)
	}
}

func TestCloseAbandonsUnansweredDriveConsent(t *testing.T) {
	drive := cloudblob.NewDriveAuth("client", "secret", "http://localhost/api/auth/drive/callback")
	adapter := cloudblob.NewAdapter(config.AdapterDrive, cloudblob.NewAuthorizedDriveStore(drive), cloudblob.DefaultFile)
	svc := New(config.Config{}, Deps{Drive: drive, Adapters: []syncer.Adapter{adapter}})

	if _, err := svc.BeginDriveAuth(); err != nil {
		t.Fatalf("BeginDriveAuth() error = %v", err)
	}
	done := make(chan struct{})
	go func() {
		svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked on an unanswered consent")
	}
	if n := drive.Pending(); n != 0 {
		t.Fatalf("Pending() = %d after Close", n)
	}
}

func TestDeleteOfCollidingSiblingKeepsMirrorInStep(t *testing.T) {
	caps := localdir.NewMemoryCapabilities()
	ld := localdir.NewAdapter(caps, nil)
	h := localdir.NewHandle(localdir.Descriptor{Name: "cards", Root: "/cards"}, memfs.New(), nil)
	h.Grant(localdir.ModeReadWrite)
	ld.Use(h)
	svc := New(config.Config{}, Deps{LocalDir: ld, Capabilities: caps, Adapters: []syncer.Adapter{ld}})
	defer svc.Close()
	if err := svc.SelectAdapter(config.AdapterLocalDir); err != nil {
		t.Fatalf("SelectAdapter() error = %v", err)
	}
	ctx := context.Background()

	var first tree.Goal
	for i, title := range []string{"Math", "Math!"} {
		subtopic := []string{"Calculus", "Rings"}[i]
		g, err := svc.AddGoal(ctx, title)
		if err != nil {
			t.Fatalf("AddGoal() error = %v", err)
		}
		if i == 0 {
			first = g
		}
		sub, _ := svc.AddSubject(ctx, g.ID, "Algebra")
		tp, _ := svc.AddTopic(ctx, g.ID, sub.ID, "Groups")
		if _, err := svc.AddSubtopic(ctx, g.ID, sub.ID, tp.ID, subtopic); err != nil {
			t.Fatalf("AddSubtopic() error = %v", err)
		}
	}
	svc.sync.Wait()

	if _, err := svc.Delete(ctx, tree.LevelGoal, []string{first.ID}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	svc.sync.Wait()

	entries, err := h.FS().ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	if !reflect.DeepEqual(dirs, []string{"Math"}) {
		t.Fatalf("goal folders = %v, want [Math]", dirs)
	}
	if _, err := h.FS().Stat("Math/Algebra/Groups/Rings/flashcards.json"); err != nil {
		t.Fatalf("survivor subtopic missing: %v", err)
	}
	if _, err := h.FS().Stat("Math/Algebra/Groups/Calculus"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("deleted goal's subtopic still mirrored: %v", err)
	}
}

func TestDisabledFeaturesReportConflict(t *testing.T) {
	svc, _ := newTestService(t)
	for name, err := range map[string]error{
		"drive":    func() error { _, err := svc.BeginDriveAuth(); return err }(),
		"callback": svc.CompleteDriveAuth(context.Background(), "st", "code", ""),
		"localdir": func() error { _, err := svc.DiagnoseDirectory(context.Background()); return err }(),
		"sync":     func() error { _, err := svc.SyncNow(context.Background()); return err }(),
	} {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != http.StatusConflict {
			t.Fatalf("%s: error = %v, want 409 DomainError", name, err)
		}
	}
	if err := svc.SignOutDrive(context.Background()); err != nil {
		t.Fatalf("SignOutDrive() error = %v", err)
	}
}
