package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"flashrevise/api/internal/cloudblob"
	"flashrevise/api/internal/config"
	"flashrevise/api/internal/localdir"
	"flashrevise/api/internal/search"
	"flashrevise/api/internal/store"
	"flashrevise/api/internal/syncer"
	"flashrevise/api/internal/tree"
)

// StateStore persists the snapshot and cursor between runs.
type StateStore interface {
	LoadState(context.Context) (store.AppState, error)
	SaveState(context.Context, store.AppState) error
}

type Pinger interface {
	Ping(context.Context) error
}

// Deps are the optional collaborators of a Service. Nil fields disable the
// feature they back.
type Deps struct {
	State    StateStore
	Sync     *syncer.Orchestrator
	Adapters []syncer.Adapter
	LocalDir *localdir.Adapter
	// Capabilities receives directories linked through the API.
	Capabilities localdir.CapabilityStore
	Drive        *cloudblob.DriveAuth
	// Meili and Fallbacks feed the search facade; the in-tree searcher is
	// always appended last.
	Meili     *search.Meili
	Fallbacks []search.Searcher
	// Checks are reported by /api/ready.
	Checks map[string]Pinger
}

// Service is the application context: it owns the current snapshot and
// cursor and drives persistence, search and sync after each change.
type Service struct {
	cfg      config.Config
	state    StateStore
	sync     *syncer.Orchestrator
	adapters map[string]syncer.Adapter
	localdir *localdir.Adapter
	caps     localdir.CapabilityStore
	drive    *cloudblob.DriveAuth
	search   *search.Service
	checks   map[string]Pinger

	// write serialises mutations; mu guards the fields below.
	write  sync.Mutex
	mu     sync.RWMutex
	tree   *tree.Tree
	cursor tree.Cursor
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		state:    deps.State,
		sync:     deps.Sync,
		adapters: make(map[string]syncer.Adapter),
		localdir: deps.LocalDir,
		caps:     deps.Capabilities,
		drive:    deps.Drive,
		checks:   deps.Checks,
		tree:     tree.Empty(),
		cursor:   tree.Home(),
	}
	if s.sync == nil {
		s.sync = syncer.New(context.Background())
	}
	if s.caps == nil {
		s.caps = localdir.NewMemoryCapabilities()
	}
	for _, a := range deps.Adapters {
		if a != nil {
			s.adapters[a.Name()] = a
		}
	}
	fallbacks := append(append([]search.Searcher{}, deps.Fallbacks...), search.NewInTree(s.Snapshot))
	s.search = search.NewService(deps.Meili, fallbacks...)
	return s
}

// Bootstrap loads the saved state, selects the configured adapter and
// restores a stored directory handle.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.state != nil {
		state, err := s.state.LoadState(ctx)
		switch {
		case errors.Is(err, store.ErrNoState):
		case err != nil:
			return fmt.Errorf("load state: %w", err)
		default:
			s.mu.Lock()
			if state.Tree != nil {
				s.tree = state.Tree
			}
			s.cursor = validCursor(s.tree, state.Cursor)
			s.mu.Unlock()
		}
	}

	if name := s.cfg.Adapter; name != "" && name != config.AdapterNone {
		if err := s.SelectAdapter(name); err != nil {
			return err
		}
	}
	if s.localdir != nil && s.sync.Active() == syncer.Adapter(s.localdir) {
		ok, err := s.localdir.Restore(ctx)
		if err != nil {
			log.Printf("localdir: restore handle: %v", err)
		} else if !ok {
			log.Printf("localdir: no usable directory, pick one with link-dir")
		}
	}
	s.search.Reindex(s.Snapshot())
	return nil
}

func (s *Service) Snapshot() *tree.Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

func (s *Service) Cursor() tree.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// View is the resolved cursor together with the snapshot it was resolved on.
type View struct {
	Cursor   tree.Cursor   `json:"cursor"`
	Location tree.Location `json:"location"`
}

func (s *Service) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, _ := s.tree.Resolve(s.cursor)
	return View{Cursor: s.cursor, Location: loc}
}

// SetCursor moves navigation to c. A cursor naming a missing node is rejected.
func (s *Service) SetCursor(ctx context.Context, c tree.Cursor) (View, error) {
	if c.Type == "" {
		c.Type = tree.LevelHome
	}
	if _, err := tree.ParseLevel(string(c.Type)); err != nil {
		return View{}, err
	}
	s.write.Lock()
	defer s.write.Unlock()

	s.mu.Lock()
	loc, ok := s.tree.Resolve(c)
	if !ok {
		s.mu.Unlock()
		return View{}, fmt.Errorf("cursor %s %s: %w", c.Type, c.ID, tree.ErrNotFound)
	}
	if c.Type == tree.LevelHome {
		c.ID = ""
	}
	s.cursor = c
	t := s.tree
	s.mu.Unlock()

	s.persist(ctx, t, c)
	return View{Cursor: c, Location: loc}, nil
}

func (s *Service) AddGoal(ctx context.Context, title string) (tree.Goal, error) {
	var goal tree.Goal
	err := s.mutate(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		next, g, err := t.AddGoal(title)
		goal = g
		return next, err
	})
	return goal, err
}

func (s *Service) AddSubject(ctx context.Context, goalID, title string) (tree.Subject, error) {
	var subject tree.Subject
	err := s.mutate(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		next, item, err := t.AddSubject(goalID, title)
		subject = item
		return next, err
	})
	return subject, err
}

func (s *Service) AddTopic(ctx context.Context, goalID, subjectID, title string) (tree.Topic, error) {
	var topic tree.Topic
	err := s.mutate(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		next, item, err := t.AddTopic(goalID, subjectID, title)
		topic = item
		return next, err
	})
	return topic, err
}

func (s *Service) AddSubtopic(ctx context.Context, goalID, subjectID, topicID, title string) (tree.Subtopic, error) {
	var subtopic tree.Subtopic
	err := s.mutate(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		next, item, err := t.AddSubtopic(goalID, subjectID, topicID, title)
		subtopic = item
		return next, err
	})
	return subtopic, err
}

func (s *Service) AddFlashcard(ctx context.Context, p tree.Path, in tree.CardInput) (tree.Flashcard, error) {
	var card tree.Flashcard
	err := s.mutate(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		next, item, err := t.AddFlashcard(p.GoalID, p.SubjectID, p.TopicID, p.SubtopicID, in)
		card = item
		return next, err
	})
	return card, err
}

func (s *Service) SetMastery(ctx context.Context, p tree.Path, cardID string, level int) (tree.Flashcard, error) {
	var card tree.Flashcard
	err := s.mutate(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		next, item, err := t.SetMastery(p, cardID, level)
		card = item
		return next, err
	})
	return card, err
}

// Delete removes the node at level addressed by ids (outermost first,
// ending with the node's own id) and mirrors the removal to the adapter.
func (s *Service) Delete(ctx context.Context, level tree.Level, ids []string) (tree.Removed, error) {
	var removed tree.Removed
	schedule := func(next *tree.Tree) { s.sync.ScheduleDelete(next, removed.Segments) }
	err := s.apply(ctx, func(t *tree.Tree) (*tree.Tree, error) {
		var (
			next *tree.Tree
			err  error
		)
		switch {
		case level == tree.LevelGoal && len(ids) == 1:
			next, removed, err = t.DeleteGoal(ids[0])
		case level == tree.LevelSubject && len(ids) == 2:
			next, removed, err = t.DeleteSubject(ids[0], ids[1])
		case level == tree.LevelTopic && len(ids) == 3:
			next, removed, err = t.DeleteTopic(ids[0], ids[1], ids[2])
		case level == tree.LevelSubtopic && len(ids) == 4:
			next, removed, err = t.DeleteSubtopic(ids[0], ids[1], ids[2], ids[3])
		case level == tree.LevelFlashcard && len(ids) == 5:
			next, removed, err = t.DeleteFlashcard(ids[0], ids[1], ids[2], ids[3], ids[4])
		default:
			return t, fmt.Errorf("delete %s: %w", level, tree.ErrInvalidInput)
		}
		return next, err
	}, schedule)
	if err != nil {
		return tree.Removed{}, err
	}
	return removed, nil
}

// mutate applies fn to the current snapshot. On success the new snapshot is
// published, persisted, reindexed and scheduled for sync.
func (s *Service) mutate(ctx context.Context, fn func(*tree.Tree) (*tree.Tree, error)) error {
	return s.apply(ctx, fn, s.sync.Schedule)
}

func (s *Service) apply(ctx context.Context, fn func(*tree.Tree) (*tree.Tree, error), schedule func(*tree.Tree)) error {
	s.write.Lock()
	defer s.write.Unlock()

	next, err := fn(s.Snapshot())
	if err != nil {
		return err
	}
	cursor := s.publish(next)
	s.persist(ctx, next, cursor)
	s.search.Reindex(next)
	schedule(next)
	return nil
}

// publish swaps in t and moves a cursor that no longer resolves back home.
func (s *Service) publish(t *tree.Tree) tree.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = t
	s.cursor = validCursor(t, s.cursor)
	return s.cursor
}

func (s *Service) persist(ctx context.Context, t *tree.Tree, c tree.Cursor) {
	if s.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.state.SaveState(ctx, store.AppState{Tree: t, Cursor: c}); err != nil {
		log.Printf("state: save: %v", err)
	}
}

func validCursor(t *tree.Tree, c tree.Cursor) tree.Cursor {
	if _, ok := t.Resolve(c); !ok {
		return tree.Home()
	}
	if c.Type == "" {
		return tree.Home()
	}
	return c
}

// SelectAdapter makes the named adapter active. "none" disables syncing.
func (s *Service) SelectAdapter(name string) error {
	if name == config.AdapterNone {
		s.sync.Select(nil)
		return nil
	}
	a, ok := s.adapters[name]
	if !ok {
		return domainError(http.StatusUnprocessableEntity, "UNKNOWN_ADAPTER", fmt.Sprintf("adapter %q is not configured", name), map[string]any{"available": s.AdapterNames()})
	}
	s.sync.Select(a)
	return nil
}

func (s *Service) AdapterNames() []string {
	names := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) SyncStatus() syncer.Status {
	return s.sync.Status()
}

// SyncNow pushes the current snapshot and waits for the outcome.
func (s *Service) SyncNow(ctx context.Context) (syncer.Status, error) {
	if s.sync.Active() == nil {
		return syncer.Status{}, errNoAdapter()
	}
	err := s.sync.SyncNow(ctx, s.Snapshot())
	return s.sync.Status(), err
}

// Pull replaces the current snapshot with the one stored by the active
// adapter. It reports false when the adapter holds nothing yet.
func (s *Service) Pull(ctx context.Context) (bool, error) {
	if s.sync.Active() == nil {
		return false, errNoAdapter()
	}
	t, err := s.sync.Pull(ctx)
	if err != nil || t == nil {
		return false, err
	}

	s.write.Lock()
	defer s.write.Unlock()
	cursor := s.publish(t)
	s.persist(ctx, t, cursor)
	s.search.Reindex(t)
	return true, nil
}

// Search runs q and drops hits whose card no longer exists in the snapshot.
func (s *Service) Search(q search.Query) search.Response {
	resp := s.search.Search(q)
	t := s.Snapshot()
	kept := resp.Results[:0]
	for _, r := range resp.Results {
		if _, ok := t.Find(tree.LevelFlashcard, r.ID); ok {
			kept = append(kept, r)
			continue
		}
		resp.Total--
	}
	resp.Results = kept
	return resp
}

// BeginDriveAuth starts the consent flow and arranges for the snapshot to be
// pushed once the user has granted access.
func (s *Service) BeginDriveAuth() (*cloudblob.PendingAuth, error) {
	if s.drive == nil {
		return nil, errDisabled("DRIVE_DISABLED", "Google Drive")
	}
	pending := s.drive.BeginAuth()
	if err := s.SelectAdapter(config.AdapterDrive); err != nil {
		return nil, err
	}
	s.sync.SyncWhenReady(pending, s.Snapshot)
	return pending, nil
}

func (s *Service) CompleteDriveAuth(ctx context.Context, state, code, denied string) error {
	if s.drive == nil {
		return errDisabled("DRIVE_DISABLED", "Google Drive")
	}
	if denied != "" {
		return s.drive.Deny(state, denied)
	}
	return s.drive.CompleteAuth(ctx, state, code)
}

func (s *Service) SignOutDrive(ctx context.Context) error {
	if s.drive == nil {
		return nil
	}
	return s.drive.SignOut(ctx)
}

func (s *Service) DriveAuthenticated() bool {
	return s.drive != nil && s.drive.Authenticated()
}

// LinkDirectory records root as the mirrored directory and selects the
// localdir adapter. A blank root counts as a cancelled pick.
func (s *Service) LinkDirectory(ctx context.Context, picker localdir.Picker, prompter localdir.Prompter) (bool, error) {
	if s.localdir == nil {
		return false, errDisabled("LOCALDIR_DISABLED", "Local directory sync")
	}
	h, err := localdir.SelectDirectory(ctx, picker, s.caps, prompter)
	if err != nil || h == nil {
		return false, err
	}
	s.localdir.Use(h)
	if err := s.SelectAdapter(config.AdapterLocalDir); err != nil {
		return false, err
	}
	s.sync.Schedule(s.Snapshot())
	return true, nil
}

// DiagnoseDirectory runs the write/read probe on the linked directory.
func (s *Service) DiagnoseDirectory(ctx context.Context) ([]localdir.Step, error) {
	if s.localdir == nil {
		return nil, errDisabled("LOCALDIR_DISABLED", "Local directory sync")
	}
	h, err := s.localdir.Handle(ctx)
	if err != nil {
		return nil, err
	}
	return localdir.Diagnose(ctx, h), nil
}

// Ping runs every readiness check and returns the failures by name.
func (s *Service) Ping(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (s *Service) SearchHealthy() bool {
	return s.search.Healthy()
}

// Close cancels unanswered Drive consents, waits for in-flight syncs and
// stops background workers.
func (s *Service) Close() {
	if s.drive != nil {
		s.drive.Close()
	}
	s.sync.Close()
	s.search.Close()
}
