// Package syncer persists every new tree snapshot to the one active adapter
// and tracks the outcome.
//
// Pushes are fire-and-forget and never queued or coalesced. Overlapping
// pushes may finish in any order; each carries a full snapshot, so whichever
// completes last is what the backend holds.
package syncer

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"flashrevise/api/internal/tree"
)

// Adapter is a persistence backend.
type Adapter interface {
	Name() string
	Push(ctx context.Context, t *tree.Tree) error
	Pull(ctx context.Context) (*tree.Tree, error)
}

// Remover is implemented by adapters that store one path per branch and
// must drop it when the branch is deleted.
type Remover interface {
	Remove(ctx context.Context, segments []string) error
}

// Awaiter is a one-shot completion such as a pending OAuth grant.
type Awaiter interface {
	Wait(ctx context.Context) error
}

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Status is the shared per-adapter sync state.
type Status struct {
	Adapter       string     `json:"adapter"`
	State         State      `json:"state"`
	InFlight      int        `json:"inFlight"`
	LastOutcome   Outcome    `json:"lastOutcome,omitempty"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	LastErrorKind string     `json:"lastErrorKind,omitempty"`
	LastErrorAt   *time.Time `json:"lastErrorAt,omitempty"`
}

type Orchestrator struct {
	base      context.Context
	waits     context.Context
	stopWaits context.CancelFunc
	now       func() time.Time

	mu     sync.Mutex
	active Adapter
	status Status

	wg sync.WaitGroup
}

// New returns an orchestrator with no active adapter. Background pushes run
// under base with its cancellation detached, so shutting down a request
// never aborts a sync.
func New(base context.Context) *Orchestrator {
	if base == nil {
		base = context.Background()
	}
	o := &Orchestrator{
		base:   context.WithoutCancel(base),
		now:    time.Now,
		status: Status{State: StateIdle},
	}
	o.waits, o.stopWaits = context.WithCancel(o.base)
	return o
}

// Select makes a the active adapter. A nil adapter disables syncing.
func (o *Orchestrator) Select(a Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = a
	o.status = Status{State: StateIdle, InFlight: o.status.InFlight}
	if a != nil {
		o.status.Adapter = a.Name()
	}
	if o.status.InFlight > 0 {
		o.status.State = StateSyncing
	}
}

func (o *Orchestrator) Active() Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Schedule launches one background push of t to the active adapter and
// returns immediately.
func (o *Orchestrator) Schedule(t *tree.Tree) {
	a := o.begin()
	if a == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.finish(a, a.Push(o.base, t))
	}()
}

// ScheduleDelete pushes t after a branch was deleted from it. Adapters that
// keep one path per branch drop segments first, inside the same background
// sync, so the removal cannot land after the push that rewrites renamed
// siblings.
func (o *Orchestrator) ScheduleDelete(t *tree.Tree, segments []string) {
	a := o.begin()
	if a == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if r, ok := a.(Remover); ok && len(segments) > 0 {
			if err := r.Remove(o.base, segments); err != nil && !expected(err) {
				log.Printf("sync: %s: remove %s: %v", a.Name(), strings.Join(segments, "/"), err)
			}
		}
		o.finish(a, a.Push(o.base, t))
	}()
}

// SyncNow pushes t and waits for the result. It is the user-initiated
// retry; expected conditions are not returned as errors.
func (o *Orchestrator) SyncNow(ctx context.Context, t *tree.Tree) error {
	a := o.begin()
	if a == nil {
		return nil
	}
	err := a.Push(ctx, t)
	o.finish(a, err)
	if expected(err) {
		return nil
	}
	return err
}

// SyncWhenReady waits on ready in the background and then pushes the
// snapshot current at that moment. Close abandons the wait.
func (o *Orchestrator) SyncWhenReady(ready Awaiter, snapshot func() *tree.Tree) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := ready.Wait(o.waits); err != nil {
			if o.waits.Err() != nil {
				log.Printf("sync: stopped waiting for authorization")
				return
			}
			if a := o.Active(); a != nil && !expected(err) {
				o.begin()
				o.finish(a, err)
			}
			log.Printf("sync: wait for authorization: %v", err)
			return
		}
		a := o.begin()
		if a == nil {
			return
		}
		o.finish(a, a.Push(o.base, snapshot()))
	}()
}

// Pull loads the stored tree from the active adapter. Nothing stored yet
// yields (nil, nil).
func (o *Orchestrator) Pull(ctx context.Context) (*tree.Tree, error) {
	a := o.Active()
	if a == nil {
		return nil, nil
	}
	t, err := a.Pull(ctx)
	if expected(err) {
		return nil, nil
	}
	if err != nil {
		o.begin()
		o.finish(a, err)
		return nil, err
	}
	return t, nil
}

// Wait blocks until every background sync has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close abandons pending SyncWhenReady waits and then waits for the pushes
// already running.
func (o *Orchestrator) Close() {
	o.stopWaits()
	o.wg.Wait()
}

func (o *Orchestrator) begin() Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	o.status.InFlight++
	o.status.State = StateSyncing
	return o.active
}

func (o *Orchestrator) finish(a Adapter, err error) {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.InFlight--
	if o.status.InFlight <= 0 {
		o.status.InFlight = 0
		o.status.State = StateIdle
	}
	if o.active != a {
		// adapter was switched while this sync ran
		return
	}
	switch {
	case err == nil:
		o.status.LastOutcome = OutcomeSuccess
		o.status.LastSyncedAt = &now
		o.status.LastError = ""
		o.status.LastErrorKind = ""
		o.status.LastErrorAt = nil
	case expected(err):
		o.status.LastOutcome = OutcomeSkipped
	default:
		o.status.LastOutcome = OutcomeError
		o.status.LastError = err.Error()
		o.status.LastErrorKind = Kind(err)
		o.status.LastErrorAt = &now
		log.Printf("sync: %s: %v", a.Name(), err)
	}
}
