package localdir

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"flashrevise/api/internal/tree"
)

// Adapter persists snapshots into the directory stored under HandleKey.
type Adapter struct {
	caps     CapabilityStore
	prompter Prompter

	mu     sync.Mutex
	handle *Handle
}

func NewAdapter(caps CapabilityStore, prompter Prompter) *Adapter {
	return &Adapter{caps: caps, prompter: prompter}
}

func (a *Adapter) Name() string {
	return "localdir"
}

// Use replaces the directory the adapter writes to.
func (a *Adapter) Use(h *Handle) {
	a.mu.Lock()
	a.handle = h
	a.mu.Unlock()
}

// Handle returns the directory in use, loading it from the capability store
// on first call.
func (a *Adapter) Handle(ctx context.Context) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil {
		return a.handle, nil
	}
	h, err := a.caps.LoadHandle(ctx, HandleKey, a.prompter)
	if errors.Is(err, ErrNoHandle) {
		return nil, fmt.Errorf("%w: no directory selected", ErrPermissionDenied)
	}
	if err != nil {
		return nil, fmt.Errorf("load directory handle: %w", err)
	}
	a.handle = h
	return h, nil
}

// Restore reloads the stored handle at session start and verifies readwrite
// access on it. It reports false when no directory is stored or the user
// refuses access.
func (a *Adapter) Restore(ctx context.Context) (bool, error) {
	h, err := a.Handle(ctx)
	if errors.Is(err, ErrPermissionDenied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := VerifyPermission(ctx, h, true)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("localdir: readwrite on %s not granted", h.Name())
	}
	return ok, nil
}

func (a *Adapter) Push(ctx context.Context, t *tree.Tree) error {
	h, err := a.writable(ctx)
	if err != nil {
		return err
	}
	return SaveTree(ctx, h, t)
}

func (a *Adapter) Remove(ctx context.Context, segments []string) error {
	h, err := a.writable(ctx)
	if err != nil {
		return err
	}
	return DeleteItem(ctx, h, segments)
}

func (a *Adapter) Pull(ctx context.Context) (*tree.Tree, error) {
	h, err := a.Handle(ctx)
	if err != nil {
		return nil, err
	}
	return LoadTree(ctx, h)
}

func (a *Adapter) writable(ctx context.Context) (*Handle, error) {
	h, err := a.Handle(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := VerifyPermission(ctx, h, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: readwrite on %s", ErrPermissionDenied, h.Name())
	}
	return h, nil
}
