package localdir

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HandleKey is the stable key under which the selected directory is kept.
const HandleKey = "flashrevise_dir_handle"

// ErrNoHandle is returned by capability stores with nothing under a key.
var ErrNoHandle = errors.New("localdir: no directory handle stored")

// Picker asks the user for a directory. Implementations return
// ErrUserCancelled when the user backs out.
type Picker interface {
	Pick(ctx context.Context) (Descriptor, error)
}

// CapabilityStore keeps directory handles apart from ordinary application state.
type CapabilityStore interface {
	SaveHandle(ctx context.Context, key string, h *Handle) error
	LoadHandle(ctx context.Context, key string, prompter Prompter) (*Handle, error)
}

// MemoryCapabilities keeps the live handle objects, so grants survive for
// the life of the process.
type MemoryCapabilities struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewMemoryCapabilities() *MemoryCapabilities {
	return &MemoryCapabilities{handles: make(map[string]*Handle)}
}

func (m *MemoryCapabilities) SaveHandle(_ context.Context, key string, h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[key] = h
	return nil
}

func (m *MemoryCapabilities) LoadHandle(_ context.Context, key string, _ Prompter) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[key]
	if !ok {
		return nil, ErrNoHandle
	}
	return h, nil
}

// SelectDirectory asks picker for a directory, grants readwrite on it and
// stores it under HandleKey. A cancelled pick yields (nil, nil).
func SelectDirectory(ctx context.Context, picker Picker, caps CapabilityStore, prompter Prompter) (*Handle, error) {
	desc, err := picker.Pick(ctx)
	if errors.Is(err, ErrUserCancelled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick directory: %w", err)
	}
	h := OpenHandle(desc, prompter)
	h.Grant(ModeReadWrite)
	if err := caps.SaveHandle(ctx, HandleKey, h); err != nil {
		return nil, fmt.Errorf("store directory handle: %w", err)
	}
	return h, nil
}

// FixedPicker always picks the same directory; an empty root counts as a
// cancelled pick.
type FixedPicker Descriptor

func (p FixedPicker) Pick(ctx context.Context) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}
	if p.Root == "" {
		return Descriptor{}, ErrUserCancelled
	}
	return Descriptor(p), nil
}
