// Package localdir mirrors the flashcard tree into a user-granted directory
// as nested folders plus JSON files.
//
// Access goes through a *Handle: a directory capability whose read and
// readwrite grants live only as long as the handle object. A handle rebuilt
// from a persisted descriptor starts without grants and must be verified
// again before use.
package localdir

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"flashrevise/api/internal/syncer"
)

// Mode is the access a caller wants on a handle.
type Mode string

const (
	ModeRead      Mode = "read"
	ModeReadWrite Mode = "readwrite"
)

// PermissionState mirrors a directory permission query result.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

var (
	// ErrUserCancelled is returned by pickers when the user dismisses the dialog.
	ErrUserCancelled = syncer.ErrUserCancelled
	// ErrPermissionDenied is returned when a write is attempted without a grant.
	ErrPermissionDenied = syncer.ErrPermissionDenied
)

// Prompter asks the user to grant access to a directory.
type Prompter interface {
	Confirm(ctx context.Context, name string, mode Mode) (bool, error)
}

// Descriptor is the serialisable part of a handle.
type Descriptor struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

// Handle is a directory capability.
type Handle struct {
	desc     Descriptor
	fs       billy.Filesystem
	prompter Prompter

	mu     sync.Mutex
	grants map[Mode]PermissionState
}

// NewHandle wraps an existing filesystem. The handle starts in prompt state.
func NewHandle(desc Descriptor, fs billy.Filesystem, prompter Prompter) *Handle {
	return &Handle{
		desc:     desc,
		fs:       fs,
		prompter: prompter,
		grants:   make(map[Mode]PermissionState),
	}
}

// OpenHandle builds a handle over a directory on the host filesystem.
func OpenHandle(desc Descriptor, prompter Prompter) *Handle {
	if desc.Name == "" {
		desc.Name = desc.Root
	}
	return NewHandle(desc, osfs.New(desc.Root), prompter)
}

func (h *Handle) Name() string {
	return h.desc.Name
}

func (h *Handle) Descriptor() Descriptor {
	return h.desc
}

// FS exposes the underlying filesystem rooted at the handle's directory.
func (h *Handle) FS() billy.Filesystem {
	return h.fs
}

// Grant records a permission decision without asking, as a picker does for
// the directory the user just chose.
func (h *Handle) Grant(mode Mode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grants[mode] = PermissionGranted
	if mode == ModeReadWrite {
		h.grants[ModeRead] = PermissionGranted
	}
}

// QueryPermission reports the current grant without prompting.
func (h *Handle) QueryPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.grants[mode]
	if !ok {
		return PermissionPrompt, nil
	}
	return state, nil
}

// RequestPermission prompts the user when no grant is recorded. A denial is
// remembered for the life of the handle.
func (h *Handle) RequestPermission(ctx context.Context, mode Mode) (PermissionState, error) {
	state, err := h.QueryPermission(ctx, mode)
	if err != nil {
		return "", err
	}
	if state != PermissionPrompt {
		return state, nil
	}
	if h.prompter == nil {
		return PermissionDenied, nil
	}
	ok, err := h.prompter.Confirm(ctx, h.desc.Name, mode)
	if err != nil {
		return "", fmt.Errorf("request %s permission on %s: %w", mode, h.desc.Name, err)
	}
	if ok {
		h.Grant(mode)
		return PermissionGranted, nil
	}
	h.mu.Lock()
	h.grants[mode] = PermissionDenied
	h.mu.Unlock()
	return PermissionDenied, nil
}

// VerifyPermission checks the grant on h and prompts when needed. A plain
// refusal is reported as false with a nil error.
func VerifyPermission(ctx context.Context, h *Handle, readWrite bool) (bool, error) {
	mode := ModeRead
	if readWrite {
		mode = ModeReadWrite
	}
	state, err := h.QueryPermission(ctx, mode)
	if err != nil {
		return false, err
	}
	if state == PermissionGranted {
		return true, nil
	}
	state, err = h.RequestPermission(ctx, mode)
	if err != nil {
		return false, err
	}
	return state == PermissionGranted, nil
}

// StaticPrompter answers every prompt with the same decision.
type StaticPrompter bool

func (p StaticPrompter) Confirm(context.Context, string, Mode) (bool, error) {
	return bool(p), nil
}
