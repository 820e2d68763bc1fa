package localdir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"flashrevise/api/internal/syncer"
	"flashrevise/api/internal/tree"
)

const (
	probeFile = ".flashrevise_probe.txt"
	dirPerm   = 0o755
	filePerm  = 0o644

	// goal, subject, topic, subtopic
	folderDepth = 4
)

// SaveTree writes app_data.json and then one folder per goal, subject, topic
// and subtopic with a flashcards.json in every subtopic folder. A failure
// part way through leaves everything written so far in place. After a full
// write, folders the tree no longer lays out are pruned when they hold
// nothing but folders and flashcards.json files.
func SaveTree(ctx context.Context, h *Handle, t *tree.Tree) error {
	if err := requireWrite(ctx, h); err != nil {
		return err
	}
	manifest, err := tree.MarshalManifest(t)
	if err != nil {
		return err
	}
	if err := util.WriteFile(h.fs, tree.ManifestFile, manifest, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", tree.ManifestFile, err)
	}

	var walkErr error
	keep := make(map[string]struct{})
	tree.Walk(t, func(segments []string, level tree.Level, st *tree.Subtopic) {
		if walkErr != nil {
			return
		}
		if err := ctx.Err(); err != nil {
			walkErr = err
			return
		}
		dir := h.fs.Join(segments...)
		keep[dir] = struct{}{}
		if err := h.fs.MkdirAll(dir, dirPerm); err != nil {
			walkErr = fmt.Errorf("%w: create folder %s: %v", syncer.ErrPartialWrite, dir, err)
			return
		}
		if level != tree.LevelSubtopic {
			return
		}
		cards, err := tree.MarshalFlashcards(st.Flashcards)
		if err != nil {
			walkErr = err
			return
		}
		file := h.fs.Join(dir, tree.FlashcardsFile)
		if err := util.WriteFile(h.fs, file, cards, filePerm); err != nil {
			walkErr = fmt.Errorf("%w: write %s: %v", syncer.ErrPartialWrite, file, err)
		}
	})
	if walkErr != nil {
		return walkErr
	}
	return pruneStale(h.fs, keep, ".", 1)
}

// pruneStale removes folders below dir, down to subtopic depth, that are not
// in keep. Hidden entries and folders holding other files are left alone.
func pruneStale(fs billy.Filesystem, keep map[string]struct{}, dir string, depth int) error {
	if depth > folderDepth {
		return nil
	}
	entries, err := fs.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := fs.Join(dir, entry.Name())
		if _, ok := keep[path]; ok {
			if err := pruneStale(fs, keep, path, depth+1); err != nil {
				return err
			}
			continue
		}
		owned, err := onlyFlashcards(fs, path)
		if err != nil {
			return err
		}
		if !owned {
			continue
		}
		if err := util.RemoveAll(fs, path); err != nil {
			return fmt.Errorf("%w: prune %s: %v", syncer.ErrPartialWrite, path, err)
		}
	}
	return nil
}

func onlyFlashcards(fs billy.Filesystem, dir string) (bool, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("list %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			if entry.Name() != tree.FlashcardsFile {
				return false, nil
			}
			continue
		}
		if entry.Name() == "." || entry.Name() == ".." {
			continue
		}
		owned, err := onlyFlashcards(fs, fs.Join(dir, entry.Name()))
		if err != nil || !owned {
			return false, err
		}
	}
	return true, nil
}

// LoadTree reads app_data.json back. A directory without one holds nothing
// yet and yields (nil, nil).
func LoadTree(ctx context.Context, h *Handle) (*tree.Tree, error) {
	ok, err := VerifyPermission(ctx, h, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPermissionDenied
	}
	data, err := readFile(h.fs, tree.ManifestFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tree.ManifestFile, err)
	}
	return tree.ParseManifest(data)
}

// DeleteItem removes the folder at segments and everything below it. Titles
// are sanitized first. A missing folder anywhere on the path means the item
// is already gone.
func DeleteItem(ctx context.Context, h *Handle, segments []string) error {
	if err := requireWrite(ctx, h); err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("delete item: empty path")
	}
	names := sanitized(segments)
	for i := 1; i < len(names); i++ {
		parent := h.fs.Join(names[:i]...)
		if _, err := h.fs.Stat(parent); errors.Is(err, os.ErrNotExist) {
			return nil
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", parent, err)
		}
	}
	target := h.fs.Join(names...)
	if _, err := h.fs.Stat(target); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := util.RemoveAll(h.fs, target); err != nil {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	return nil
}

// CreateItem makes every folder along segments and returns a handle on the
// deepest one. The child handle shares the parent's grants at creation time.
func CreateItem(ctx context.Context, h *Handle, segments []string) (*Handle, error) {
	if err := requireWrite(ctx, h); err != nil {
		return nil, err
	}
	names := sanitized(segments)
	dir := h.fs.Join(names...)
	if err := h.fs.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create folder %s: %w", dir, err)
	}
	sub, err := h.fs.Chroot(dir)
	if err != nil {
		return nil, fmt.Errorf("open folder %s: %w", dir, err)
	}
	child := NewHandle(Descriptor{Name: names[len(names)-1], Root: h.fs.Join(h.desc.Root, dir)}, sub, h.prompter)
	h.mu.Lock()
	for mode, state := range h.grants {
		child.grants[mode] = state
	}
	h.mu.Unlock()
	return child, nil
}

// Step is one line of a Diagnose report.
type Step struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Diagnose exercises the handle end to end: permission, write, read back,
// compare, delete. It stops at the first failing step and returns the steps
// that ran, in order.
func Diagnose(ctx context.Context, h *Handle) []Step {
	var steps []Step
	record := func(name string, err error, detail string) bool {
		step := Step{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			step.Detail = err.Error()
		}
		steps = append(steps, step)
		return err == nil
	}

	granted, err := VerifyPermission(ctx, h, true)
	if err == nil && !granted {
		err = ErrPermissionDenied
	}
	if !record("permission", err, "readwrite granted on "+h.Name()) {
		return steps
	}

	payload := []byte("flashrevise write probe\n")
	if !record("write", util.WriteFile(h.fs, probeFile, payload, filePerm), probeFile) {
		return steps
	}

	readBack, err := readFile(h.fs, probeFile)
	if !record("read", err, fmt.Sprintf("%d bytes", len(readBack))) {
		return steps
	}

	var mismatch error
	if !bytes.Equal(readBack, payload) {
		mismatch = fmt.Errorf("content mismatch: wrote %d bytes, read %d", len(payload), len(readBack))
	}
	if !record("verify", mismatch, "bytes identical") {
		return steps
	}

	record("delete", h.fs.Remove(probeFile), probeFile)
	return steps
}

func requireWrite(ctx context.Context, h *Handle) error {
	if h == nil {
		return fmt.Errorf("%w: no directory selected", ErrPermissionDenied)
	}
	state, err := h.QueryPermission(ctx, ModeReadWrite)
	if err != nil {
		return err
	}
	if state != PermissionGranted {
		return fmt.Errorf("%w: readwrite on %s is %s", ErrPermissionDenied, h.Name(), state)
	}
	return nil
}

func readFile(fs billy.Filesystem, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func sanitized(segments []string) []string {
	names := make([]string, len(segments))
	for i, segment := range segments {
		names[i] = tree.Sanitize(strings.TrimSpace(segment))
	}
	return names
}
