// Package gitsync mirrors the tree into a Git repository through the object
// database: one blob per file, one tree layered on the branch's current tree,
// one commit, then a forced ref update. The ref update is the only step
// visible to readers, so a failed sync leaves orphaned objects and nothing
// else.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"golang.org/x/sync/errgroup"

	"flashrevise/api/internal/syncer"
	"flashrevise/api/internal/tree"
)

const (
	DefaultRoot        = "saved-flashcards"
	DefaultBranch      = "main"
	DefaultMessage     = "Sync flashcards (Nested Structure)"
	DefaultBlobWorkers = 4
	fileMode           = "100644"
)

// Entry places a blob at a path in a new tree. An empty BlobSHA deletes the
// path from the base tree.
type Entry struct {
	Path    string
	BlobSHA string
}

// ObjectDB is the subset of a Git object database the sync needs. ResolveRef
// and ReadFile wrap syncer.ErrNotFound for an absent branch or file.
type ObjectDB interface {
	ResolveRef(ctx context.Context, branch string) (string, error)
	CommitTree(ctx context.Context, commitSHA string) (string, error)
	ListBlobs(ctx context.Context, treeSHA, prefix string) ([]string, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTreeSHA string, entries []Entry) (string, error)
	CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error)
	UpdateRef(ctx context.Context, branch, commitSHA string, force bool) error
	CreateRef(ctx context.Context, branch, commitSHA string) error
	ReadFile(ctx context.Context, commitSHA, filePath string) ([]byte, error)
}

type Options struct {
	Branch  string
	Root    string
	Message string
	// BlobWorkers bounds concurrent blob creation.
	BlobWorkers int
}

func (o Options) withDefaults() Options {
	if o.Branch == "" {
		o.Branch = DefaultBranch
	}
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.Message == "" {
		o.Message = DefaultMessage
	}
	if o.BlobWorkers <= 0 {
		o.BlobWorkers = DefaultBlobWorkers
	}
	return o
}

// File is one flattened path and its content.
type File struct {
	Path    string
	Content []byte
}

// Flatten lists the manifest followed by one flashcards.json per subtopic.
func Flatten(t *tree.Tree, root string) ([]File, error) {
	manifest, err := tree.MarshalManifest(t)
	if err != nil {
		return nil, err
	}
	files := []File{{Path: path.Join(root, tree.ManifestFile), Content: manifest}}
	for _, folder := range tree.Layout(t) {
		content, err := tree.MarshalFlashcards(folder.Flashcards)
		if err != nil {
			return nil, err
		}
		segments := append([]string{root}, folder.Segments...)
		files = append(files, File{Path: path.Join(append(segments, tree.FlashcardsFile)...), Content: content})
	}
	return files, nil
}

type Result struct {
	Commit  string
	Tree    string
	Files   int
	Deleted int
	Created bool
}

// Sync writes a full snapshot of t to the branch.
func Sync(ctx context.Context, db ObjectDB, t *tree.Tree, opts Options) (Result, error) {
	opts = opts.withDefaults()

	parent, err := db.ResolveRef(ctx, opts.Branch)
	missing := errors.Is(err, syncer.ErrNotFound)
	if err != nil && !missing {
		return Result{}, fmt.Errorf("resolve ref heads/%s: %w", opts.Branch, err)
	}
	var baseTree string
	if !missing {
		baseTree, err = db.CommitTree(ctx, parent)
		if err != nil {
			return Result{}, fmt.Errorf("read commit %s: %w", parent, err)
		}
	}

	files, err := Flatten(t, opts.Root)
	if err != nil {
		return Result{}, err
	}

	shas := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.BlobWorkers)
	for i := range files {
		g.Go(func() error {
			sha, err := db.CreateBlob(gctx, files[i].Content)
			if err != nil {
				return fmt.Errorf("create blob %s: %w", files[i].Path, err)
			}
			shas[i] = sha
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	entries := make([]Entry, len(files))
	written := make(map[string]struct{}, len(files))
	for i, f := range files {
		entries[i] = Entry{Path: f.Path, BlobSHA: shas[i]}
		written[f.Path] = struct{}{}
	}

	stale, err := staleFiles(ctx, db, baseTree, opts.Root, written)
	if err != nil {
		return Result{}, err
	}
	for _, p := range stale {
		entries = append(entries, Entry{Path: p})
	}

	treeSHA, err := db.CreateTree(ctx, baseTree, entries)
	if err != nil {
		return Result{}, fmt.Errorf("create tree: %w", err)
	}

	var parents []string
	if !missing {
		parents = []string{parent}
	}
	commit, err := db.CreateCommit(ctx, opts.Message, treeSHA, parents)
	if err != nil {
		return Result{}, fmt.Errorf("create commit: %w", err)
	}

	if missing {
		err = db.CreateRef(ctx, opts.Branch, commit)
	} else {
		err = db.UpdateRef(ctx, opts.Branch, commit, true)
	}
	if err != nil {
		return Result{}, fmt.Errorf("update ref heads/%s: %w", opts.Branch, err)
	}

	return Result{Commit: commit, Tree: treeSHA, Files: len(files), Deleted: len(stale), Created: missing}, nil
}

// staleFiles lists flashcards.json files under root that the new snapshot no
// longer writes: the stored paths of deleted or renamed branches.
func staleFiles(ctx context.Context, db ObjectDB, baseTree, root string, written map[string]struct{}) ([]string, error) {
	if baseTree == "" {
		return nil, nil
	}
	existing, err := db.ListBlobs(ctx, baseTree, root+"/")
	if err != nil {
		return nil, fmt.Errorf("list tree %s: %w", baseTree, err)
	}
	var stale []string
	for _, p := range existing {
		if path.Base(p) != tree.FlashcardsFile {
			continue
		}
		if _, ok := written[p]; !ok {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// Load reads the manifest at the branch head. An absent branch or manifest
// yields (nil, nil).
func Load(ctx context.Context, db ObjectDB, opts Options) (*tree.Tree, error) {
	opts = opts.withDefaults()
	commit, err := db.ResolveRef(ctx, opts.Branch)
	if errors.Is(err, syncer.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve ref heads/%s: %w", opts.Branch, err)
	}
	content, err := db.ReadFile(ctx, commit, path.Join(opts.Root, tree.ManifestFile))
	if errors.Is(err, syncer.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return tree.ParseManifest(content)
}

// Adapter syncs snapshots into one branch of an ObjectDB.
type Adapter struct {
	name string
	db   ObjectDB
	opts Options
}

func NewAdapter(name string, db ObjectDB, opts Options) *Adapter {
	return &Adapter{name: name, db: db, opts: opts.withDefaults()}
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Push(ctx context.Context, t *tree.Tree) error {
	_, err := Sync(ctx, a.db, t, a.opts)
	return err
}

func (a *Adapter) Pull(ctx context.Context) (*tree.Tree, error) {
	return Load(ctx, a.db, a.opts)
}
