package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"flashrevise/api/internal/syncer"
)

// LocalRepoDB writes objects straight into a repository on disk or in
// memory. Nested trees are rebuilt from the flat path list on every
// CreateTree.
type LocalRepoDB struct {
	repo        *git.Repository
	authorName  string
	authorEmail string
	now         func() time.Time

	mu sync.Mutex
}

// OpenLocalRepo opens dir, initialising a bare repository there when none
// exists.
func OpenLocalRepo(dir string) (*LocalRepoDB, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(dir, true)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", dir, err)
	}
	return NewLocalRepoDB(repo), nil
}

func NewLocalRepoDB(repo *git.Repository) *LocalRepoDB {
	return &LocalRepoDB{
		repo:        repo,
		authorName:  "FlashRevise",
		authorEmail: "sync@local.flashrevise.app",
		now:         time.Now,
	}
}

func (l *LocalRepoDB) ResolveRef(ctx context.Context, branch string) (string, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	ref, err := l.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("branch %s: %w", branch, syncer.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}

func (l *LocalRepoDB) CommitTree(ctx context.Context, commitSHA string) (string, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	commit, err := l.repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", commitSHA, err)
	}
	return commit.TreeHash.String(), nil
}

func (l *LocalRepoDB) ListBlobs(ctx context.Context, treeSHA, prefix string) ([]string, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	files, err := l.flatten(treeSHA)
	if err != nil {
		return nil, err
	}
	var paths []string
	for p := range files {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (l *LocalRepoDB) CreateBlob(ctx context.Context, content []byte) (string, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	obj := l.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return "", fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close blob writer: %w", err)
	}
	hash, err := l.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return hash.String(), nil
}

type leaf struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

func (l *LocalRepoDB) CreateTree(ctx context.Context, baseTreeSHA string, entries []Entry) (string, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	files := make(map[string]leaf)
	if baseTreeSHA != "" {
		if files, err = l.flatten(baseTreeSHA); err != nil {
			return "", err
		}
	}
	for _, e := range entries {
		if e.BlobSHA == "" {
			delete(files, e.Path)
			continue
		}
		files[e.Path] = leaf{hash: plumbing.NewHash(e.BlobSHA), mode: filemode.Regular}
	}
	hash, err := l.writeTree(files)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (l *LocalRepoDB) CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	sig := object.Signature{Name: l.authorName, Email: l.authorEmail, When: l.now()}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  plumbing.NewHash(treeSHA),
	}
	for _, p := range parents {
		commit.ParentHashes = append(commit.ParentHashes, plumbing.NewHash(p))
	}
	hash, err := l.store(commit)
	if err != nil {
		return "", fmt.Errorf("store commit: %w", err)
	}
	return hash.String(), nil
}

func (l *LocalRepoDB) UpdateRef(ctx context.Context, branch, commitSHA string, force bool) error {
	unlock, err := l.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	name := plumbing.NewBranchReferenceName(branch)
	next := plumbing.NewHash(commitSHA)
	if !force {
		current, err := l.repo.Reference(name, true)
		if err != nil {
			return fmt.Errorf("resolve branch %s: %w", branch, err)
		}
		ok, err := l.isAncestor(current.Hash(), next)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("update %s: not a fast-forward", name)
		}
	}
	if err := l.repo.Storer.SetReference(plumbing.NewHashReference(name, next)); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// CreateRef creates a new branch. When HEAD points at a branch that does
// not exist, as in a freshly initialised repository, HEAD moves to the new
// branch.
func (l *LocalRepoDB) CreateRef(ctx context.Context, branch, commitSHA string) error {
	unlock, err := l.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	name := plumbing.NewBranchReferenceName(branch)
	if _, err := l.repo.Reference(name, false); err == nil {
		return fmt.Errorf("create %s: already exists", name)
	}
	if err := l.repo.Storer.SetReference(plumbing.NewHashReference(name, plumbing.NewHash(commitSHA))); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	head, err := l.repo.Storer.Reference(plumbing.HEAD)
	if err == nil && head.Type() == plumbing.SymbolicReference {
		if _, err := l.repo.Reference(head.Target(), true); err != nil {
			if err := l.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name)); err != nil {
				return fmt.Errorf("set HEAD to %s: %w", name, err)
			}
		}
	}
	return nil
}

func (l *LocalRepoDB) ReadFile(ctx context.Context, commitSHA, filePath string) ([]byte, error) {
	unlock, err := l.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	commit, err := l.repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", commitSHA, err)
	}
	file, err := commit.File(filePath)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%s: %w", filePath, syncer.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	return []byte(content), nil
}

func (l *LocalRepoDB) lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	return l.mu.Unlock, nil
}

func (l *LocalRepoDB) flatten(treeSHA string) (map[string]leaf, error) {
	t, err := l.repo.TreeObject(plumbing.NewHash(treeSHA))
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", treeSHA, err)
	}
	files := make(map[string]leaf)
	err = t.Files().ForEach(func(f *object.File) error {
		files[f.Name] = leaf{hash: f.Hash, mode: f.Mode}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree %s: %w", treeSHA, err)
	}
	return files, nil
}

// writeTree stores one tree object per directory, children first. Entries
// are ordered the way git orders them: directories sort as if their name
// ended in '/'.
func (l *LocalRepoDB) writeTree(files map[string]leaf) (plumbing.Hash, error) {
	var entries []object.TreeEntry
	dirs := make(map[string]map[string]leaf)
	for p, f := range files {
		name, rest, nested := strings.Cut(p, "/")
		if !nested {
			entries = append(entries, object.TreeEntry{Name: name, Mode: f.mode, Hash: f.hash})
			continue
		}
		if dirs[name] == nil {
			dirs[name] = make(map[string]leaf)
		}
		dirs[name][rest] = f
	}
	for name, children := range dirs {
		hash, err := l.writeTree(children)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})
	hash, err := l.store(&object.Tree{Entries: entries})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return hash, nil
}

func sortName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

type encoder interface {
	Encode(plumbing.EncodedObject) error
}

func (l *LocalRepoDB) store(o encoder) (plumbing.Hash, error) {
	obj := l.repo.Storer.NewEncodedObject()
	if err := o.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return l.repo.Storer.SetEncodedObject(obj)
}

func (l *LocalRepoDB) isAncestor(ancestor, descendant plumbing.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	a, err := l.repo.CommitObject(ancestor)
	if err != nil {
		return false, fmt.Errorf("read commit %s: %w", ancestor, err)
	}
	d, err := l.repo.CommitObject(descendant)
	if err != nil {
		return false, fmt.Errorf("read commit %s: %w", descendant, err)
	}
	return a.IsAncestor(d)
}
