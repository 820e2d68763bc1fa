// Package cloudblob mirrors the whole tree as one named JSON file in a cloud
// store. Files are addressed by name, so two writers saving the same name at
// the same time can both create it and leave a duplicate behind.
package cloudblob

import (
	"context"
	"fmt"

	"flashrevise/api/internal/tree"
)

// DefaultFile is the blob name used when none is configured.
const DefaultFile = "flashrevise_data.json"

// Store is a name-addressed blob backend. Find returns "" with a nil error
// when no file carries name.
type Store interface {
	Find(ctx context.Context, name string) (string, error)
	Create(ctx context.Context, name string, content []byte) (string, error)
	Update(ctx context.Context, id string, content []byte) error
	Download(ctx context.Context, id string) ([]byte, error)
}

// Save overwrites the file called filename, creating it when absent.
func Save(ctx context.Context, s Store, filename string, content []byte) error {
	id, err := s.Find(ctx, filename)
	if err != nil {
		return fmt.Errorf("find %s: %w", filename, err)
	}
	if id != "" {
		if err := s.Update(ctx, id, content); err != nil {
			return fmt.Errorf("update %s: %w", filename, err)
		}
		return nil
	}
	if _, err := s.Create(ctx, filename, content); err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	return nil
}

// Load returns the content of filename, or (nil, nil) when it does not exist.
func Load(ctx context.Context, s Store, filename string) ([]byte, error) {
	id, err := s.Find(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", filename, err)
	}
	if id == "" {
		return nil, nil
	}
	content, err := s.Download(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", filename, err)
	}
	return content, nil
}

// Adapter stores the manifest of each snapshot as a single blob.
type Adapter struct {
	name  string
	store Store
	file  string
}

func NewAdapter(name string, store Store, file string) *Adapter {
	if file == "" {
		file = DefaultFile
	}
	return &Adapter{name: name, store: store, file: file}
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Push(ctx context.Context, t *tree.Tree) error {
	content, err := tree.MarshalManifest(t)
	if err != nil {
		return err
	}
	return Save(ctx, a.store, a.file, content)
}

func (a *Adapter) Pull(ctx context.Context) (*tree.Tree, error) {
	content, err := Load(ctx, a.store, a.file)
	if err != nil || content == nil {
		return nil, err
	}
	return tree.ParseManifest(content)
}
