package store

import (
	"errors"
	"time"

	"flashrevise/api/internal/tree"
)

var ErrNoState = errors.New("store: no saved state")

// AppState is what survives a restart: the current snapshot and the
// navigation cursor.
type AppState struct {
	Tree      *tree.Tree  `json:"tree"`
	Cursor    tree.Cursor `json:"cursor"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
