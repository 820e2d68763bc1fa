// Package tree holds the Goal → Subject → Topic → Subtopic → Flashcard
// hierarchy as immutable value snapshots.
//
// Every mutating method returns a new *Tree and leaves its receiver intact.
// Ancestors of the changed node are rebuilt; every other slice is shared with
// the previous snapshot, so callers must treat the slices they read as
// read-only.
package tree

import (
	"errors"
	"time"

	"flashrevise/api/internal/util"
)

var (
	ErrNotFound       = errors.New("tree: node not found")
	ErrInvalidInput   = errors.New("tree: invalid input")
	ErrInvalidMastery = errors.New("tree: mastery must be between 0 and 5")
)

const (
	MinMastery = 0
	MaxMastery = 5
)

type Goal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Subjects  []Subject `json:"subjects"`
	CreatedAt int64     `json:"createdAt"`
}

type Subject struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Topics    []Topic `json:"topics"`
	CreatedAt int64   `json:"createdAt"`
}

type Topic struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Subtopics []Subtopic `json:"subtopics"`
	CreatedAt int64      `json:"createdAt"`
}

type Subtopic struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Flashcards []Flashcard `json:"flashcards"`
	CreatedAt  int64       `json:"createdAt"`
}

type Flashcard struct {
	ID        string `json:"id"`
	Front     string `json:"front"`
	Expansion string `json:"expansion"`
	// Image is a data URL produced by EncodeImage, empty when absent.
	Image     string `json:"image,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	Mastery   int    `json:"mastery"`
}

// CardInput carries the user-supplied fields of a new flashcard.
type CardInput struct {
	Front     string `json:"front"`
	Expansion string `json:"expansion"`
	Image     string `json:"image,omitempty"`
}

// Tree is one immutable snapshot of the whole hierarchy.
type Tree struct {
	Goals []Goal
}

// Path addresses a node by the ids of itself and its ancestors. Unused
// trailing levels are empty.
type Path struct {
	GoalID     string `json:"goalId,omitempty"`
	SubjectID  string `json:"subjectId,omitempty"`
	TopicID    string `json:"topicId,omitempty"`
	SubtopicID string `json:"subtopicId,omitempty"`
}

// Counts is the node population per level.
type Counts struct {
	Goals      int `json:"goals"`
	Subjects   int `json:"subjects"`
	Topics     int `json:"topics"`
	Subtopics  int `json:"subtopics"`
	Flashcards int `json:"flashcards"`
}

func (c Counts) Total() int {
	return c.Goals + c.Subjects + c.Topics + c.Subtopics + c.Flashcards
}

// Empty returns a tree with no goals.
func Empty() *Tree {
	return &Tree{Goals: []Goal{}}
}

// Clock and NewID are swapped out by tests that need stable values.
var (
	Clock = func() time.Time { return time.Now() }
	NewID = func() string { return util.NewID("") }
)

func (g Goal) identity() string      { return g.ID }
func (s Subject) identity() string   { return s.ID }
func (t Topic) identity() string     { return t.ID }
func (s Subtopic) identity() string  { return s.ID }
func (f Flashcard) identity() string { return f.ID }
