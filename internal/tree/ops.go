package tree

import (
	"fmt"
	"strings"
)

type identified interface {
	identity() string
}

// Removed describes a node taken out of the tree by a Delete call.
type Removed struct {
	Location
	// Segments is the stored folder path of the removed node, computed against
	// the tree it was removed from. Empty for flashcards, which live inside
	// their subtopic's file rather than in a folder of their own.
	Segments []string `json:"segments"`
	// Subtree counts the removed node and all of its descendants.
	Subtree Counts `json:"subtree"`
}

func (t *Tree) goals() []Goal {
	if t == nil {
		return nil
	}
	return t.Goals
}

func (t *Tree) AddGoal(title string) (*Tree, Goal, error) {
	title, err := requireText("title", title)
	if err != nil {
		return t, Goal{}, err
	}
	goal := Goal{ID: NewID(), Title: title, Subjects: []Subject{}, CreatedAt: now()}
	return &Tree{Goals: appended(t.goals(), goal)}, goal, nil
}

func (t *Tree) AddSubject(goalID, title string) (*Tree, Subject, error) {
	title, err := requireText("title", title)
	if err != nil {
		return t, Subject{}, err
	}
	subject := Subject{ID: NewID(), Title: title, Topics: []Topic{}, CreatedAt: now()}
	next, err := t.updateGoal(goalID, func(g Goal) (Goal, error) {
		g.Subjects = appended(g.Subjects, subject)
		return g, nil
	})
	if err != nil {
		return t, Subject{}, fmt.Errorf("add subject: %w", err)
	}
	return next, subject, nil
}

func (t *Tree) AddTopic(goalID, subjectID, title string) (*Tree, Topic, error) {
	title, err := requireText("title", title)
	if err != nil {
		return t, Topic{}, err
	}
	topic := Topic{ID: NewID(), Title: title, Subtopics: []Subtopic{}, CreatedAt: now()}
	p := Path{GoalID: goalID, SubjectID: subjectID}
	next, err := t.updateSubject(p, func(s Subject) (Subject, error) {
		s.Topics = appended(s.Topics, topic)
		return s, nil
	})
	if err != nil {
		return t, Topic{}, fmt.Errorf("add topic: %w", err)
	}
	return next, topic, nil
}

func (t *Tree) AddSubtopic(goalID, subjectID, topicID, title string) (*Tree, Subtopic, error) {
	title, err := requireText("title", title)
	if err != nil {
		return t, Subtopic{}, err
	}
	subtopic := Subtopic{ID: NewID(), Title: title, Flashcards: []Flashcard{}, CreatedAt: now()}
	p := Path{GoalID: goalID, SubjectID: subjectID, TopicID: topicID}
	next, err := t.updateTopic(p, func(tp Topic) (Topic, error) {
		tp.Subtopics = appended(tp.Subtopics, subtopic)
		return tp, nil
	})
	if err != nil {
		return t, Subtopic{}, fmt.Errorf("add subtopic: %w", err)
	}
	return next, subtopic, nil
}

func (t *Tree) AddFlashcard(goalID, subjectID, topicID, subtopicID string, in CardInput) (*Tree, Flashcard, error) {
	front, err := requireText("front", in.Front)
	if err != nil {
		return t, Flashcard{}, err
	}
	expansion, err := requireText("expansion", in.Expansion)
	if err != nil {
		return t, Flashcard{}, err
	}
	card := Flashcard{
		ID:        NewID(),
		Front:     front,
		Expansion: expansion,
		Image:     in.Image,
		CreatedAt: now(),
		Mastery:   MinMastery,
	}
	p := Path{GoalID: goalID, SubjectID: subjectID, TopicID: topicID, SubtopicID: subtopicID}
	next, err := t.updateSubtopic(p, func(st Subtopic) (Subtopic, error) {
		st.Flashcards = appended(st.Flashcards, card)
		return st, nil
	})
	if err != nil {
		return t, Flashcard{}, fmt.Errorf("add flashcard: %w", err)
	}
	return next, card, nil
}

// SetMastery records a new 0-5 mastery level on one flashcard.
func (t *Tree) SetMastery(p Path, cardID string, level int) (*Tree, Flashcard, error) {
	if level < MinMastery || level > MaxMastery {
		return t, Flashcard{}, ErrInvalidMastery
	}
	var updated Flashcard
	next, err := t.updateSubtopic(p, func(st Subtopic) (Subtopic, error) {
		cards, err := replace(st.Flashcards, cardID, func(card Flashcard) (Flashcard, error) {
			card.Mastery = level
			updated = card
			return card, nil
		})
		if err != nil {
			return st, err
		}
		st.Flashcards = cards
		return st, nil
	})
	if err != nil {
		return t, Flashcard{}, fmt.Errorf("set mastery: %w", err)
	}
	return next, updated, nil
}

func (t *Tree) DeleteGoal(id string) (*Tree, Removed, error) {
	goals, gone, ok := remove(t.goals(), id)
	if !ok {
		return t, Removed{}, fmt.Errorf("delete goal %s: %w", id, ErrNotFound)
	}
	return &Tree{Goals: goals}, t.removed(LevelGoal, id, countGoal(gone)), nil
}

func (t *Tree) DeleteSubject(goalID, id string) (*Tree, Removed, error) {
	var subtree Counts
	next, err := t.updateGoal(goalID, func(g Goal) (Goal, error) {
		subjects, gone, ok := remove(g.Subjects, id)
		if !ok {
			return g, ErrNotFound
		}
		subtree = countSubject(gone)
		g.Subjects = subjects
		return g, nil
	})
	if err != nil {
		return t, Removed{}, fmt.Errorf("delete subject %s: %w", id, err)
	}
	return next, t.removed(LevelSubject, id, subtree), nil
}

func (t *Tree) DeleteTopic(goalID, subjectID, id string) (*Tree, Removed, error) {
	var subtree Counts
	p := Path{GoalID: goalID, SubjectID: subjectID}
	next, err := t.updateSubject(p, func(s Subject) (Subject, error) {
		topics, gone, ok := remove(s.Topics, id)
		if !ok {
			return s, ErrNotFound
		}
		subtree = countTopic(gone)
		s.Topics = topics
		return s, nil
	})
	if err != nil {
		return t, Removed{}, fmt.Errorf("delete topic %s: %w", id, err)
	}
	return next, t.removed(LevelTopic, id, subtree), nil
}

func (t *Tree) DeleteSubtopic(goalID, subjectID, topicID, id string) (*Tree, Removed, error) {
	var subtree Counts
	p := Path{GoalID: goalID, SubjectID: subjectID, TopicID: topicID}
	next, err := t.updateTopic(p, func(tp Topic) (Topic, error) {
		subtopics, gone, ok := remove(tp.Subtopics, id)
		if !ok {
			return tp, ErrNotFound
		}
		subtree = countSubtopic(gone)
		tp.Subtopics = subtopics
		return tp, nil
	})
	if err != nil {
		return t, Removed{}, fmt.Errorf("delete subtopic %s: %w", id, err)
	}
	return next, t.removed(LevelSubtopic, id, subtree), nil
}

func (t *Tree) DeleteFlashcard(goalID, subjectID, topicID, subtopicID, id string) (*Tree, Removed, error) {
	p := Path{GoalID: goalID, SubjectID: subjectID, TopicID: topicID, SubtopicID: subtopicID}
	next, err := t.updateSubtopic(p, func(st Subtopic) (Subtopic, error) {
		cards, _, ok := remove(st.Flashcards, id)
		if !ok {
			return st, ErrNotFound
		}
		st.Flashcards = cards
		return st, nil
	})
	if err != nil {
		return t, Removed{}, fmt.Errorf("delete flashcard %s: %w", id, err)
	}
	return next, t.removed(LevelFlashcard, id, Counts{Flashcards: 1}), nil
}

// Counts walks the whole tree.
func (t *Tree) Counts() Counts {
	var c Counts
	for _, g := range t.goals() {
		c = c.add(countGoal(g))
	}
	return c
}

func (t *Tree) removed(level Level, id string, subtree Counts) Removed {
	loc, _ := t.Find(level, id)
	r := Removed{Location: loc, Subtree: subtree}
	if level != LevelFlashcard {
		r.Segments, _ = t.Segments(level, id)
	}
	return r
}

func (t *Tree) updateGoal(id string, fn func(Goal) (Goal, error)) (*Tree, error) {
	goals, err := replace(t.goals(), id, fn)
	if err != nil {
		return nil, err
	}
	return &Tree{Goals: goals}, nil
}

func (t *Tree) updateSubject(p Path, fn func(Subject) (Subject, error)) (*Tree, error) {
	return t.updateGoal(p.GoalID, func(g Goal) (Goal, error) {
		subjects, err := replace(g.Subjects, p.SubjectID, fn)
		if err != nil {
			return g, err
		}
		g.Subjects = subjects
		return g, nil
	})
}

func (t *Tree) updateTopic(p Path, fn func(Topic) (Topic, error)) (*Tree, error) {
	return t.updateSubject(p, func(s Subject) (Subject, error) {
		topics, err := replace(s.Topics, p.TopicID, fn)
		if err != nil {
			return s, err
		}
		s.Topics = topics
		return s, nil
	})
}

func (t *Tree) updateSubtopic(p Path, fn func(Subtopic) (Subtopic, error)) (*Tree, error) {
	return t.updateTopic(p, func(tp Topic) (Topic, error) {
		subtopics, err := replace(tp.Subtopics, p.SubtopicID, fn)
		if err != nil {
			return tp, err
		}
		tp.Subtopics = subtopics
		return tp, nil
	})
}

// replace returns a copy of items with the element whose id matches rebuilt
// by fn. Elements other than the match are shared, not copied deeply.
func replace[T identified](items []T, id string, fn func(T) (T, error)) ([]T, error) {
	for i, item := range items {
		if item.identity() != id {
			continue
		}
		next, err := fn(item)
		if err != nil {
			return nil, err
		}
		out := make([]T, len(items))
		copy(out, items)
		out[i] = next
		return out, nil
	}
	return nil, ErrNotFound
}

func remove[T identified](items []T, id string) ([]T, T, bool) {
	var zero T
	for i, item := range items {
		if item.identity() != id {
			continue
		}
		out := make([]T, 0, len(items)-1)
		out = append(out, items[:i]...)
		out = append(out, items[i+1:]...)
		return out, item, true
	}
	return items, zero, false
}

func appended[T any](items []T, item T) []T {
	out := make([]T, len(items), len(items)+1)
	copy(out, items)
	return append(out, item)
}

func requireText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s must not be blank", ErrInvalidInput, field)
	}
	return trimmed, nil
}

func now() int64 {
	return Clock().UnixMilli()
}

func (c Counts) add(o Counts) Counts {
	return Counts{
		Goals:      c.Goals + o.Goals,
		Subjects:   c.Subjects + o.Subjects,
		Topics:     c.Topics + o.Topics,
		Subtopics:  c.Subtopics + o.Subtopics,
		Flashcards: c.Flashcards + o.Flashcards,
	}
}

func countGoal(g Goal) Counts {
	c := Counts{Goals: 1}
	for _, s := range g.Subjects {
		c = c.add(countSubject(s))
	}
	return c
}

func countSubject(s Subject) Counts {
	c := Counts{Subjects: 1}
	for _, tp := range s.Topics {
		c = c.add(countTopic(tp))
	}
	return c
}

func countTopic(tp Topic) Counts {
	c := Counts{Topics: 1}
	for _, st := range tp.Subtopics {
		c = c.add(countSubtopic(st))
	}
	return c
}

func countSubtopic(st Subtopic) Counts {
	return Counts{Subtopics: 1, Flashcards: len(st.Flashcards)}
}
