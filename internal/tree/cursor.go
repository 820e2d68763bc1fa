package tree

import "fmt"

// Level names one tier of the hierarchy, plus the two cursor-only views.
type Level string

const (
	LevelHome      Level = "home"
	LevelGoal      Level = "goal"
	LevelSubject   Level = "subject"
	LevelTopic     Level = "topic"
	LevelSubtopic  Level = "subtopic"
	LevelFlashcard Level = "flashcard"
	// LevelStudy points at a subtopic whose cards are being reviewed.
	LevelStudy Level = "study"
)

func ParseLevel(value string) (Level, error) {
	switch l := Level(value); l {
	case LevelHome, LevelGoal, LevelSubject, LevelTopic, LevelSubtopic, LevelFlashcard, LevelStudy:
		return l, nil
	}
	return "", fmt.Errorf("%w: unknown level %q", ErrInvalidInput, value)
}

// Cursor is the navigation location: a level and an id, never a reference
// into a particular snapshot.
type Cursor struct {
	Type Level  `json:"type"`
	ID   string `json:"id,omitempty"`
}

func Home() Cursor {
	return Cursor{Type: LevelHome}
}

// Location is the result of resolving an id against one snapshot.
type Location struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
	Path  Path   `json:"path"`
	// Titles are the raw titles from the goal down to the node itself. For a
	// flashcard the last element is its front text.
	Titles []string `json:"titles"`
}

// Find locates a node by level and id with a full descent of the tree.
func (t *Tree) Find(level Level, id string) (Location, bool) {
	if id == "" {
		return Location{}, false
	}
	for _, g := range t.goals() {
		gp := Path{GoalID: g.ID}
		if level == LevelGoal && g.ID == id {
			return Location{Level: level, ID: id, Path: gp, Titles: []string{g.Title}}, true
		}
		for _, s := range g.Subjects {
			sp := gp
			sp.SubjectID = s.ID
			if level == LevelSubject && s.ID == id {
				return Location{Level: level, ID: id, Path: sp, Titles: []string{g.Title, s.Title}}, true
			}
			for _, tp := range s.Topics {
				tpp := sp
				tpp.TopicID = tp.ID
				if level == LevelTopic && tp.ID == id {
					return Location{Level: level, ID: id, Path: tpp, Titles: []string{g.Title, s.Title, tp.Title}}, true
				}
				for _, st := range tp.Subtopics {
					stp := tpp
					stp.SubtopicID = st.ID
					titles := []string{g.Title, s.Title, tp.Title, st.Title}
					if (level == LevelSubtopic || level == LevelStudy) && st.ID == id {
						return Location{Level: level, ID: id, Path: stp, Titles: titles}, true
					}
					if level != LevelFlashcard {
						continue
					}
					for _, card := range st.Flashcards {
						if card.ID == id {
							return Location{Level: level, ID: id, Path: stp, Titles: append(titles, card.Front)}, true
						}
					}
				}
			}
		}
	}
	return Location{}, false
}

// Resolve maps a cursor onto the snapshot. A cursor whose node no longer exists
// resolves to home with ok=false.
func (t *Tree) Resolve(c Cursor) (Location, bool) {
	if c.Type == LevelHome || c.Type == "" {
		return Location{Level: LevelHome}, true
	}
	loc, ok := t.Find(c.Type, c.ID)
	if !ok {
		return Location{Level: LevelHome}, false
	}
	return loc, true
}

// Subtopic returns the subtopic addressed by p.
func (t *Tree) Subtopic(p Path) (Subtopic, bool) {
	for _, g := range t.goals() {
		if g.ID != p.GoalID {
			continue
		}
		for _, s := range g.Subjects {
			if s.ID != p.SubjectID {
				continue
			}
			for _, tp := range s.Topics {
				if tp.ID != p.TopicID {
					continue
				}
				for _, st := range tp.Subtopics {
					if st.ID == p.SubtopicID {
						return st, true
					}
				}
			}
		}
	}
	return Subtopic{}, false
}
