package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalManifest renders the whole tree as the pretty-printed JSON array
// stored in app_data.json.
func MarshalManifest(t *Tree) ([]byte, error) {
	payload, err := json.MarshalIndent(normalized(t).Goals, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return payload, nil
}

// ParseManifest is the inverse of MarshalManifest. Missing child collections
// are read as empty. A blank document parses as an empty tree.
func ParseManifest(data []byte) (*Tree, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Empty(), nil
	}
	var goals []Goal
	if err := json.Unmarshal(data, &goals); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return normalized(&Tree{Goals: goals}), nil
}

// MarshalFlashcards renders one subtopic's cards for its flashcards.json.
func MarshalFlashcards(cards []Flashcard) ([]byte, error) {
	if cards == nil {
		cards = []Flashcard{}
	}
	payload, err := json.MarshalIndent(cards, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal flashcards: %w", err)
	}
	return payload, nil
}

// MarshalJSON lets a Tree be embedded in API payloads as its goal array.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(normalized(t).Goals)
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	parsed, err := ParseManifest(data)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// normalized replaces nil child slices with empty ones so documents always
// carry [] rather than null. Slices that are already non-nil are shared.
func normalized(t *Tree) *Tree {
	goals := t.goals()
	if goals == nil {
		return Empty()
	}
	if !needsNormalizing(goals) {
		return t
	}
	out := make([]Goal, len(goals))
	for gi, g := range goals {
		if g.Subjects == nil {
			g.Subjects = []Subject{}
		}
		subjects := make([]Subject, len(g.Subjects))
		for si, s := range g.Subjects {
			if s.Topics == nil {
				s.Topics = []Topic{}
			}
			topics := make([]Topic, len(s.Topics))
			for ti, tp := range s.Topics {
				if tp.Subtopics == nil {
					tp.Subtopics = []Subtopic{}
				}
				subtopics := make([]Subtopic, len(tp.Subtopics))
				for sti, st := range tp.Subtopics {
					if st.Flashcards == nil {
						st.Flashcards = []Flashcard{}
					}
					subtopics[sti] = st
				}
				tp.Subtopics = subtopics
				topics[ti] = tp
			}
			s.Topics = topics
			subjects[si] = s
		}
		g.Subjects = subjects
		out[gi] = g
	}
	return &Tree{Goals: out}
}

func needsNormalizing(goals []Goal) bool {
	for _, g := range goals {
		if g.Subjects == nil {
			return true
		}
		for _, s := range g.Subjects {
			if s.Topics == nil {
				return true
			}
			for _, tp := range s.Topics {
				if tp.Subtopics == nil {
					return true
				}
				for _, st := range tp.Subtopics {
					if st.Flashcards == nil {
						return true
					}
				}
			}
		}
	}
	return false
}
