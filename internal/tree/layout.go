package tree

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	ManifestFile   = "app_data.json"
	FlashcardsFile = "flashcards.json"
	untitled       = "Untitled"
)

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_\-\s]`)

// Sanitize turns a free-text title into a path segment: everything except
// ASCII letters, digits, whitespace, '-' and '_' is dropped, the result is
// trimmed, and an empty result becomes "Untitled".
func Sanitize(title string) string {
	cleaned := strings.TrimSpace(unsafeSegment.ReplaceAllString(title, ""))
	if cleaned == "" {
		return untitled
	}
	return cleaned
}

// Folder is one subtopic's storage location and payload.
type Folder struct {
	// Segments are the goal, subject, topic and subtopic folder names.
	Segments   []string
	Subtopic   Subtopic
	Flashcards []Flashcard
}

// Layout lists every subtopic folder in tree order. Goals, subjects and
// topics without subtopics produce no entry; callers that mirror empty
// folders use Walk instead.
func Layout(t *Tree) []Folder {
	var folders []Folder
	Walk(t, func(segments []string, level Level, st *Subtopic) {
		if level != LevelSubtopic {
			return
		}
		cards := st.Flashcards
		if cards == nil {
			cards = []Flashcard{}
		}
		folders = append(folders, Folder{Segments: segments, Subtopic: *st, Flashcards: cards})
	})
	return folders
}

// Walk visits every folder-level node depth first, parents before children.
// segments is freshly allocated for each call; st is set only at subtopic level.
func Walk(t *Tree, visit func(segments []string, level Level, st *Subtopic)) {
	goals := t.goals()
	goalNames := siblingNames(len(goals), func(i int) (string, string) { return goals[i].ID, goals[i].Title })
	for gi, g := range goals {
		gseg := []string{goalNames[gi]}
		visit(clone(gseg), LevelGoal, nil)

		subjectNames := siblingNames(len(g.Subjects), func(i int) (string, string) { return g.Subjects[i].ID, g.Subjects[i].Title })
		for si, s := range g.Subjects {
			sseg := append(clone(gseg), subjectNames[si])
			visit(clone(sseg), LevelSubject, nil)

			topicNames := siblingNames(len(s.Topics), func(i int) (string, string) { return s.Topics[i].ID, s.Topics[i].Title })
			for ti, tp := range s.Topics {
				tseg := append(clone(sseg), topicNames[ti])
				visit(clone(tseg), LevelTopic, nil)

				subtopicNames := siblingNames(len(tp.Subtopics), func(i int) (string, string) { return tp.Subtopics[i].ID, tp.Subtopics[i].Title })
				for sti := range tp.Subtopics {
					st := tp.Subtopics[sti]
					visit(append(clone(tseg), subtopicNames[sti]), LevelSubtopic, &st)
				}
			}
		}
	}
}

// Segments returns the stored folder path of a goal, subject, topic or subtopic.
func (t *Tree) Segments(level Level, id string) ([]string, bool) {
	if level == LevelFlashcard {
		return nil, false
	}
	loc, ok := t.Find(level, id)
	if !ok {
		return nil, false
	}
	segments := namesAlong(t, loc.Path, level)
	return segments, segments != nil
}

func namesAlong(t *Tree, p Path, level Level) []string {
	var names []string
	goals := t.goals()
	gi := indexOf(len(goals), func(i int) string { return goals[i].ID }, p.GoalID)
	if gi < 0 {
		return nil
	}
	names = append(names, siblingNames(len(goals), func(i int) (string, string) { return goals[i].ID, goals[i].Title })[gi])
	if level == LevelGoal {
		return names
	}
	g := goals[gi]
	si := indexOf(len(g.Subjects), func(i int) string { return g.Subjects[i].ID }, p.SubjectID)
	if si < 0 {
		return nil
	}
	names = append(names, siblingNames(len(g.Subjects), func(i int) (string, string) { return g.Subjects[i].ID, g.Subjects[i].Title })[si])
	if level == LevelSubject {
		return names
	}
	s := g.Subjects[si]
	ti := indexOf(len(s.Topics), func(i int) string { return s.Topics[i].ID }, p.TopicID)
	if ti < 0 {
		return nil
	}
	names = append(names, siblingNames(len(s.Topics), func(i int) (string, string) { return s.Topics[i].ID, s.Topics[i].Title })[ti])
	if level == LevelTopic {
		return names
	}
	tp := s.Topics[ti]
	sti := indexOf(len(tp.Subtopics), func(i int) string { return tp.Subtopics[i].ID }, p.SubtopicID)
	if sti < 0 {
		return nil
	}
	return append(names, siblingNames(len(tp.Subtopics), func(i int) (string, string) { return tp.Subtopics[i].ID, tp.Subtopics[i].Title })[sti])
}

// siblingNames sanitizes the titles of one child collection. The first
// sibling to claim a name keeps it; later siblings whose names collide
// (case-insensitively) get their id appended, then a counter if a sibling
// already holds that name too.
func siblingNames(n int, at func(int) (id, title string)) []string {
	names := make([]string, n)
	taken := make(map[string]struct{}, n)
	isTaken := func(name string) bool {
		_, ok := taken[strings.ToLower(name)]
		return ok
	}
	for i := 0; i < n; i++ {
		id, title := at(i)
		name := Sanitize(title)
		if isTaken(name) {
			base := Sanitize(name + "_" + id)
			name = base
			for k := 2; isTaken(name); k++ {
				name = base + "_" + strconv.Itoa(k)
			}
		}
		taken[strings.ToLower(name)] = struct{}{}
		names[i] = name
	}
	return names
}

func indexOf(n int, idAt func(int) string, id string) int {
	for i := 0; i < n; i++ {
		if idAt(i) == id {
			return i
		}
	}
	return -1
}

func clone(segments []string) []string {
	out := make([]string, len(segments), len(segments)+1)
	copy(out, segments)
	return out
}
