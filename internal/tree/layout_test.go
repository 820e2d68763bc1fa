package tree

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"reflect"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Math!!":           "Math",
		"   ":              "Untitled",
		"":                 "Untitled",
		"Cell Biology 101": "Cell Biology 101",
		"  a/b\\c:d  ":     "abcd",
		"snake_case-ok":    "snake_case-ok",
		"Ünïcode":          "ncode",
		"???":              "Untitled",
		"\u212Aelvin":      "elvin",
		"Fu\u017Fball":     "Fuball",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"Math!!", "   ", "a  b", " -x- ", "日本語", "tab\there", "Untitled", "(1) intro"}
	for _, in := range inputs {
		once := Sanitize(in)
		if twice := Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestLayoutPaths(t *testing.T) {
	fixedIDs(t)
	tr, p, _ := buildBiology(t)
	tr, _, _ = tr.AddSubtopic(p.GoalID, p.SubjectID, p.TopicID, "Phases?")

	folders := Layout(tr)
	if len(folders) != 2 {
		t.Fatalf("Layout() returned %d folders, want 2", len(folders))
	}
	if got := strings.Join(folders[0].Segments, "/"); got != "Biology/Cells/Mitosis/Phases" {
		t.Fatalf("first folder = %q", got)
	}
	second := folders[1].Segments[3]
	if second == "Phases" || !strings.HasPrefix(second, "Phases_") {
		t.Fatalf("colliding sibling not disambiguated: %q", second)
	}
	if len(folders[1].Flashcards) != 0 || folders[1].Flashcards == nil {
		t.Fatalf("expected empty non-nil flashcards, got %#v", folders[1].Flashcards)
	}

	segs, ok := tr.Segments(LevelSubtopic, folders[1].Subtopic.ID)
	if !ok || segs[3] != second {
		t.Fatalf("Segments() = %v, %v; want last %q", segs, ok, second)
	}
}

func TestSiblingNamesStayUnique(t *testing.T) {
	siblings := [][2]string{{"a", "Math"}, {"b", "Math_c"}, {"c", "Math"}, {"d", "math_C"}}
	names := siblingNames(len(siblings), func(i int) (string, string) { return siblings[i][0], siblings[i][1] })

	want := []string{"Math", "Math_c", "Math_c_2", "math_C_d"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("siblingNames() = %v, want %v", names, want)
	}
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[strings.ToLower(name)] {
			t.Fatalf("duplicate folder name %q in %v", name, names)
		}
		seen[strings.ToLower(name)] = true
	}
}

func TestManifestRoundTrip(t *testing.T) {
	fixedIDs(t)
	tr, p, card := buildBiology(t)
	tr, _, _ = tr.SetMastery(p, card.ID, 3)
	tr, _, _ = tr.AddGoal("Empty goal")

	data, err := MarshalManifest(tr)
	if err != nil {
		t.Fatalf("MarshalManifest() error = %v", err)
	}
	if !bytes.Contains(data, []byte("\n  {")) {
		t.Fatalf("expected pretty printed manifest, got %s", data)
	}
	if !bytes.Contains(data, []byte(`"subjects": []`)) {
		t.Fatalf("expected empty collections as [], got %s", data)
	}

	parsed, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if !reflect.DeepEqual(parsed, tr) {
		t.Fatalf("round trip mismatch\nwant %+v\ngot  %+v", tr, parsed)
	}
}

func TestParseManifestFillsMissingCollections(t *testing.T) {
	tr, err := ParseManifest([]byte(`[{"id":"g1","title":"Goal","createdAt":1}]`))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if tr.Goals[0].Subjects == nil {
		t.Fatal("expected subjects to be initialised")
	}
	empty, err := ParseManifest([]byte("  "))
	if err != nil || len(empty.Goals) != 0 {
		t.Fatalf("ParseManifest(blank) = %+v, %v", empty, err)
	}
	if _, err := ParseManifest([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error for object manifest")
	}
}

func TestTreeJSONEmbedding(t *testing.T) {
	fixedIDs(t)
	tr, _, _ := buildBiology(t)
	payload, err := json.Marshal(map[string]any{"tree": tr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Tree *Tree `json:"tree"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(decoded.Tree, tr) {
		t.Fatalf("embedded tree mismatch: %+v", decoded.Tree)
	}
}

func TestEncodeImageShrinksLongestEdge(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1600, 400))
	for x := 0; x < 1600; x++ {
		src.Set(x, x%400, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	dataURL, err := EncodeImage(&buf)
	if err != nil {
		t.Fatalf("EncodeImage() error = %v", err)
	}
	raw, err := DecodeImage(dataURL)
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if cfg.Width != 800 || cfg.Height != 200 {
		t.Fatalf("scaled size = %dx%d, want 800x200", cfg.Width, cfg.Height)
	}
}

func TestEncodeImageRejectsGarbage(t *testing.T) {
	if _, err := EncodeImage(strings.NewReader("not an image")); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeImage("data:image/png;base64,AAAA"); err == nil {
		t.Fatal("expected error for non-jpeg url")
	}
}
