package fileid

import (
	"testing"

	"github.com/google/uuid"
)

func TestPointID_deterministic(t *testing.T) {
	id1 := PointID("a.pdf__p1__c1")
	id2 := PointID("a.pdf__p1__c1")
	if id1 != id2 {
		t.Errorf("same source id should give same point id: %q vs %q", id1, id2)
	}
	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("not a UUID: %q", id1)
	}
	if parsed.Version() != 5 {
		t.Errorf("version = %d, want 5", parsed.Version())
	}
}

func TestPointID_differentSources(t *testing.T) {
	if PointID("a.pdf__p1__c1") == PointID("a.pdf__p1__c2") {
		t.Error("different source ids should give different point ids")
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/inbox/notes.pdf", "notes.pdf"},
		{"notes.pdf", "notes.pdf"},
		{"/inbox/./sub/../deck.pptx", "deck.pptx"},
		{"/", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Filename(tc.in); got != tc.want {
			t.Errorf("Filename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
