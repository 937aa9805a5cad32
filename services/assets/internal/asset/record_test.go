package asset

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSkillLevel(t *testing.T) {
	l, err := ParseSkillLevel(" Intermediate ")
	if err != nil || l != Intermediate {
		t.Fatalf("expected intermediate, got %q (%v)", l, err)
	}
	if _, err := ParseSkillLevel("expert"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSkillLevelRank(t *testing.T) {
	if !(Beginner.Rank() < Intermediate.Rank() && Intermediate.Rank() < Advanced.Rank()) {
		t.Fatal("expected beginner < intermediate < advanced")
	}
	if SkillLevel("pro").Rank() != -1 {
		t.Fatal("expected unknown level to rank -1")
	}
}

func TestLevelTitle(t *testing.T) {
	if got := LevelTitle("Cone Dribbling", Advanced); got != "Cone Dribbling (Advanced)" {
		t.Fatalf("unexpected title %q", got)
	}
	// Re-tagging replaces an existing suffix instead of stacking.
	if got := LevelTitle("Cone Dribbling (Beginner)", Advanced); got != "Cone Dribbling (Advanced)" {
		t.Fatalf("unexpected title %q", got)
	}
	if got := StripLevelSuffix("Rondo (Intermediate)"); got != "Rondo" {
		t.Fatalf("unexpected stripped title %q", got)
	}
	if got := StripLevelSuffix("Rondo (U12)"); got != "Rondo (U12)" {
		t.Fatalf("non-level suffix must survive, got %q", got)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	r := Record{
		Title:           "Rondo (Advanced)",
		Description:     "Possession drill",
		SkillLevel:      Advanced,
		DifficultyLevel: 80,
		PositionTags:    []string{"midfielder", "defender"},
		IsVariant:       true,
		BaseVideoID:     Ref("base-1"),
		Status:          StatusPublished,
	}
	doc, err := ToDocument(r)
	if err != nil {
		t.Fatalf("to document: %v", err)
	}
	if _, ok := doc["id"]; ok {
		t.Fatal("document must not carry the id")
	}
	got, err := FromDocument("v-1", doc)
	if err != nil {
		t.Fatalf("from document: %v", err)
	}
	if got.ID != "v-1" || got.BaseID() != "base-1" || got.DifficultyLevel != 80 || len(got.PositionTags) != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFromDocument_NullBase(t *testing.T) {
	got, err := FromDocument("b-1", map[string]any{"title": "x", "isVariant": false, "baseVideoId": nil})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BaseVideoID != nil {
		t.Fatalf("expected nil base id, got %v", *got.BaseVideoID)
	}
}

func TestClone_Independent(t *testing.T) {
	r := Record{PositionTags: []string{"winger"}, BaseVideoID: Ref("b")}
	c := r.Clone()
	c.PositionTags[0] = "striker"
	*c.BaseVideoID = "other"
	if r.PositionTags[0] != "winger" || r.BaseID() != "b" {
		t.Fatal("clone shares state with original")
	}
}

func TestValidationError(t *testing.T) {
	ve := &ValidationError{Stage: "metadata-basic"}
	if ve.OrNil() != nil {
		t.Fatal("empty validation error should be nil")
	}
	ve.Add("title", "required")
	ve.Add("title", "too long")
	ve.Add("description", "required")

	err := ve.OrNil()
	var target *ValidationError
	if !errors.As(err, &target) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if target.Fields["title"] != "required" {
		t.Fatalf("expected first message kept, got %q", target.Fields["title"])
	}
	if msg := err.Error(); !strings.Contains(msg, "metadata-basic") || !strings.HasPrefix(msg, "validation failed") {
		t.Fatalf("unexpected message %q", msg)
	}
}
