// Package asset defines the training-video record shared by the upload
// pipeline and the variant reconciliation engine, plus the error taxonomy
// both report through.
package asset

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Collection is the document collection holding asset records.
const Collection = "training_videos"

// SkillLevel is the dimension variants of one family differ on.
type SkillLevel string

const (
	Beginner     SkillLevel = "beginner"
	Intermediate SkillLevel = "intermediate"
	Advanced     SkillLevel = "advanced"
)

// Levels lists every skill level in ascending order.
var Levels = []SkillLevel{Beginner, Intermediate, Advanced}

func (l SkillLevel) Valid() bool { return l.Rank() >= 0 }

// Rank orders levels ascending; unknown levels rank -1.
func (l SkillLevel) Rank() int {
	return slices.Index(Levels, l)
}

// Label is the capitalised form used in title suffixes.
func (l SkillLevel) Label() string {
	if l == "" {
		return ""
	}
	return strings.ToUpper(string(l[:1])) + string(l[1:])
}

func ParseSkillLevel(s string) (SkillLevel, error) {
	l := SkillLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown skill level %q", s)
	}
	return l, nil
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// Record is one physical piece of content at one skill level.
type Record struct {
	ID              string     `json:"id,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Category        string     `json:"category,omitempty"`
	ExerciseType    string     `json:"exerciseType,omitempty"`
	TrainingType    string     `json:"trainingType,omitempty"`
	AgeGroup        string     `json:"ageGroup,omitempty"`
	Instructions    string     `json:"instructions,omitempty"`
	Goals           []string   `json:"goals,omitempty"`
	SkillLevel      SkillLevel `json:"skillLevel"`
	DifficultyLevel int        `json:"difficultyLevel"`
	PositionTags    []string   `json:"positionSpecific,omitempty"`
	IsVariant       bool       `json:"isVariant"`
	BaseVideoID     *string    `json:"baseVideoId"`
	BinaryRef       string     `json:"binaryRef,omitempty"`
	ThumbnailRef    string     `json:"thumbnailRef,omitempty"`
	DurationSeconds float64    `json:"durationSeconds,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt,omitzero"`
	UpdatedAt       time.Time  `json:"updatedAt,omitzero"`
}

// BaseID returns the weak back-reference, or "" for base records.
func (r Record) BaseID() string {
	if r.BaseVideoID == nil {
		return ""
	}
	return *r.BaseVideoID
}

// Clone returns a deep copy; slices and the back-reference are not shared.
func (r Record) Clone() Record {
	out := r
	out.Goals = slices.Clone(r.Goals)
	out.PositionTags = slices.Clone(r.PositionTags)
	if r.BaseVideoID != nil {
		id := *r.BaseVideoID
		out.BaseVideoID = &id
	}
	return out
}

// Ref returns a pointer to a copy of id, for BaseVideoID.
func Ref(id string) *string { return &id }

// Document keys used in partial updates.
const (
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldCategory        = "category"
	FieldExerciseType    = "exerciseType"
	FieldSkillLevel      = "skillLevel"
	FieldDifficultyLevel = "difficultyLevel"
	FieldPositionTags    = "positionSpecific"
	FieldIsVariant       = "isVariant"
	FieldBaseVideoID     = "baseVideoId"
	FieldBinaryRef       = "binaryRef"
	FieldThumbnailRef    = "thumbnailRef"
	FieldDurationSeconds = "durationSeconds"
	FieldStatus          = "status"
	FieldUpdatedAt       = "updatedAt"
)

// ToDocument renders r as a JSON-compatible map without its id.
func ToDocument(r Record) (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	delete(doc, "id")
	return doc, nil
}

// FromDocument decodes a stored document. Values may come from jsonb or from
// an in-memory map; both go through JSON so slice and number types agree.
func FromDocument(id string, doc map[string]any) (Record, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode asset %s: %w", id, err)
	}
	r.ID = id
	return r, nil
}
