package upload

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

// Limits are the binary ceilings enforced at the video and thumbnail gates.
type Limits struct {
	MaxVideoBytes     int64
	MaxVideoSeconds   float64
	MaxThumbnailBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxVideoBytes:     500 << 20,
		MaxVideoSeconds:   15 * 60,
		MaxThumbnailBytes: 5 << 20,
	}
}

// Metadata is the descriptive part of the draft edited across the three
// metadata stages.
type Metadata struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Category        string           `json:"category,omitempty"`
	ExerciseType    string           `json:"exerciseType,omitempty"`
	TrainingType    string           `json:"trainingType,omitempty"`
	AgeGroup        string           `json:"ageGroup,omitempty"`
	PositionTags    []string         `json:"positionSpecific,omitempty"`
	Instructions    string           `json:"instructions,omitempty"`
	Goals           []string         `json:"goals,omitempty"`
	SkillLevel      asset.SkillLevel `json:"skillLevel,omitempty"`
	DifficultyLevel int              `json:"difficultyLevel,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.PositionTags = append([]string(nil), m.PositionTags...)
	m.Goals = append([]string(nil), m.Goals...)
	return m
}

// apply copies m onto r, leaving identity, references and status alone.
func (m Metadata) apply(r *asset.Record) {
	r.Title = strings.TrimSpace(m.Title)
	r.Description = strings.TrimSpace(m.Description)
	r.Category = m.Category
	r.ExerciseType = m.ExerciseType
	r.TrainingType = m.TrainingType
	r.AgeGroup = m.AgeGroup
	r.PositionTags = nonEmpty(m.PositionTags)
	r.Instructions = strings.TrimSpace(m.Instructions)
	r.Goals = nonEmpty(m.Goals)
	r.SkillLevel = m.SkillLevel
	if r.SkillLevel == "" {
		r.SkillLevel = asset.Beginner
	}
	r.DifficultyLevel = m.DifficultyLevel
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validateBasic(m Metadata) error {
	v := &asset.ValidationError{Stage: string(StageMetadataBasic)}
	title := strings.TrimSpace(m.Title)
	switch {
	case title == "":
		v.Add("title", "required")
	case utf8.RuneCountInString(title) > MaxTitleLen:
		v.Add("title", fmt.Sprintf("must be at most %d characters", MaxTitleLen))
	}
	desc := strings.TrimSpace(m.Description)
	switch {
	case desc == "":
		v.Add("description", "required")
	case utf8.RuneCountInString(desc) > MaxDescriptionLen:
		v.Add("description", fmt.Sprintf("must be at most %d characters", MaxDescriptionLen))
	}
	if m.SkillLevel != "" && !m.SkillLevel.Valid() {
		v.Add("skillLevel", "unknown skill level")
	}
	if m.DifficultyLevel < 0 {
		v.Add("difficultyLevel", "must not be negative")
	}
	return v.OrNil()
}

func validateTraining(m Metadata) error {
	v := &asset.ValidationError{Stage: string(StageMetadataTraining)}
	if strings.TrimSpace(m.TrainingType) == "" {
		v.Add("trainingType", "required")
	}
	if strings.TrimSpace(m.AgeGroup) == "" {
		v.Add("ageGroup", "required")
	}
	if len(nonEmpty(m.PositionTags)) == 0 {
		v.Add("positionSpecific", "select at least one position")
	}
	return v.OrNil()
}

func validateDetails(m Metadata) error {
	v := &asset.ValidationError{Stage: string(StageMetadataDetails)}
	if strings.TrimSpace(m.Instructions) == "" {
		v.Add("instructions", "required")
	}
	if len(nonEmpty(m.Goals)) == 0 {
		v.Add("goals", "add at least one goal")
	}
	return v.OrNil()
}

func validateVideo(f *File, lim Limits) error {
	v := &asset.ValidationError{Stage: string(StageVideo)}
	if f == nil {
		v.Add("file", "select a video file")
		return v
	}
	if !strings.HasPrefix(f.ContentType(), "video/") {
		v.Add("file", fmt.Sprintf("unsupported type %q, expected a video", f.ContentType()))
	}
	if f.Size() <= 0 {
		v.Add("size", "file is empty")
	} else if lim.MaxVideoBytes > 0 && f.Size() > lim.MaxVideoBytes {
		v.Add("size", fmt.Sprintf("%d bytes exceeds the %d byte limit", f.Size(), lim.MaxVideoBytes))
	}
	// Unknown duration (0) is accepted; the gate only rejects a known overrun.
	if lim.MaxVideoSeconds > 0 && f.DurationSeconds > lim.MaxVideoSeconds {
		v.Add("duration", fmt.Sprintf("%.0fs exceeds the %.0fs limit", f.DurationSeconds, lim.MaxVideoSeconds))
	}
	if f.DurationSeconds < 0 {
		v.Add("duration", "must not be negative")
	}
	return v.OrNil()
}

func validateThumbnail(f *File, lim Limits) error {
	v := &asset.ValidationError{Stage: string(StageThumbnail)}
	if f == nil {
		v.Add("thumbnail", "select an image or skip this step")
		return v
	}
	if !strings.HasPrefix(f.ContentType(), "image/") {
		v.Add("thumbnail", fmt.Sprintf("unsupported type %q, expected an image", f.ContentType()))
	}
	if f.Size() <= 0 {
		v.Add("size", "file is empty")
	} else if lim.MaxThumbnailBytes > 0 && f.Size() > lim.MaxThumbnailBytes {
		v.Add("size", fmt.Sprintf("%d bytes exceeds the %d byte limit", f.Size(), lim.MaxThumbnailBytes))
	}
	return v.OrNil()
}

// File is a selected binary plus what the gates need to know about it.
type File struct {
	Name            string
	DurationSeconds float64

	src         storeclient.Source
	contentType string
}

// NewFile wraps src. The declared content type is trusted unless it is empty
// or generic, in which case the leading bytes are sniffed.
func NewFile(name string, src storeclient.Source, durationSeconds float64) (*File, error) {
	if src == nil {
		return nil, errors.New("upload: nil source")
	}
	ct := normalizeType(src.ContentType())
	if ct == "" || ct == "application/octet-stream" {
		sniffed, err := sniff(src)
		if err != nil {
			return nil, fmt.Errorf("upload: sniff %s: %w", name, err)
		}
		ct = sniffed
	}
	return &File{Name: name, DurationSeconds: durationSeconds, src: src, contentType: ct}, nil
}

func normalizeType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func sniff(src storeclient.Source) (string, error) {
	rc, err := src.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	mt, err := mimetype.DetectReader(io.LimitReader(rc, 3072))
	if err != nil {
		return "", err
	}
	return normalizeType(mt.String()), nil
}

func (f *File) Open() (io.ReadSeekCloser, error) { return f.src.Open() }
func (f *File) Size() int64                      { return f.src.Size() }
func (f *File) ContentType() string              { return f.contentType }

// extension picks the object-path suffix from the name, falling back to the
// sniffed type.
func (f *File) extension() string {
	if i := strings.LastIndexByte(f.Name, '.'); i >= 0 && i < len(f.Name)-1 {
		ext := strings.ToLower(f.Name[i:])
		if !strings.ContainsAny(ext, "/\\ ") {
			return ext
		}
	}
	if mt := mimetype.Lookup(f.contentType); mt != nil {
		return mt.Extension()
	}
	return ""
}
