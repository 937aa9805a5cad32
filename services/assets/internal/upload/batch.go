package upload

import (
	"context"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

// Share of the batch progress bar given to the single binary transfer; the
// rest is spread over the document creations.
const transferWeight = 90.0

// LevelSpec enables one skill level for a batch.
type LevelSpec struct {
	Level     asset.SkillLevel `json:"skillLevel"`
	Threshold int              `json:"difficultyLevel"`
}

type BatchRequest struct {
	Metadata Metadata
	Levels   []LevelSpec
	File     *File
}

// BatchResult holds whatever was created, also on partial failure.
type BatchResult struct {
	Base     *asset.Record  `json:"base,omitempty"`
	Variants []asset.Record `json:"variants"`
}

// Records returns base first, then variants.
func (r BatchResult) Records() []asset.Record {
	var out []asset.Record
	if r.Base != nil {
		out = append(out, *r.Base)
	}
	return append(out, r.Variants...)
}

// Batcher creates one record per enabled level from a single physical file.
type Batcher struct {
	Store  storeclient.Client
	Limits Limits
	Log    *zap.Logger
	Now    func() time.Time
}

func (b *Batcher) logger() *zap.Logger {
	if b.Log == nil {
		return zap.NewNop()
	}
	return b.Log
}

func (b *Batcher) now() time.Time {
	if b.Now == nil {
		return time.Now().UTC()
	}
	return b.Now().UTC()
}

func validateBatch(req BatchRequest, lim Limits) error {
	v := &asset.ValidationError{Stage: "batch"}
	if err := validateBasic(req.Metadata); err != nil {
		for k, msg := range err.(*asset.ValidationError).Fields {
			v.Add(k, msg)
		}
	}
	if len(req.Levels) == 0 {
		v.Add("levels", "enable at least one skill level")
	}
	seen := make(map[asset.SkillLevel]bool)
	for _, l := range req.Levels {
		switch {
		case !l.Level.Valid():
			v.Add("levels", fmt.Sprintf("unknown skill level %q", l.Level))
		case seen[l.Level]:
			v.Add("levels", fmt.Sprintf("duplicate skill level %q", l.Level))
		case l.Threshold < 0:
			v.Add("levels", fmt.Sprintf("negative threshold for %s", l.Level))
		}
		seen[l.Level] = true
	}
	if err := validateVideo(req.File, lim); err != nil {
		for k, msg := range err.(*asset.ValidationError).Fields {
			v.Add(k, msg)
		}
	}
	return v.OrNil()
}

// Create uploads the file once, creates the base record for the lowest
// enabled level and one variant per further level, all sharing the binary.
// Creation stops at the first store error; records created before it are
// returned alongside the error.
func (b *Batcher) Create(ctx context.Context, req BatchRequest, onProgress storeclient.ProgressFunc) (BatchResult, error) {
	if err := validateBatch(req, b.Limits); err != nil {
		return BatchResult{}, err
	}
	levels := slices.Clone(req.Levels)
	slices.SortFunc(levels, func(a, c LevelSpec) int { return a.Level.Rank() - c.Level.Rank() })

	report := func(float64) {}
	if onProgress != nil {
		report = onProgress
	}
	log := b.logger()

	objectPath := path.Join("videos", uuid.NewString()+req.File.extension())
	ref, err := b.Store.UploadBinary(ctx, objectPath, req.File, func(pct float64) {
		report(pct * transferWeight / 100)
	}).Wait()
	if err != nil {
		log.Warn("batch transfer failed", zap.String("path", objectPath), zap.Error(err))
		return BatchResult{}, err
	}
	report(transferWeight)

	var (
		res BatchResult
		now = b.now()
	)
	for i, l := range levels {
		rec := asset.Record{}
		req.Metadata.apply(&rec)
		rec.SkillLevel = l.Level
		rec.DifficultyLevel = l.Threshold
		rec.BinaryRef = ref
		rec.DurationSeconds = req.File.DurationSeconds
		rec.Status = asset.StatusPublished
		rec.CreatedAt, rec.UpdatedAt = now, now
		if i > 0 {
			rec.IsVariant = true
			rec.BaseVideoID = asset.Ref(res.Base.ID)
			rec.Title = asset.LevelTitle(rec.Title, l.Level)
		} else {
			rec.Title = asset.StripLevelSuffix(rec.Title)
		}

		doc, err := asset.ToDocument(rec)
		if err != nil {
			return res, err
		}
		id, err := b.Store.CreateDocument(ctx, asset.Collection, doc)
		if err != nil {
			log.Warn("batch create failed", zap.String("skill_level", string(l.Level)), zap.Int("created", len(res.Records())), zap.Error(err))
			return res, fmt.Errorf("create %s record: %w", l.Level, err)
		}
		rec.ID = id
		if i == 0 {
			res.Base = &rec
		} else {
			res.Variants = append(res.Variants, rec)
		}
		report(transferWeight + (100-transferWeight)*float64(i+1)/float64(len(levels)))
	}
	log.Info("batch created", zap.String("base_id", res.Base.ID), zap.Int("variants", len(res.Variants)), zap.String("binary_ref", ref))
	return res, nil
}
