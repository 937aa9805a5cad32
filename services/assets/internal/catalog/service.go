// Package catalog is the administrator-facing surface of the asset service:
// browsing families, previewing and applying variant changes, and creating
// multi-difficulty batches.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/example/scout-platform/internal/platform/events"
	"github.com/example/scout-platform/internal/platform/logging"
	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/executor"
	"github.com/example/scout-platform/services/assets/internal/family"
	"github.com/example/scout-platform/services/assets/internal/reconcile"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
	"github.com/example/scout-platform/services/assets/internal/upload"
)

type Service struct {
	Store    storeclient.Client
	Executor *executor.Executor
	Batcher  *upload.Batcher
	Events   *events.Publisher
	Log      *zap.Logger
}

func New(store storeclient.Client, ev *events.Publisher, limits upload.Limits, log *zap.Logger) *Service {
	log = logging.OrNop(log)
	return &Service{
		Store:    store,
		Executor: executor.New(store, log),
		Batcher:  &upload.Batcher{Store: store, Limits: limits, Log: log},
		Events:   ev,
		Log:      log,
	}
}

// FamilyPage is one page of records grouped into families. Variants whose
// base sits on another page show up as their own singleton family.
type FamilyPage struct {
	Families   []family.Family `json:"families"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

func decodeItems(items []storeclient.Item) ([]asset.Record, error) {
	out := make([]asset.Record, 0, len(items))
	for _, it := range items {
		r, err := asset.FromDocument(it.ID, it.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) ListFamilies(ctx context.Context, q storeclient.ListQuery) (FamilyPage, error) {
	page, err := s.Store.ListDocuments(ctx, asset.Collection, q)
	if err != nil {
		return FamilyPage{}, fmt.Errorf("list assets: %w", err)
	}
	recs, err := decodeItems(page.Items)
	if err != nil {
		return FamilyPage{}, err
	}
	fams := family.Group(recs)
	for i := range fams {
		fams[i].SortVariants()
	}
	if fams == nil {
		fams = []family.Family{}
	}
	return FamilyPage{Families: fams, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
}

func (s *Service) get(ctx context.Context, id string) (asset.Record, bool, error) {
	doc, err := s.Store.GetDocument(ctx, asset.Collection, id)
	if errors.Is(err, storeclient.ErrNotFound) {
		return asset.Record{}, false, nil
	}
	if err != nil {
		return asset.Record{}, false, fmt.Errorf("get asset %s: %w", id, err)
	}
	r, err := asset.FromDocument(id, doc)
	return r, err == nil, err
}

// dependants returns every record whose baseVideoId is id, across all pages.
func (s *Service) dependants(ctx context.Context, id string) ([]asset.Record, error) {
	q := storeclient.ListQuery{
		Filter:   storeclient.Document{asset.FieldBaseVideoID: id},
		PageSize: storeclient.MaxPageSize,
	}
	var out []asset.Record
	for {
		page, err := s.Store.ListDocuments(ctx, asset.Collection, q)
		if err != nil {
			return nil, fmt.Errorf("list dependants of %s: %w", id, err)
		}
		recs, err := decodeItems(page.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		if !page.HasMore {
			return out, nil
		}
		q.Cursor = page.NextCursor
	}
}

func baseShaped(r asset.Record) bool { return !r.IsVariant && r.BaseVideoID == nil }

// LoadFamily fetches the complete family anchored at id without any paging
// window. Passing a variant id loads its base's family.
//
// A family whose base no longer exists (a run aborted between deleting the
// old base and promoting its replacement) is still returned: every record
// within two hops of the missing id is collected and the lowest-level one
// stands in as base. Planning against it promotes that record.
func (s *Service) LoadFamily(ctx context.Context, id string) (family.Family, error) {
	anchor := id
	rec, found, err := s.get(ctx, id)
	if err != nil {
		return family.Family{}, err
	}
	if found && !baseShaped(rec) && rec.BaseID() != "" && rec.BaseID() != rec.ID {
		parent, ok, err := s.get(ctx, rec.BaseID())
		if err != nil {
			return family.Family{}, err
		}
		switch {
		case !ok:
			anchor, found = rec.BaseID(), false
		case baseShaped(parent):
			anchor, rec = parent.ID, parent
		}
	}

	members := make(map[string]asset.Record)
	var order []string
	add := func(rs ...asset.Record) {
		for _, r := range rs {
			if _, dup := members[r.ID]; !dup && r.ID != anchor {
				members[r.ID] = r
				order = append(order, r.ID)
			}
		}
	}
	hop1, err := s.dependants(ctx, anchor)
	if err != nil {
		return family.Family{}, err
	}
	add(hop1...)
	for _, r := range hop1 {
		hop2, err := s.dependants(ctx, r.ID)
		if err != nil {
			return family.Family{}, err
		}
		add(hop2...)
	}

	rest := make([]asset.Record, 0, len(order))
	for _, mid := range order {
		rest = append(rest, members[mid])
	}
	if found {
		if !baseShaped(rec) {
			s.Log.Info("loading family with a non-base anchor", zap.String("record_id", rec.ID))
		}
		f := family.Family{Base: rec, Variants: rest}
		f.SortVariants()
		return f, nil
	}
	if len(rest) == 0 {
		return family.Family{}, fmt.Errorf("family %s: %w", id, storeclient.ErrNotFound)
	}

	slices.SortFunc(rest, func(a, b asset.Record) int {
		if d := a.SkillLevel.Rank() - b.SkillLevel.Rank(); d != 0 {
			return d
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	s.Log.Warn("family base missing, using provisional base",
		zap.String("missing_base_id", anchor),
		zap.String("provisional_base_id", rest[0].ID),
		zap.Int("members", len(rest)),
	)
	return family.Family{Base: rest[0], Variants: rest[1:]}, nil
}

// Preview returns the plan Reconcile would apply, without writing anything.
func (s *Service) Preview(ctx context.Context, baseID string, desired reconcile.DesiredVariantSet) (family.Family, reconcile.VariantPlan, error) {
	if err := reconcile.Validate(desired); err != nil {
		return family.Family{}, reconcile.VariantPlan{}, err
	}
	f, err := s.LoadFamily(ctx, baseID)
	if err != nil {
		return family.Family{}, reconcile.VariantPlan{}, err
	}
	p, err := reconcile.Plan(f, desired)
	if err != nil {
		return f, reconcile.VariantPlan{}, err
	}
	return f, p, nil
}

// Outcome is what a reconciliation run planned and how far it got.
type Outcome struct {
	Plan   reconcile.VariantPlan `json:"plan"`
	Result executor.Result       `json:"result"`
}

// Reconcile loads the family, plans against desired and applies the plan.
// An aborted run returns its Outcome together with the *executor.ExecutionError;
// calling Reconcile again with the same desired set resumes from wherever it
// stopped.
func (s *Service) Reconcile(ctx context.Context, actorID, baseID string, desired reconcile.DesiredVariantSet) (Outcome, error) {
	f, p, err := s.Preview(ctx, baseID, desired)
	if err != nil {
		var iv *asset.InvariantViolation
		if errors.As(err, &iv) {
			s.Log.Error("planner produced an invalid plan", zap.String("base_id", baseID), zap.Error(err))
		}
		return Outcome{}, err
	}

	out := Outcome{Plan: p}
	res, err := s.Executor.ExecutePlan(ctx, p)
	out.Result = res
	props := map[string]any{
		"requested_base_id": baseID,
		"base_id":           p.BaseID,
		"record_ids":        f.IDs(),
		"operations":        len(p.Operations),
		"applied":           res.AppliedCount,
	}
	if err != nil {
		props["failed_index"] = res.FailedAt.Index
		props["failed_operation"] = res.FailedAt.Operation.String()
		props["error"] = err.Error()
		s.Events.Publish(events.SubjectFamilyPlanAborted, actorID, props)
		return out, err
	}
	if !p.Empty() {
		props["deleted"] = p.Count(reconcile.KindDelete)
		props["created"] = p.Count(reconcile.KindCreate)
		props["promoted"] = p.Count(reconcile.KindPromote) > 0
		s.Events.Publish(events.SubjectFamilyReconciled, actorID, props)
	}
	return out, nil
}

// CreateBatch uploads one file and creates a record per enabled level.
func (s *Service) CreateBatch(ctx context.Context, actorID string, req upload.BatchRequest, onProgress storeclient.ProgressFunc) (upload.BatchResult, error) {
	res, err := s.Batcher.Create(ctx, req, onProgress)
	if res.Base != nil {
		ids := make([]string, 0, len(res.Variants))
		for _, v := range res.Variants {
			ids = append(ids, v.ID)
		}
		s.Events.Publish(events.SubjectUploadCompleted, actorID, map[string]any{
			"source":      "batch",
			"record_id":   res.Base.ID,
			"variant_ids": ids,
			"binary_ref":  res.Base.BinaryRef,
			"partial":     err != nil,
		})
	}
	return res, err
}

// NewSession starts a staged upload against the service store and limits.
// Publishing the record emits SubjectUploadCompleted attributed to actorID.
// opts apply after the service defaults; completion hooks in opts run after
// the event is published.
func (s *Service) NewSession(actorID string, opts ...upload.Option) *upload.Session {
	base := []upload.Option{
		upload.WithLimits(s.Batcher.Limits),
		upload.WithLogger(s.Log.With(zap.String("actor_id", actorID))),
		upload.WithCompletion(func(_ context.Context, rec asset.Record) {
			s.Events.Publish(events.SubjectUploadCompleted, actorID, map[string]any{
				"source":        "session",
				"record_id":     rec.ID,
				"binary_ref":    rec.BinaryRef,
				"thumbnail_ref": rec.ThumbnailRef,
				"skill_level":   string(rec.SkillLevel),
			})
		}),
	}
	return upload.NewSession(s.Store, append(base, opts...)...)
}

// DownloadURL resolves a record's binary to a fetchable URL.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	rec, found, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	if !found || rec.BinaryRef == "" {
		return "", fmt.Errorf("binary for %s: %w", id, storeclient.ErrNotFound)
	}
	return s.Store.DownloadReference(ctx, rec.BinaryRef)
}
