// Package upload drives the staged training-video submission: three metadata
// gates, the video transfer, an optional thumbnail transfer, and the
// single-file multi-difficulty batch used by the quick upload path.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

type Stage string

const (
	StageMetadataBasic    Stage = "metadata-basic"
	StageMetadataTraining Stage = "metadata-training"
	StageMetadataDetails  Stage = "metadata-details"
	StageVideo            Stage = "video"
	StageThumbnail        Stage = "thumbnail"
	StageCompleted        Stage = "completed"
)

var stageOrder = []Stage{
	StageMetadataBasic,
	StageMetadataTraining,
	StageMetadataDetails,
	StageVideo,
	StageThumbnail,
	StageCompleted,
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

var (
	ErrSessionClosed = errors.New("upload session closed")
	ErrBusy          = errors.New("upload session has a transfer in flight")
	ErrCompleted     = errors.New("upload session already completed")
	ErrWrongStage    = errors.New("operation not allowed at this stage")
)

// ProgressFunc receives per-transfer progress for the video and thumbnail stages.
type ProgressFunc func(stage Stage, percent float64)

// CompletionFunc is invoked once the record is published.
type CompletionFunc func(ctx context.Context, rec asset.Record)

type Option func(*Session)

func WithLimits(l Limits) Option { return func(s *Session) { s.limits = l } }

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

func WithProgress(fn ProgressFunc) Option { return func(s *Session) { s.onProgress = fn } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithCompletion registers a hook run after the record is published, e.g. to
// emit an event. Hooks run in registration order.
func WithCompletion(fn CompletionFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.onComplete = append(s.onComplete, fn)
		}
	}
}

// Session owns one in-flight staged submission. Methods are safe to call
// from multiple goroutines; Advance blocks while a transfer runs and Cancel
// may be called concurrently to abort it.
type Session struct {
	store      storeclient.Client
	limits     Limits
	log        *zap.Logger
	onProgress ProgressFunc
	onComplete []CompletionFunc
	now        func() time.Time

	mu        sync.Mutex
	stage     Stage
	meta      Metadata
	record    asset.Record
	file      *File
	thumb     *File
	uploaded  *File // file whose binary is on record.BinaryRef
	thumbDone *File // thumbnail whose binary is on record.ThumbnailRef
	progress  map[Stage]float64
	errs      map[Stage]error
	inflight  *storeclient.Transfer
	idle      chan struct{}      // non-nil while an advance is running
	abort     context.CancelFunc // cancels the running advance
	closed    bool
}

func NewSession(store storeclient.Client, opts ...Option) *Session {
	s := &Session{
		store:  store,
		limits: DefaultLimits(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.resetLocked()
	return s
}

func (s *Session) resetLocked() {
	s.stage = StageMetadataBasic
	s.meta = Metadata{}
	s.record = asset.Record{}
	s.file, s.thumb, s.uploaded, s.thumbDone = nil, nil, nil, nil
	s.progress = make(map[Stage]float64)
	s.errs = make(map[Stage]error)
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.clone()
}

// SetMetadata replaces the metadata draft. It is accepted at any stage
// before completion; the created record picks up late edits when published.
func (s *Session) SetMetadata(m Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	s.meta = m.clone()
	return nil
}

// Record returns the draft record: empty id until the video stage succeeds.
func (s *Session) Record() asset.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

func (s *Session) SelectedFile() *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

func (s *Session) SelectedThumbnail() *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumb
}

func (s *Session) SelectFile(f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	s.file = f
	delete(s.errs, StageVideo)
	s.progress[StageVideo] = 0
	return nil
}

func (s *Session) SelectThumbnail(f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	s.thumb = f
	delete(s.errs, StageThumbnail)
	s.progress[StageThumbnail] = 0
	return nil
}

// Err returns the error attached to stage by its last failed advance.
func (s *Session) Err(stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[stage]
}

// Progress returns the last reported percentage for a transfer stage.
func (s *Session) Progress(stage Stage) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[stage]
}

func (s *Session) usableLocked() error {
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.idle != nil:
		return ErrBusy
	case s.stage == StageCompleted:
		return ErrCompleted
	}
	return nil
}

// Back moves one stage backwards without discarding anything. It is a no-op
// at the first stage.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	if i := s.stage.index(); i > 0 {
		s.stage = stageOrder[i-1]
	}
	return nil
}

// Cancel aborts the running advance, if any, and reports whether one was
// running. A transfer that has not started yet never starts. The stage does
// not change.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	abort, t := s.abort, s.inflight
	s.mu.Unlock()
	if abort == nil {
		return false
	}
	abort()
	if t != nil {
		t.Cancel()
	}
	return true
}

// Close disposes of the session. An outstanding transfer is cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Cancel()
}

// Reset discards the draft and starts over at the first stage. Anything
// already committed to the store stays there.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	idle := s.idle
	s.mu.Unlock()
	s.Cancel()
	if idle != nil {
		<-idle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

// Advance runs the current stage's gate and, for the transfer stages, the
// transfer itself. On failure the stage is unchanged and the error is both
// returned and attached to the stage.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	stage := s.stage
	var err error
	switch stage {
	case StageMetadataBasic:
		err = validateBasic(s.meta)
	case StageMetadataTraining:
		err = validateTraining(s.meta)
	case StageMetadataDetails:
		err = validateDetails(s.meta)
	case StageVideo:
		err = validateVideo(s.file, s.limits)
	case StageThumbnail:
		err = validateThumbnail(s.thumb, s.limits)
	}
	if err != nil {
		s.errs[stage] = err
		s.mu.Unlock()
		return err
	}
	delete(s.errs, stage)

	switch stage {
	case StageVideo:
		ctx = s.beginLocked(ctx)
		s.mu.Unlock()
		err = s.runVideo(ctx)
	case StageThumbnail:
		ctx = s.beginLocked(ctx)
		s.mu.Unlock()
		err = s.runThumbnail(ctx)
		if err == nil {
			err = s.publish(ctx)
		}
	default:
		s.stage = stageOrder[stage.index()+1]
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
	if err != nil {
		s.errs[stage] = err
		return err
	}
	if stage == StageVideo {
		s.stage = StageThumbnail
	} else {
		s.stage = StageCompleted
	}
	return nil
}

// Skip leaves the thumbnail stage without a thumbnail and publishes.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.stage != StageThumbnail {
		s.mu.Unlock()
		return fmt.Errorf("skip at %s: %w", s.stage, ErrWrongStage)
	}
	ctx = s.beginLocked(ctx)
	s.mu.Unlock()

	err := s.publish(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
	if err != nil {
		s.errs[StageThumbnail] = err
		return err
	}
	delete(s.errs, StageThumbnail)
	s.stage = StageCompleted
	return nil
}

// beginLocked marks an advance as running and returns the context it must
// use, so Cancel reaches it before any transfer handle exists.
func (s *Session) beginLocked(ctx context.Context) context.Context {
	ctx, s.abort = context.WithCancel(ctx)
	s.idle = make(chan struct{})
	return ctx
}

func (s *Session) endLocked() {
	s.abort()
	s.abort = nil
	close(s.idle)
	s.idle = nil
}

// Completed returns the published record once the session is terminal.
func (s *Session) Completed() (asset.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageCompleted {
		return asset.Record{}, false
	}
	return s.record.Clone(), true
}

// transfer uploads f and blocks until it resolves. The handle is registered
// under the lock so Close and Cancel always see it.
func (s *Session) transfer(ctx context.Context, stage Stage, objectPath string, f *File) (string, error) {
	var (
		pmu      sync.Mutex
		lastStep = -1
	)
	onProgress := func(pct float64) {
		s.mu.Lock()
		s.progress[stage] = pct
		s.mu.Unlock()
		if s.onProgress != nil {
			s.onProgress(stage, pct)
		}
		pmu.Lock()
		step := int(pct) / 10
		logIt := step > lastStep
		if logIt {
			lastStep = step
		}
		pmu.Unlock()
		if logIt {
			s.log.Debug("upload progress", zap.String("stage", string(stage)), zap.String("path", objectPath), zap.Float64("percent", pct))
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		s.log.Info("transfer canceled before start", zap.String("stage", string(stage)), zap.String("path", objectPath))
		return "", fmt.Errorf("%w: %s", storeclient.ErrTransferCanceled, objectPath)
	}
	t := s.store.UploadBinary(ctx, objectPath, f, onProgress)
	s.inflight = t
	s.mu.Unlock()

	ref, err := t.Wait()

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, storeclient.ErrTransferCanceled) {
			s.log.Info("transfer canceled", zap.String("stage", string(stage)), zap.String("path", objectPath))
		} else {
			s.log.Warn("transfer failed", zap.String("stage", string(stage)), zap.String("path", objectPath), zap.Error(err))
		}
		return "", err
	}
	return ref, nil
}

func (s *Session) runVideo(ctx context.Context) error {
	s.mu.Lock()
	f := s.file
	rec := s.record.Clone()
	already := s.uploaded == f && rec.BinaryRef != ""
	s.meta.apply(&rec)
	s.mu.Unlock()

	if !already {
		objectPath := path.Join("videos", uuid.NewString()+f.extension())
		ref, err := s.transfer(ctx, StageVideo, objectPath, f)
		if err != nil {
			return err
		}
		rec.BinaryRef = ref
		rec.DurationSeconds = f.DurationSeconds
		s.mu.Lock()
		s.record.BinaryRef = ref
		s.record.DurationSeconds = f.DurationSeconds
		s.uploaded = f
		s.mu.Unlock()
	}

	now := s.now().UTC()
	if rec.ID == "" {
		rec.Status = asset.StatusProcessing
		rec.CreatedAt, rec.UpdatedAt = now, now
		doc, err := asset.ToDocument(rec)
		if err != nil {
			return err
		}
		id, err := s.store.CreateDocument(ctx, asset.Collection, doc)
		if err != nil {
			s.log.Warn("create asset document failed", zap.String("binary_ref", rec.BinaryRef), zap.Error(err))
			return fmt.Errorf("create asset: %w", err)
		}
		rec.ID = id
		s.log.Info("asset created", zap.String("record_id", id), zap.String("binary_ref", rec.BinaryRef))
	} else if !already {
		// Re-selected file after the record exists: re-point it.
		if err := s.store.UpdateDocument(ctx, asset.Collection, rec.ID, storeclient.Document{
			asset.FieldBinaryRef:       rec.BinaryRef,
			asset.FieldDurationSeconds: rec.DurationSeconds,
			asset.FieldUpdatedAt:       now,
		}); err != nil {
			return fmt.Errorf("update asset %s: %w", rec.ID, err)
		}
		rec.UpdatedAt = now
	}

	s.mu.Lock()
	s.record = rec
	s.mu.Unlock()
	return nil
}

func (s *Session) runThumbnail(ctx context.Context) error {
	s.mu.Lock()
	f := s.thumb
	rec := s.record.Clone()
	already := s.thumbDone == f && rec.ThumbnailRef != ""
	s.mu.Unlock()
	if already {
		return nil
	}

	objectPath := path.Join("thumbnails", rec.ID+f.extension())
	ref, err := s.transfer(ctx, StageThumbnail, objectPath, f)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.UpdateDocument(ctx, asset.Collection, rec.ID, storeclient.Document{
		asset.FieldThumbnailRef: ref,
		asset.FieldUpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("attach thumbnail to %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	s.record.ThumbnailRef = ref
	s.record.UpdatedAt = now
	s.thumbDone = f
	s.mu.Unlock()
	return nil
}

// publish writes the final metadata and flips the record to published.
func (s *Session) publish(ctx context.Context) error {
	s.mu.Lock()
	rec := s.record.Clone()
	s.meta.apply(&rec)
	s.mu.Unlock()

	rec.Status = asset.StatusPublished
	rec.UpdatedAt = s.now().UTC()
	doc, err := asset.ToDocument(rec)
	if err != nil {
		return err
	}
	if err := s.store.UpdateDocument(ctx, asset.Collection, rec.ID, doc); err != nil {
		return fmt.Errorf("publish asset %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	s.record = rec
	s.mu.Unlock()
	s.log.Info("asset published", zap.String("record_id", rec.ID))
	for _, fn := range s.onComplete {
		fn(ctx, rec.Clone())
	}
	return nil
}
