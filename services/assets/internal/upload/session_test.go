package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

func validMetadata() Metadata {
	return Metadata{
		Title:        "Rondo",
		Description:  "Five-a-side possession drill",
		Category:     "passing",
		ExerciseType: "drill",
		TrainingType: "technical",
		AgeGroup:     "u15",
		PositionTags: []string{"midfielder"},
		Instructions: "Keep the ball inside the square",
		Goals:        []string{"first touch"},
		SkillLevel:   asset.Beginner,
	}
}

func videoFile(t *testing.T, size int) *File {
	t.Helper()
	f, err := NewFile("drill.mp4", storeclient.BytesSource{Data: bytes.Repeat([]byte{1}, size), Type: "video/mp4"}, 42)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func imageFile(t *testing.T) *File {
	t.Helper()
	f, err := NewFile("thumb.jpg", storeclient.BytesSource{Data: []byte("jpeg-bytes"), Type: "image/jpeg"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// toVideo fills all metadata and advances to the video stage.
func toVideo(t *testing.T, s *Session) {
	t.Helper()
	if err := s.SetMetadata(validMetadata()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Advance(context.Background()); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	if s.Stage() != StageVideo {
		t.Fatalf("expected video stage, got %s", s.Stage())
	}
}

func TestStageGate(t *testing.T) {
	s := NewSession(storeclient.NewMemory())

	err := s.Advance(context.Background())
	var ve *asset.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := ve.Fields["title"]; !ok {
		t.Fatalf("expected title violation, got %v", ve.Fields)
	}
	if s.Stage() != StageMetadataBasic {
		t.Fatalf("stage moved on failed gate: %s", s.Stage())
	}
	if s.Err(StageMetadataBasic) == nil {
		t.Fatal("expected error attached to stage")
	}

	m := s.Metadata()
	m.Title = "Rondo"
	m.Description = "Possession"
	if err := s.SetMetadata(m); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Stage() != StageMetadataTraining {
		t.Fatalf("expected metadata-training, got %s", s.Stage())
	}
	if s.Err(StageMetadataBasic) != nil {
		t.Fatal("error should clear once the gate passes")
	}
}

func TestMetadataLimits(t *testing.T) {
	m := validMetadata()
	m.Title = string(bytes.Repeat([]byte("a"), MaxTitleLen+1))
	m.Description = string(bytes.Repeat([]byte("b"), MaxDescriptionLen+1))
	err := validateBasic(m)
	var ve *asset.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("expected title and description violations, got %v", err)
	}

	m = validMetadata()
	m.PositionTags = []string{"  "}
	m.AgeGroup = ""
	if err := validateTraining(m); !errors.As(err, &ve) || ve.Fields["positionSpecific"] == "" || ve.Fields["ageGroup"] == "" {
		t.Fatalf("expected training violations, got %v", err)
	}

	m = validMetadata()
	m.Goals = nil
	if err := validateDetails(m); !errors.As(err, &ve) || ve.Fields["goals"] == "" {
		t.Fatalf("expected goals violation, got %v", err)
	}
}

func TestNoSkipAhead(t *testing.T) {
	s := NewSession(storeclient.NewMemory())
	m := validMetadata()
	m.TrainingType = ""
	_ = s.SetMetadata(m)
	if err := s.Advance(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(context.Background()); err == nil {
		t.Fatal("expected training gate to block")
	}
	if err := s.Skip(context.Background()); !errors.Is(err, ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage, got %v", err)
	}
	if s.Stage() != StageMetadataTraining {
		t.Fatalf("unexpected stage %s", s.Stage())
	}
}

func TestBackPreservesData(t *testing.T) {
	s := NewSession(storeclient.NewMemory())
	toVideo(t, s)
	f := videoFile(t, 10)
	_ = s.SelectFile(f)

	for i := 0; i < 5; i++ {
		if err := s.Back(); err != nil {
			t.Fatal(err)
		}
	}
	if s.Stage() != StageMetadataBasic {
		t.Fatalf("expected first stage, got %s", s.Stage())
	}
	if s.Metadata().Title != "Rondo" || s.SelectedFile() != f {
		t.Fatal("back must keep previously entered data")
	}
}

func TestVideoGateRejectsBadFiles(t *testing.T) {
	lim := Limits{MaxVideoBytes: 100, MaxVideoSeconds: 60, MaxThumbnailBytes: 10}
	s := NewSession(storeclient.NewMemory(), WithLimits(lim))
	toVideo(t, s)

	if err := s.Advance(context.Background()); err == nil {
		t.Fatal("expected missing file to fail")
	}

	img := imageFile(t)
	long, _ := NewFile("long.mp4", storeclient.BytesSource{Data: []byte("x"), Type: "video/mp4"}, 61)
	cases := map[string]*File{
		"file":     img,
		"size":     videoFile(t, 101),
		"duration": long,
	}
	for field, f := range cases {
		_ = s.SelectFile(f)
		err := s.Advance(context.Background())
		var ve *asset.ValidationError
		if !errors.As(err, &ve) || ve.Fields[field] == "" {
			t.Fatalf("%s: expected violation, got %v", field, err)
		}
		if s.Stage() != StageVideo {
			t.Fatalf("%s: stage moved", field)
		}
	}
}

func TestFullFlowWithThumbnail(t *testing.T) {
	mem := storeclient.NewMemory()
	mem.ChunkSize = 8
	var (
		mu        sync.Mutex
		progress  = map[Stage][]float64{}
		completed []asset.Record
	)
	s := NewSession(mem,
		WithProgress(func(st Stage, p float64) {
			mu.Lock()
			progress[st] = append(progress[st], p)
			mu.Unlock()
		}),
		WithCompletion(func(_ context.Context, r asset.Record) { completed = append(completed, r) }),
	)
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 64))
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("video: %v", err)
	}
	if s.Stage() != StageThumbnail {
		t.Fatalf("expected thumbnail stage, got %s", s.Stage())
	}
	rec := s.Record()
	if rec.ID == "" || rec.BinaryRef == "" {
		t.Fatalf("draft not updated after transfer: %+v", rec)
	}
	doc, err := mem.GetDocument(context.Background(), asset.Collection, rec.ID)
	if err != nil || doc["status"] != string(asset.StatusProcessing) {
		t.Fatalf("expected processing document, got %v, %v", doc, err)
	}

	_ = s.SelectThumbnail(imageFile(t))
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	final, ok := s.Completed()
	if !ok || final.Status != asset.StatusPublished || final.ThumbnailRef == "" {
		t.Fatalf("unexpected final record: %+v", final)
	}
	doc, _ = mem.GetDocument(context.Background(), asset.Collection, rec.ID)
	stored, _ := asset.FromDocument(rec.ID, doc)
	if stored.Status != asset.StatusPublished || stored.ThumbnailRef != final.ThumbnailRef || stored.Title != "Rondo" {
		t.Fatalf("store not patched: %+v", stored)
	}
	if mem.Len(asset.Collection) != 1 {
		t.Fatalf("expected exactly one record, got %d", mem.Len(asset.Collection))
	}
	if len(completed) != 1 || completed[0].ID != rec.ID {
		t.Fatalf("completion hook not called once: %v", completed)
	}

	mu.Lock()
	defer mu.Unlock()
	vp := progress[StageVideo]
	if len(vp) == 0 || vp[len(vp)-1] != 100 {
		t.Fatalf("video progress should end at 100: %v", vp)
	}
	for i := 1; i < len(vp); i++ {
		if vp[i] < vp[i-1] {
			t.Fatalf("progress went backwards: %v", vp)
		}
	}
	if len(progress[StageThumbnail]) == 0 {
		t.Fatal("expected thumbnail progress")
	}

	if err := s.Advance(context.Background()); !errors.Is(err, ErrCompleted) {
		t.Fatalf("completed is terminal, got %v", err)
	}
}

func TestSkipThumbnail(t *testing.T) {
	mem := storeclient.NewMemory()
	s := NewSession(mem)
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 16))
	if err := s.Advance(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Skip(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec, ok := s.Completed()
	if !ok || rec.ThumbnailRef != "" || rec.Status != asset.StatusPublished {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestThumbnailGate(t *testing.T) {
	s := NewSession(storeclient.NewMemory(), WithLimits(Limits{MaxVideoBytes: 1 << 20, MaxThumbnailBytes: 4}))
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 16))
	if err := s.Advance(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(context.Background()); err == nil {
		t.Fatal("expected missing thumbnail to fail advance")
	}
	_ = s.SelectThumbnail(imageFile(t)) // 10 bytes > 4
	var ve *asset.ValidationError
	if err := s.Advance(context.Background()); !errors.As(err, &ve) || ve.Fields["size"] == "" {
		t.Fatalf("expected size violation, got %v", err)
	}
	_ = s.SelectThumbnail(videoFile(t, 2))
	if err := s.Advance(context.Background()); !errors.As(err, &ve) || ve.Fields["thumbnail"] == "" {
		t.Fatalf("expected type violation, got %v", err)
	}
	if s.Stage() != StageThumbnail {
		t.Fatalf("unexpected stage %s", s.Stage())
	}
}

func TestTransferFailureKeepsSelection(t *testing.T) {
	mem := storeclient.NewMemory()
	mem.FailUpload = func(string) error { return errors.New("bucket offline") }
	s := NewSession(mem)
	toVideo(t, s)
	f := videoFile(t, 16)
	_ = s.SelectFile(f)

	err := s.Advance(context.Background())
	if !errors.Is(err, storeclient.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if s.Stage() != StageVideo || s.SelectedFile() != f || !errors.Is(s.Err(StageVideo), storeclient.ErrTransferFailed) {
		t.Fatal("failed transfer must keep stage, selection and attach the error")
	}
	if mem.Len(asset.Collection) != 0 {
		t.Fatal("no document may be created without a binary")
	}

	mem.FailUpload = nil
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.Stage() != StageThumbnail {
		t.Fatalf("expected thumbnail after retry, got %s", s.Stage())
	}
}

func TestCreateFailureDoesNotReupload(t *testing.T) {
	mem := storeclient.NewMemory()
	fail := true
	mem.FailDocument = func(op, _, _ string) error {
		if op == "create" && fail {
			return errors.New("store unavailable")
		}
		return nil
	}
	s := NewSession(mem)
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 16))
	if err := s.Advance(context.Background()); err == nil {
		t.Fatal("expected create failure")
	}
	fail = false
	if err := s.Advance(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	uploads := 0
	for _, op := range mem.Ops() {
		if len(op) > 7 && op[:7] == "upload:" {
			uploads++
		}
	}
	if uploads != 1 {
		t.Fatalf("expected a single upload, got %d (%v)", uploads, mem.Ops())
	}
}

func TestCancelInFlightVideo(t *testing.T) {
	mem := storeclient.NewMemory()
	mem.ChunkSize = 4
	mem.Gate = make(chan struct{})
	started := make(chan struct{}, 1)
	s := NewSession(mem, WithProgress(func(Stage, float64) {
		select {
		case started <- struct{}{}:
		default:
		}
	}))
	toVideo(t, s)
	f := videoFile(t, 64)
	_ = s.SelectFile(f)

	done := make(chan error, 1)
	go func() { done <- s.Advance(context.Background()) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never started")
	}
	if !s.Cancel() {
		t.Fatal("expected an in-flight transfer to cancel")
	}

	select {
	case err := <-done:
		if !errors.Is(err, storeclient.ErrTransferCanceled) {
			t.Fatalf("expected ErrTransferCanceled, got %v", err)
		}
		if errors.Is(err, storeclient.ErrTransferFailed) {
			t.Fatal("cancellation must not read as a generic failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("advance did not return after cancel")
	}
	if s.Stage() != StageVideo || s.SelectedFile() != f {
		t.Fatal("cancel must keep the video stage and the selection")
	}
	if s.Cancel() {
		t.Fatal("nothing should be in flight any more")
	}
}

// stallingCreate blocks document creation until the caller's context ends.
type stallingCreate struct {
	*storeclient.Memory
	entered chan struct{}
}

func (s *stallingCreate) CreateDocument(ctx context.Context, _ string, _ storeclient.Document) (string, error) {
	close(s.entered)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCancelWithoutTransferHandle(t *testing.T) {
	store := &stallingCreate{Memory: storeclient.NewMemory(), entered: make(chan struct{})}
	s := NewSession(store)
	toVideo(t, s)
	f := videoFile(t, 64)
	_ = s.SelectFile(f)

	done := make(chan error, 1)
	go func() { done <- s.Advance(context.Background()) }()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("record creation never started")
	}
	if !s.Cancel() {
		t.Fatal("expected the running advance to be cancelled")
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("advance did not return after cancel")
	}
	if s.Stage() != StageVideo || s.SelectedFile() != f || s.Err(StageVideo) == nil {
		t.Fatal("cancel must keep the video stage, the selection and the error")
	}
}

func TestCancelledContextNeverStartsTransfer(t *testing.T) {
	mem := storeclient.NewMemory()
	s := NewSession(mem)
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 64))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Advance(ctx); !errors.Is(err, storeclient.ErrTransferCanceled) {
		t.Fatalf("expected ErrTransferCanceled, got %v", err)
	}
	for _, op := range mem.Ops() {
		if strings.HasPrefix(op, "upload:") {
			t.Fatalf("no upload should start, saw %s", op)
		}
	}
}

func TestCloseCancelsTransfer(t *testing.T) {
	mem := storeclient.NewMemory()
	mem.ChunkSize = 4
	mem.Gate = make(chan struct{})
	started := make(chan struct{}, 1)
	s := NewSession(mem, WithProgress(func(Stage, float64) {
		select {
		case started <- struct{}{}:
		default:
		}
	}))
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 64))

	done := make(chan error, 1)
	go func() { done <- s.Advance(context.Background()) }()
	<-started
	s.Close()

	if err := <-done; !errors.Is(err, storeclient.ErrTransferCanceled) {
		t.Fatalf("expected ErrTransferCanceled, got %v", err)
	}
	if err := s.Advance(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if mem.Len(asset.Collection) != 0 {
		t.Fatal("no record should exist after disposal mid-transfer")
	}
}

func TestResetDiscardsDraft(t *testing.T) {
	s := NewSession(storeclient.NewMemory())
	toVideo(t, s)
	_ = s.SelectFile(videoFile(t, 8))
	if err := s.Advance(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Skip(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if s.Stage() != StageMetadataBasic || s.Metadata().Title != "" || s.SelectedFile() != nil || s.Record().ID != "" {
		t.Fatal("reset must discard everything")
	}
}

func TestNewFileSniffsGenericType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	f, err := NewFile("upload.bin", storeclient.BytesSource{Data: png, Type: "application/octet-stream"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if f.ContentType() != "image/png" {
		t.Fatalf("expected image/png, got %q", f.ContentType())
	}
	if f.extension() != ".bin" {
		t.Fatalf("expected name extension to win, got %q", f.extension())
	}

	declared, _ := NewFile("clip", storeclient.BytesSource{Data: png, Type: "Video/MP4; codecs=avc1"}, 0)
	if declared.ContentType() != "video/mp4" {
		t.Fatalf("declared type should be trusted and normalised, got %q", declared.ContentType())
	}
	if declared.extension() != ".mp4" {
		t.Fatalf("expected extension from type, got %q", declared.extension())
	}
}
