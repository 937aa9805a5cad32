package upload

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
)

func TestBatchCreatesBaseAndVariants(t *testing.T) {
	mem := storeclient.NewMemory()
	mem.ChunkSize = 16
	b := &Batcher{Store: mem, Limits: DefaultLimits()}

	var seen []float64
	res, err := b.Create(context.Background(), BatchRequest{
		Metadata: validMetadata(),
		Levels: []LevelSpec{
			{Level: asset.Advanced, Threshold: 300},
			{Level: asset.Beginner, Threshold: 100},
			{Level: asset.Intermediate, Threshold: 200},
		},
		File: videoFile(t, 64),
	}, func(p float64) { seen = append(seen, p) })
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if res.Base == nil || res.Base.SkillLevel != asset.Beginner || res.Base.IsVariant || res.Base.BaseVideoID != nil {
		t.Fatalf("unexpected base: %+v", res.Base)
	}
	if res.Base.Title != "Rondo" {
		t.Fatalf("base title must carry no suffix, got %q", res.Base.Title)
	}
	if len(res.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(res.Variants))
	}
	for _, v := range res.Variants {
		if !v.IsVariant || v.BaseID() != res.Base.ID || v.BinaryRef != res.Base.BinaryRef {
			t.Fatalf("variant not linked to base: %+v", v)
		}
		if !strings.HasSuffix(v.Title, "("+v.SkillLevel.Label()+")") {
			t.Fatalf("variant title lacks level suffix: %q", v.Title)
		}
	}
	if res.Variants[0].SkillLevel != asset.Intermediate || res.Variants[0].DifficultyLevel != 200 {
		t.Fatalf("variants not in level order: %+v", res.Variants[0])
	}

	uploads := 0
	for _, op := range mem.Ops() {
		if strings.HasPrefix(op, "upload:") {
			uploads++
		}
	}
	if uploads != 1 {
		t.Fatalf("binary must be transferred once, got %d", uploads)
	}
	if mem.Len(asset.Collection) != 3 {
		t.Fatalf("expected 3 records, got %d", mem.Len(asset.Collection))
	}

	if seen[len(seen)-1] != 100 {
		t.Fatalf("progress should end at 100: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
	for _, p := range seen {
		if p > 90 && p < 93 {
			t.Fatalf("creation steps should be 10/3 apart, saw %v", seen)
		}
	}
}

func TestBatchValidation(t *testing.T) {
	b := &Batcher{Store: storeclient.NewMemory(), Limits: DefaultLimits()}
	_, err := b.Create(context.Background(), BatchRequest{
		Metadata: Metadata{},
		Levels:   []LevelSpec{{Level: asset.Beginner}, {Level: asset.Beginner}, {Level: "elite"}},
		File:     imageFile(t),
	}, nil)
	var ve *asset.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, f := range []string{"title", "description", "levels", "file"} {
		if ve.Fields[f] == "" {
			t.Fatalf("expected %s violation in %v", f, ve.Fields)
		}
	}

	_, err = b.Create(context.Background(), BatchRequest{Metadata: validMetadata(), File: videoFile(t, 4)}, nil)
	if !errors.As(err, &ve) || ve.Fields["levels"] == "" {
		t.Fatalf("expected empty level set to be rejected, got %v", err)
	}
}

func TestBatchPartialFailure(t *testing.T) {
	mem := storeclient.NewMemory()
	creates := 0
	mem.FailDocument = func(op, _, _ string) error {
		if op != "create" {
			return nil
		}
		creates++
		if creates == 2 {
			return errors.New("quota exceeded")
		}
		return nil
	}
	b := &Batcher{Store: mem, Limits: DefaultLimits()}
	res, err := b.Create(context.Background(), BatchRequest{
		Metadata: validMetadata(),
		Levels:   []LevelSpec{{Level: asset.Beginner}, {Level: asset.Intermediate}, {Level: asset.Advanced}},
		File:     videoFile(t, 8),
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Base == nil || len(res.Variants) != 0 {
		t.Fatalf("expected base only in partial result, got %+v", res)
	}
	if creates != 2 {
		t.Fatalf("creation must stop at the first failure, got %d attempts", creates)
	}
}

func TestBatchTransferFailure(t *testing.T) {
	mem := storeclient.NewMemory()
	mem.FailUpload = func(string) error { return errors.New("timeout") }
	b := &Batcher{Store: mem, Limits: DefaultLimits()}
	_, err := b.Create(context.Background(), BatchRequest{
		Metadata: validMetadata(),
		Levels:   []LevelSpec{{Level: asset.Beginner}},
		File:     videoFile(t, 8),
	}, nil)
	if !errors.Is(err, storeclient.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if mem.Len(asset.Collection) != 0 {
		t.Fatal("no records without a binary")
	}
}
