package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/example/scout-platform/internal/platform/auth"
	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/upload"
)

const sessionMeta = `{"title":"Rondo","description":"Keep the ball","trainingType":"technical","ageGroup":"u15",
	"positionSpecific":["midfielder"],"instructions":"Two touches max","goals":["first touch"],"skillLevel":"beginner"}`

func (f fixture) postFile(t *testing.T, actor, target, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("durationSeconds", "42"); err != nil {
		t.Fatal(err)
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="part.bin"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	ctx := auth.WithRole(auth.WithUserID(req.Context(), actor), "admin")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func decodeState(t *testing.T, rr *httptest.ResponseRecorder) sessionState {
	t.Helper()
	var st sessionState
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestUploadSessionFlow(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/uploads", sessionMeta)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	st := decodeState(t, rr)
	if st.ID == "" || st.Stage != upload.StageMetadataBasic || st.Metadata.Title != "Rondo" {
		t.Fatalf("unexpected initial state %+v", st)
	}
	base := "/uploads/" + st.ID

	if rr := f.postFile(t, "admin-1", base+"/video", "video/mp4", []byte{1, 2, 3}); rr.Code != http.StatusConflict {
		t.Fatalf("expected video before metadata to be rejected, got %d", rr.Code)
	}
	for i := 0; i < 3; i++ {
		if rr := f.do(t, http.MethodPost, base+"/advance", ""); rr.Code != http.StatusOK {
			t.Fatalf("advance %d: %d %s", i, rr.Code, rr.Body.String())
		}
	}

	rr = f.postFile(t, "admin-1", base+"/video", "video/mp4", bytes.Repeat([]byte{1}, 2048))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	st = decodeState(t, rr)
	if st.Stage != upload.StageThumbnail || st.Record.ID == "" || st.Record.Status != asset.StatusProcessing {
		t.Fatalf("unexpected state after video %+v", st)
	}

	rr = f.do(t, http.MethodPost, base+"/skip", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if done := decodeState(t, rr); done.Stage != upload.StageCompleted || done.Record.Status != asset.StatusPublished {
		t.Fatalf("unexpected final state %+v", done)
	}
	doc, err := f.mem.GetDocument(context.Background(), asset.Collection, st.Record.ID)
	if err != nil || doc["status"] != string(asset.StatusPublished) {
		t.Fatalf("expected published document, got %v (%v)", doc, err)
	}
	if rr := f.do(t, http.MethodGet, base, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("completed session should be released, got %d", rr.Code)
	}
}

func TestUploadSessionGateErrors(t *testing.T) {
	f := newFixture(t)
	st := decodeState(t, f.do(t, http.MethodPost, "/uploads", ""))
	base := "/uploads/" + st.ID

	rr := f.do(t, http.MethodPost, base+"/advance", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	e := decodeError(t, rr)
	if e.Code != "VALIDATION_FAILED" || e.Details["title"] == nil || e.Details["stage"] != string(upload.StageMetadataBasic) {
		t.Fatalf("unexpected error %+v", e)
	}

	rr = f.do(t, http.MethodPost, base+"/skip", "")
	if rr.Code != http.StatusConflict || decodeError(t, rr).Code != "WRONG_STAGE" {
		t.Fatalf("expected 409 WRONG_STAGE, got %d", rr.Code)
	}

	got := f.do(t, http.MethodGet, base, "")
	if got.Code != http.StatusOK || decodeState(t, got).Errors[string(upload.StageMetadataBasic)] == "" {
		t.Fatal("expected the gate error attached to the stage")
	}
}

func TestUploadSessionOwnedByStarter(t *testing.T) {
	f := newFixture(t)
	st := decodeState(t, f.do(t, http.MethodPost, "/uploads", sessionMeta))

	req := httptest.NewRequest(http.MethodGet, "/uploads/"+st.ID, nil)
	ctx := auth.WithRole(auth.WithUserID(req.Context(), "admin-2"), "admin")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req.WithContext(ctx))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected another admin to get 404, got %d", rr.Code)
	}

	if rr := f.do(t, http.MethodDelete, "/uploads/"+st.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/uploads/"+st.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("discarded session should be gone, got %d", rr.Code)
	}
}
