package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/scout-platform/internal/platform/api"
	"github.com/example/scout-platform/internal/platform/auth"
	"github.com/example/scout-platform/internal/platform/httpserver"
	"github.com/example/scout-platform/services/assets/internal/asset"
	"github.com/example/scout-platform/services/assets/internal/upload"
)

const (
	sessionIdleTTL = time.Hour
	maxSessions    = 256
)

type liveSession struct {
	owner   string
	session *upload.Session
	touched time.Time
}

// sessions holds the staged uploads started through the admin API. Idle
// sessions are closed and dropped on the next start.
type sessions struct {
	mu   sync.Mutex
	byID map[string]*liveSession
	now  func() time.Time
}

func newSessions() *sessions {
	return &sessions{byID: make(map[string]*liveSession), now: time.Now}
}

func (s *sessions) add(owner string, sess *upload.Session) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, ls := range s.byID {
		if now.Sub(ls.touched) > sessionIdleTTL {
			ls.session.Close()
			delete(s.byID, id)
		}
	}
	if len(s.byID) >= maxSessions {
		return "", false
	}
	id := uuid.NewString()
	s.byID[id] = &liveSession{owner: owner, session: sess, touched: now}
	return id, true
}

// get returns the session only to the administrator who started it.
func (s *sessions) get(id, owner string) (*upload.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.byID[id]
	if !ok || ls.owner != owner {
		return nil, false
	}
	ls.touched = s.now()
	return ls.session, true
}

func (s *sessions) remove(id string) {
	s.mu.Lock()
	ls, ok := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if ok {
		ls.session.Close()
	}
}

func (h *Admin) uploadRoutes(r chi.Router) {
	r.Post("/uploads", h.StartUpload)
	r.Route("/uploads/{upload_id}", func(r chi.Router) {
		r.Get("/", h.GetUpload)
		r.Delete("/", h.DiscardUpload)
		r.Put("/metadata", h.SetUploadMetadata)
		r.Post("/advance", h.AdvanceUpload)
		r.Post("/back", h.BackUpload)
		r.Post("/video", h.UploadVideo)
		r.Post("/thumbnail", h.UploadThumbnail)
		r.Post("/skip", h.SkipThumbnail)
		r.Post("/reset", h.ResetUpload)
	})
}

type sessionState struct {
	ID       string             `json:"id"`
	Stage    upload.Stage       `json:"stage"`
	Metadata upload.Metadata    `json:"metadata"`
	Record   asset.Record       `json:"record"`
	Progress map[string]float64 `json:"progress,omitempty"`
	Errors   map[string]string  `json:"errors,omitempty"`
}

func stateOf(id string, s *upload.Session) sessionState {
	st := sessionState{ID: id, Stage: s.Stage(), Metadata: s.Metadata(), Record: s.Record()}
	for _, stage := range []upload.Stage{
		upload.StageMetadataBasic, upload.StageMetadataTraining, upload.StageMetadataDetails,
		upload.StageVideo, upload.StageThumbnail,
	} {
		if err := s.Err(stage); err != nil {
			if st.Errors == nil {
				st.Errors = make(map[string]string)
			}
			st.Errors[string(stage)] = err.Error()
		}
	}
	for _, stage := range []upload.Stage{upload.StageVideo, upload.StageThumbnail} {
		if p := s.Progress(stage); p > 0 {
			if st.Progress == nil {
				st.Progress = make(map[string]float64)
			}
			st.Progress[string(stage)] = p
		}
	}
	return st
}

// session resolves {upload_id} for the calling administrator.
func (h *Admin) session(w http.ResponseWriter, r *http.Request, rid string) (string, *upload.Session, bool) {
	id, ok := pathID(w, r, "upload_id", rid)
	if !ok {
		return "", nil, false
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	s, ok := h.uploads.get(id, actor)
	if !ok {
		api.NotFound(w, "UPLOAD_NOT_FOUND", "upload session not found", rid)
		return "", nil, false
	}
	return id, s, true
}

// StartUpload handles POST /v1/admin/uploads
func (h *Admin) StartUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	actor, _ := auth.UserIDFromContext(r.Context())

	var meta upload.Metadata
	if r.ContentLength != 0 && !decodeJSON(w, r, rid, &meta) {
		return
	}
	s := h.svc.NewSession(actor)
	if err := s.SetMetadata(meta); err != nil {
		h.writeError(w, rid, err, nil)
		return
	}
	id, ok := h.uploads.add(actor, s)
	if !ok {
		s.Close()
		api.WriteError(w, http.StatusServiceUnavailable, "TOO_MANY_UPLOADS", "too many open upload sessions", rid, nil)
		return
	}
	h.log.Info("upload session started", zap.String("upload_id", id), zap.String("actor_id", actor))
	api.WriteJSON(w, http.StatusCreated, stateOf(id, s))
}

// GetUpload handles GET /v1/admin/uploads/{upload_id}
func (h *Admin) GetUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, stateOf(id, s))
}

// DiscardUpload handles DELETE /v1/admin/uploads/{upload_id}
func (h *Admin) DiscardUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, _, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	h.uploads.remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// SetUploadMetadata handles PUT /v1/admin/uploads/{upload_id}/metadata
func (h *Admin) SetUploadMetadata(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	var meta upload.Metadata
	if !decodeJSON(w, r, rid, &meta) {
		return
	}
	h.respond(w, rid, id, s, s.SetMetadata(meta))
}

// AdvanceUpload handles POST /v1/admin/uploads/{upload_id}/advance
func (h *Admin) AdvanceUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	h.respond(w, rid, id, s, s.Advance(r.Context()))
}

// BackUpload handles POST /v1/admin/uploads/{upload_id}/back
func (h *Admin) BackUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	h.respond(w, rid, id, s, s.Back())
}

// ResetUpload handles POST /v1/admin/uploads/{upload_id}/reset
func (h *Admin) ResetUpload(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	h.respond(w, rid, id, s, s.Reset())
}

// UploadVideo handles POST /v1/admin/uploads/{upload_id}/video. The file is
// selected and the video stage advanced within the request.
func (h *Admin) UploadVideo(w http.ResponseWriter, r *http.Request) {
	h.uploadStageFile(w, r, upload.StageVideo)
}

// UploadThumbnail handles POST /v1/admin/uploads/{upload_id}/thumbnail
func (h *Admin) UploadThumbnail(w http.ResponseWriter, r *http.Request) {
	h.uploadStageFile(w, r, upload.StageThumbnail)
}

func (h *Admin) uploadStageFile(w http.ResponseWriter, r *http.Request, stage upload.Stage) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	if s.Stage() != stage {
		api.Conflict(w, "WRONG_STAGE", "upload session is at stage "+string(s.Stage()), rid, nil)
		return
	}
	if !h.parseMultipart(w, r, rid) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		api.BadRequest(w, "MISSING_FILE", "exactly one file part is required", rid, nil)
		return
	}
	var duration float64
	if raw := r.FormValue("durationSeconds"); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil || d < 0 {
			api.BadRequest(w, "INVALID_DURATION", "durationSeconds must be a non-negative number", rid, nil)
			return
		}
		duration = d
	}
	f, err := upload.NewFile(files[0].Filename, formFile{fh: files[0]}, duration)
	if err != nil {
		api.BadRequest(w, "INVALID_FILE", "cannot read uploaded file", rid, nil)
		return
	}

	if stage == upload.StageVideo {
		err = s.SelectFile(f)
	} else {
		err = s.SelectThumbnail(f)
	}
	if err == nil {
		err = s.Advance(r.Context())
	}
	h.respond(w, rid, id, s, err)
}

// SkipThumbnail handles POST /v1/admin/uploads/{upload_id}/skip
func (h *Admin) SkipThumbnail(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, s, ok := h.session(w, r, rid)
	if !ok {
		return
	}
	h.respond(w, rid, id, s, s.Skip(r.Context()))
}

// respond writes the session state, or err with the state in its details.
// Completed sessions leave the registry.
func (h *Admin) respond(w http.ResponseWriter, rid, id string, s *upload.Session, err error) {
	if err != nil {
		h.writeError(w, rid, err, map[string]any{"stage": string(s.Stage())})
		return
	}
	st := stateOf(id, s)
	if st.Stage == upload.StageCompleted {
		h.uploads.remove(id)
	}
	api.WriteJSON(w, http.StatusOK, st)
}

// sessionConflict reports whether err is a state error of the staged session.
func sessionConflict(err error) (string, bool) {
	switch {
	case errors.Is(err, upload.ErrBusy):
		return "UPLOAD_BUSY", true
	case errors.Is(err, upload.ErrCompleted):
		return "UPLOAD_COMPLETED", true
	case errors.Is(err, upload.ErrWrongStage):
		return "WRONG_STAGE", true
	case errors.Is(err, upload.ErrSessionClosed):
		return "UPLOAD_CLOSED", true
	}
	return "", false
}
