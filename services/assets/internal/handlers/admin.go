package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/scout-platform/internal/platform/api"
	"github.com/example/scout-platform/internal/platform/auth"
	"github.com/example/scout-platform/internal/platform/httpserver"
	"github.com/example/scout-platform/internal/platform/idempotency"
	"github.com/example/scout-platform/internal/platform/logging"
	"github.com/example/scout-platform/services/assets/internal/catalog"
	"github.com/example/scout-platform/services/assets/internal/family"
	"github.com/example/scout-platform/services/assets/internal/reconcile"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
	"github.com/example/scout-platform/services/assets/internal/upload"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MiB
	multipartMemory     = 32 << 20
	// Headroom for the metadata part and multipart framing.
	multipartOverhead = 1 << 20
)

// Admin serves the administrator asset routes.
type Admin struct {
	svc            *catalog.Service
	idem           idempotency.Store
	log            *zap.Logger
	maxUploadBytes int64
	uploads        *sessions
}

// NewAdmin wires the admin handlers. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewAdmin(svc *catalog.Service, idem idempotency.Store, log *zap.Logger, maxUploadBytes int64) *Admin {
	return &Admin{svc: svc, idem: idem, log: logging.OrNop(log), maxUploadBytes: maxUploadBytes, uploads: newSessions()}
}

// Routes returns the admin router without authentication; Mount adds it.
func (h *Admin) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/assets", h.ListAssets)
	r.Post("/assets/batch", h.CreateBatch)
	r.Get("/assets/{id}/download", h.Download)
	r.Get("/families/{base_id}", h.GetFamily)
	r.Post("/families/{base_id}/plan", h.PreviewPlan)
	r.Put("/families/{base_id}/variants", h.ApplyVariants)
	h.uploadRoutes(r)
	return r
}

// Mount registers the admin routes under /v1/admin behind a bearer token
// carrying the admin role.
func Mount(r chi.Router, h *Admin, verifier auth.JWTVerifier) {
	r.With(auth.RequireUser(verifier), auth.RequireAdmin).Mount("/v1/admin", h.Routes())
}

func decodeJSON[T any](w http.ResponseWriter, r *http.Request, rid string, dst *T) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", rid, nil)
		return false
	}
	return true
}

type familiesResponse struct {
	Families   []family.Family `json:"families"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// ListAssets handles GET /v1/admin/assets
func (h *Admin) ListAssets(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	q := storeclient.ListQuery{Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.BadRequest(w, "INVALID_PAGE_SIZE", "page_size must be a positive integer", rid, nil)
			return
		}
		q.PageSize = n
	}
	if c := strings.TrimSpace(r.URL.Query().Get("category")); c != "" {
		q.Filter = storeclient.Document{"category": c}
	}

	page, err := h.svc.ListFamilies(r.Context(), q)
	if err != nil {
		h.writeError(w, rid, err, nil)
		return
	}
	api.WriteJSON(w, http.StatusOK, familiesResponse{Families: page.Families, NextCursor: page.NextCursor, HasMore: page.HasMore})
}

// GetFamily handles GET /v1/admin/families/{base_id}
func (h *Admin) GetFamily(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	baseID, ok := pathID(w, r, "base_id", rid)
	if !ok {
		return
	}
	f, err := h.svc.LoadFamily(r.Context(), baseID)
	if err != nil {
		h.writeError(w, rid, err, nil)
		return
	}
	api.WriteJSON(w, http.StatusOK, f)
}

type previewResponse struct {
	Family family.Family         `json:"family"`
	Plan   reconcile.VariantPlan `json:"plan"`
}

// PreviewPlan handles POST /v1/admin/families/{base_id}/plan
func (h *Admin) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	baseID, ok := pathID(w, r, "base_id", rid)
	if !ok {
		return
	}
	var desired reconcile.DesiredVariantSet
	if !decodeJSON(w, r, rid, &desired) {
		return
	}
	f, p, err := h.svc.Preview(r.Context(), baseID, desired)
	if err != nil {
		h.writeError(w, rid, err, nil)
		return
	}
	api.WriteJSON(w, http.StatusOK, previewResponse{Family: f, Plan: p})
}

// ApplyVariants handles PUT /v1/admin/families/{base_id}/variants
func (h *Admin) ApplyVariants(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	baseID, ok := pathID(w, r, "base_id", rid)
	if !ok {
		return
	}
	var desired reconcile.DesiredVariantSet
	if !decodeJSON(w, r, rid, &desired) {
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	out, err := h.svc.Reconcile(r.Context(), actor, baseID, desired)
	if err != nil {
		h.writeError(w, rid, err, nil)
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// batchMetadata is the JSON "metadata" part of a batch upload.
type batchMetadata struct {
	upload.Metadata
	Levels          []upload.LevelSpec `json:"levels"`
	DurationSeconds float64            `json:"durationSeconds,omitempty"`
}

// formFile adapts an uploaded multipart part to storeclient.Source.
type formFile struct {
	fh *multipart.FileHeader
}

func (f formFile) Open() (io.ReadSeekCloser, error) { return f.fh.Open() }
func (f formFile) Size() int64                      { return f.fh.Size }
func (f formFile) ContentType() string              { return f.fh.Header.Get("Content-Type") }

// CreateBatch handles POST /v1/admin/assets/batch
func (h *Admin) CreateBatch(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	actor, _ := auth.UserIDFromContext(r.Context())

	if !h.parseMultipart(w, r, rid) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var meta batchMetadata
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), &meta); err != nil {
		api.BadRequest(w, "INVALID_JSON", "metadata must be a JSON object", rid, nil)
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) != 1 {
		api.BadRequest(w, "MISSING_FILE", "exactly one file part is required", rid, nil)
		return
	}
	file, err := upload.NewFile(files[0].Filename, formFile{fh: files[0]}, meta.DurationSeconds)
	if err != nil {
		api.BadRequest(w, "INVALID_FILE", "cannot read uploaded file", rid, nil)
		return
	}

	var claimed string
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && h.idem != nil {
		claimed = "assets:batch:" + actor + ":" + key
		dup, err := h.idem.Claim(r.Context(), claimed)
		if err != nil {
			h.log.Error("idempotency claim failed", zap.Error(err))
			api.Internal(w, rid)
			return
		}
		if dup {
			api.Conflict(w, "DUPLICATE_REQUEST", "a request with this Idempotency-Key was already accepted", rid, nil)
			return
		}
	}

	res, err := h.svc.CreateBatch(r.Context(), actor, upload.BatchRequest{Metadata: meta.Metadata, Levels: meta.Levels, File: file}, nil)
	if err != nil {
		created := res.Records()
		if len(created) == 0 {
			// Nothing was written, so the same key may be retried.
			h.release(r.Context(), claimed)
			h.writeError(w, rid, err, nil)
			return
		}
		ids := make([]string, 0, len(created))
		for _, rec := range created {
			ids = append(ids, rec.ID)
		}
		h.log.Warn("batch partially created", zap.String("request_id", rid), zap.Strings("created", ids), zap.Error(err))
		h.writeError(w, rid, err, map[string]any{"created": ids})
		return
	}
	api.WriteJSON(w, http.StatusCreated, res)
}

func (h *Admin) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	// The request context may already be done; the release must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.idem.Release(ctx, key); err != nil {
		h.log.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}

// Download handles GET /v1/admin/assets/{id}/download
func (h *Admin) Download(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := pathID(w, r, "id", rid)
	if !ok {
		return
	}
	url, err := h.svc.DownloadURL(r.Context(), id)
	if err != nil {
		h.writeError(w, rid, err, nil)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// parseMultipart caps the body at the upload limit and parses the form.
func (h *Admin) parseMultipart(w http.ResponseWriter, r *http.Request, rid string) bool {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.TooLarge(w, "PAYLOAD_TOO_LARGE", "upload exceeds the size limit", rid)
			return false
		}
		api.BadRequest(w, "INVALID_MULTIPART", "expected multipart/form-data", rid, nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name, rid string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, name))
	if id == "" {
		api.BadRequest(w, "MISSING_ID", name+" is required", rid, nil)
		return "", false
	}
	return id, true
}
