package storeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/scout-platform/internal/platform/api"
	"github.com/example/scout-platform/internal/platform/httpserver"
	"github.com/example/scout-platform/internal/platform/signing"
)

// LocalBinaries keeps binaries on local disk and serves them through
// expiring signed URLs. Intended for development and single-node installs.
type LocalBinaries struct {
	root    string
	baseURL string
	signer  *signing.Signer
	ttl     time.Duration
	now     func() time.Time
}

func NewLocalBinaries(root, baseURL string, signer *signing.Signer, ttl time.Duration) (*LocalBinaries, error) {
	if root == "" {
		return nil, errors.New("local store: root is required")
	}
	if signer == nil || len(signer.Secret) == 0 {
		return nil, errors.New("local store: signing secret is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LocalBinaries{root: root, baseURL: baseURL, signer: signer, ttl: ttl, now: time.Now}, nil
}

// cleanRef rejects refs that would escape the root.
func cleanRef(ref string) (string, error) {
	c := path.Clean("/" + strings.TrimSpace(ref))
	if c == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("object %q: %w", ref, ErrNotFound)
	}
	return strings.TrimPrefix(c, "/"), nil
}

func (l *LocalBinaries) UploadBinary(ctx context.Context, p string, src Source, onProgress ProgressFunc) *Transfer {
	ref, err := cleanRef(p)
	if err != nil {
		return FailedTransfer(p, err)
	}
	return StartTransfer(ctx, p, func(ctx context.Context) (string, error) {
		rc, err := src.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		dst := filepath.Join(l.root, filepath.FromSlash(ref))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())

		body := newProgressReader(ctx, rc, src.Size(), onProgress)
		if _, err := copyWithContext(ctx, tmp, body); err != nil {
			_ = tmp.Close()
			return "", err
		}
		if err := tmp.Close(); err != nil {
			return "", err
		}
		if err := os.Rename(tmp.Name(), dst); err != nil {
			return "", err
		}
		return ref, nil
	})
}

func (l *LocalBinaries) DownloadReference(_ context.Context, ref string) (string, error) {
	clean, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(clean))); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("object %s: %w", ref, ErrNotFound)
		}
		return "", err
	}
	return signing.BuildURL(l.baseURL, l.signer.Sign(clean, l.now().Add(l.ttl)))
}

// Handler serves signed object URLs. Mount it on a wildcard route, e.g.
// r.Get("/v1/objects/*", local.Handler()).
func (l *LocalBinaries) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		ref, err := cleanRef(chi.URLParam(r, "*"))
		if err != nil {
			api.NotFound(w, "NOT_FOUND", "object not found", rid)
			return
		}
		exp, sig, err := signing.Extract(r.URL.Query())
		if err != nil || !l.signer.Verify(ref, exp, sig) {
			api.Forbidden(w, "INVALID_SIGNATURE", "invalid or expired signature", rid)
			return
		}
		f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(ref)))
		if err != nil {
			api.NotFound(w, "NOT_FOUND", "object not found", rid)
			return
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			api.Internal(w, rid)
			return
		}
		http.ServeContent(w, r, path.Base(ref), fi.ModTime(), f)
	}
}
