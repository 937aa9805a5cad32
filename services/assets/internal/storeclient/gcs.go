package storeclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSOptions struct {
	Bucket        string
	Prefix        string
	PublicBaseURL string // CDN or emulator origin; storage.googleapis.com when empty
	EmulatorHost  string
}

// GCSBinaries stores binaries in a Cloud Storage bucket.
type GCSBinaries struct {
	client  *storage.Client
	bucket  string
	prefix  string
	baseURL string
}

func NewGCSBinaries(ctx context.Context, opts GCSOptions) (*GCSBinaries, error) {
	if opts.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	var clientOpts []option.ClientOption
	baseURL := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if host := strings.TrimRight(strings.TrimSpace(opts.EmulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		clientOpts = append(clientOpts, option.WithoutAuthentication())
		if baseURL == "" {
			baseURL = host
		}
	} else {
		clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadWrite))
	}
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com"
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCSBinaries{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		baseURL: baseURL,
	}, nil
}

func (g *GCSBinaries) Close() error { return g.client.Close() }

func (g *GCSBinaries) objectKey(path string) string {
	path = strings.TrimLeft(path, "/")
	if g.prefix == "" {
		return path
	}
	return g.prefix + "/" + path
}

func (g *GCSBinaries) UploadBinary(ctx context.Context, path string, src Source, onProgress ProgressFunc) *Transfer {
	key := g.objectKey(path)
	return StartTransfer(ctx, path, func(ctx context.Context) (string, error) {
		rc, err := src.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		// Closing the writer's context aborts the resumable session.
		w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
		w.ContentType = src.ContentType()
		w.ChunkSize = 8 << 20
		var (
			mu   = new(progressMutex)
			size = src.Size()
		)
		w.ProgressFunc = func(written int64) {
			reportPercent(&mu.mu, &mu.high, onProgress, written, size)
		}

		if _, err := copyWithContext(ctx, w, rc); err != nil {
			_ = w.Close()
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}
		return key, nil
	})
}

func (g *GCSBinaries) DownloadReference(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("object: %w", ErrNotFound)
	}
	if _, err := g.client.Bucket(g.bucket).Object(ref).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("object %s: %w", ref, ErrNotFound)
		}
		return "", fmt.Errorf("gcs: attrs %s: %w", ref, err)
	}
	return fmt.Sprintf("%s/%s/%s", g.baseURL, g.bucket, strings.TrimLeft(ref, "/")), nil
}
