// Package storeclient is the narrow document/object store surface the asset
// pipeline depends on, with Postgres, S3, GCS, local-disk and in-memory
// implementations.
package storeclient

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by document operations on an absent id.
	ErrNotFound = errors.New("document not found")
	// ErrTransferFailed wraps every binary upload failure, timeouts included.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrTransferCanceled resolves a transfer aborted through its cancel token.
	ErrTransferCanceled = errors.New("transfer canceled")
	// ErrInvalidCursor rejects a cursor not produced by a previous page.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Document is a JSON-compatible document body.
type Document = map[string]any

// ListQuery selects one page of a collection. Filter matches top-level keys
// by equality; Sort names a top-level key (empty keeps insertion order).
type ListQuery struct {
	Filter   Document
	Sort     string
	Desc     bool
	PageSize int
	Cursor   string
}

type Item struct {
	ID   string
	Data Document
}

type Page struct {
	Items      []Item
	NextCursor string
	HasMore    bool
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func (q ListQuery) pageSize() int {
	switch {
	case q.PageSize <= 0:
		return DefaultPageSize
	case q.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return q.PageSize
}

// Documents is the document half of the store.
type Documents interface {
	CreateDocument(ctx context.Context, collection string, data Document) (string, error)
	// UpdateDocument merges patch into the stored top-level keys; a nil value stores null.
	UpdateDocument(ctx context.Context, collection, id string, patch Document) error
	DeleteDocument(ctx context.Context, collection, id string) error
	GetDocument(ctx context.Context, collection, id string) (Document, error)
	ListDocuments(ctx context.Context, collection string, q ListQuery) (Page, error)
}

// Source is a binary to upload. Open is called once per transfer.
type Source interface {
	Open() (io.ReadSeekCloser, error)
	Size() int64
	ContentType() string
}

// ProgressFunc receives monotonically increasing percentages in [0, 100].
type ProgressFunc func(percent float64)

// Binaries is the object half of the store.
type Binaries interface {
	// UploadBinary starts a transfer and returns immediately. The returned
	// reference is durable once Wait reports success.
	UploadBinary(ctx context.Context, path string, src Source, onProgress ProgressFunc) *Transfer
	DownloadReference(ctx context.Context, ref string) (string, error)
}

// Client is the full collaborator surface.
type Client interface {
	Documents
	Binaries
}

type composite struct {
	Documents
	Binaries
}

// Compose joins independently configured halves into a Client.
func Compose(docs Documents, bins Binaries) Client {
	return composite{Documents: docs, Binaries: bins}
}
