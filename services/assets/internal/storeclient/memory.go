package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const memoryChunkSize = 32 << 10

// Memory is an in-process Client for development and tests. Documents are
// deep-copied on the way in and out so callers never share state with it.
type Memory struct {
	mu      sync.RWMutex
	seq     int64
	docs    map[string]map[string]memoryDoc // collection -> id -> doc
	objects map[string][]byte
	ops     []string

	// ChunkSize controls how often uploads report progress.
	ChunkSize int
	// Gate, when set, must yield a value before each chunk after the first
	// is read, letting tests hold a transfer mid-flight.
	Gate chan struct{}
	// FailUpload, when set, is consulted before each upload starts.
	FailUpload func(path string) error
	// FailDocument, when set, is consulted before each document write;
	// op is "create", "update" or "delete".
	FailDocument func(op, collection, id string) error
}

type memoryDoc struct {
	seq  int64
	data Document
}

func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]map[string]memoryDoc),
		objects: make(map[string][]byte),
	}
}

// Ops returns the write log, e.g. "update:training_videos:<id>".
func (m *Memory) Ops() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ops...)
}

// Len counts documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[collection])
}

// Object returns a stored binary.
func (m *Memory) Object(ref string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[ref]
	return b, ok
}

func (m *Memory) CreateDocument(_ context.Context, collection string, data Document) (string, error) {
	id := uuid.NewString()
	if err := m.fail("create", collection, id); err != nil {
		return "", err
	}
	clone, err := cloneDocument(data)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]memoryDoc)
	}
	m.seq++
	m.docs[collection][id] = memoryDoc{seq: m.seq, data: clone}
	m.ops = append(m.ops, "create:"+collection+":"+id)
	return id, nil
}

func (m *Memory) UpdateDocument(_ context.Context, collection, id string, patch Document) error {
	if err := m.fail("update", collection, id); err != nil {
		return err
	}
	clone, err := cloneDocument(patch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range clone {
		doc.data[k] = v
	}
	m.ops = append(m.ops, "update:"+collection+":"+id)
	return nil
}

func (m *Memory) DeleteDocument(_ context.Context, collection, id string) error {
	if err := m.fail("delete", collection, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[collection][id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.docs[collection], id)
	m.ops = append(m.ops, "delete:"+collection+":"+id)
	return nil
}

func (m *Memory) GetDocument(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	return cloneDocument(doc.data)
}

func (m *Memory) ListDocuments(_ context.Context, collection string, q ListQuery) (Page, error) {
	offset, err := decodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}
	filter, err := cloneDocument(q.Filter)
	if err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	type row struct {
		id  string
		doc memoryDoc
	}
	var rows []row
	for id, doc := range m.docs[collection] {
		if matches(doc.data, filter) {
			rows = append(rows, row{id: id, doc: doc})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if q.Sort != "" {
			if c := compareValues(rows[i].doc.data[q.Sort], rows[j].doc.data[q.Sort]); c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return rows[i].doc.seq < rows[j].doc.seq
	})

	size := q.pageSize()
	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + size
	if end > len(rows) {
		end = len(rows)
	}

	page := Page{Items: make([]Item, 0, end-offset)}
	for _, r := range rows[offset:end] {
		data, err := cloneDocument(r.doc.data)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, Item{ID: r.id, Data: data})
	}
	if end < len(rows) {
		page.HasMore = true
		page.NextCursor = encodeCursor(end)
	}
	return page, nil
}

func (m *Memory) UploadBinary(ctx context.Context, path string, src Source, onProgress ProgressFunc) *Transfer {
	if m.FailUpload != nil {
		if err := m.FailUpload(path); err != nil {
			return FailedTransfer(path, err)
		}
	}
	return StartTransfer(ctx, path, func(ctx context.Context) (string, error) {
		rc, err := src.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		chunk := m.ChunkSize
		if chunk <= 0 {
			chunk = memoryChunkSize
		}
		var (
			buf     []byte
			tmp     = make([]byte, chunk)
			mu      sync.Mutex
			high    float64
			readAny bool
		)
		for {
			if readAny && m.Gate != nil {
				select {
				case <-m.Gate:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}
			n, err := rc.Read(tmp)
			if n > 0 {
				readAny = true
				buf = append(buf, tmp[:n]...)
				reportPercent(&mu, &high, onProgress, int64(len(buf)), src.Size())
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
		}

		m.mu.Lock()
		m.objects[path] = buf
		m.ops = append(m.ops, "upload:"+path)
		m.mu.Unlock()
		return path, nil
	})
}

func (m *Memory) DownloadReference(_ context.Context, ref string) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[ref]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s: %w", ref, ErrNotFound)
	}
	return "memory://" + strings.TrimLeft(ref, "/"), nil
}

func (m *Memory) fail(op, collection, id string) error {
	if m.FailDocument == nil {
		return nil
	}
	return m.FailDocument(op, collection, id)
}

// cloneDocument deep-copies through JSON so stored values have the same
// shapes (float64, []any, map[string]any) a jsonb round trip would give.
func cloneDocument(d Document) (Document, error) {
	if d == nil {
		return Document{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := Document{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func matches(doc, filter Document) bool {
	for k, want := range filter {
		if !reflect.DeepEqual(doc[k], want) {
			return false
		}
	}
	return true
}

// compareValues orders JSON scalars of the same kind; nil sorts first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
