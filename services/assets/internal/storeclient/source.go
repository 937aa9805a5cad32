package storeclient

import (
	"bytes"
	"io"
	"os"
)

// BytesSource serves an in-memory payload.
type BytesSource struct {
	Data []byte
	Type string
}

func (b BytesSource) Open() (io.ReadSeekCloser, error) {
	return nopSeekCloser{bytes.NewReader(b.Data)}, nil
}

func (b BytesSource) Size() int64         { return int64(len(b.Data)) }
func (b BytesSource) ContentType() string { return b.Type }

type nopSeekCloser struct{ io.ReadSeeker }

func (nopSeekCloser) Close() error { return nil }

// FileSource serves a file on local disk.
type FileSource struct {
	Path string
	Type string
	size int64
}

// NewFileSource stats path once so Size is cheap.
func NewFileSource(path, contentType string) (*FileSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{Path: path, Type: contentType, size: fi.Size()}, nil
}

func (f *FileSource) Open() (io.ReadSeekCloser, error) { return os.Open(f.Path) }
func (f *FileSource) Size() int64                      { return f.size }
func (f *FileSource) ContentType() string              { return f.Type }
