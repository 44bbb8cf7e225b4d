package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader enumerates stored objects.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver copies committed events to cold storage and reports the last
// sequence number it has archived.
type Archiver interface {
	ArchiveEvents(ctx context.Context) (lastSeq uint64, n int, err error)
}
