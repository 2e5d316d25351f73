package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes an object held in blob storage.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves objects from blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver snapshots settled ledger history to cold storage.
type Archiver interface {
	ArchiveLedger(ctx context.Context, from, to time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, from, to time.Time) (int64, error)
}
