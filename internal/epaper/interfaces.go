package epaper

import (
	"context"
	"io"
	"time"
)

// Downloader fetches the newest e-paper and returns the local file path.
type Downloader interface {
	Download(ctx context.Context) (string, error)
}

// Uploader pushes an issue to the cloud reader unless it is already there.
type Uploader interface {
	LoginAndUpload(ctx context.Context, path, title string) (UploadStatus, error)
}

// MetadataReader extracts EPUB metadata from a file on disk.
type MetadataReader interface {
	Read(path string) (Metadata, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunStore persists the outcome of sync runs.
type RunStore interface {
	Record(ctx context.Context, run RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
}

// Publisher pushes run events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, attrs map[string]string, payload any) (string, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	HashReader(r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveRun(status RunStatus, finishedAt time.Time)
	ObserveDownload(bytes int64)
}
