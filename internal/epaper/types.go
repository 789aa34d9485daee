package epaper

import "time"

// UploadStatus reports what the cloud reader stage did with an issue.
type UploadStatus string

const (
	// UploadStatusUploaded means the file went through the upload dialog.
	UploadStatusUploaded UploadStatus = "uploaded"
	// UploadStatusAlreadyPresent means a book with the same title was already on the shelf.
	UploadStatusAlreadyPresent UploadStatus = "already_present"
)

// RunStatus is the terminal state of a sync run.
type RunStatus string

const (
	RunStatusUploaded       RunStatus = "uploaded"
	RunStatusAlreadyPresent RunStatus = "already_present"
	RunStatusDownloaded     RunStatus = "downloaded"
	RunStatusFailed         RunStatus = "failed"
)

// RunStatusFor maps an upload outcome onto the run status recorded for it.
func RunStatusFor(status UploadStatus) RunStatus {
	if status == UploadStatusAlreadyPresent {
		return RunStatusAlreadyPresent
	}
	return RunStatusUploaded
}

// Metadata is the subset of the EPUB package metadata the pipeline cares about.
type Metadata struct {
	Title      string   `json:"title"`
	Creators   []string `json:"creators,omitempty"`
	Language   string   `json:"language,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	Publisher  string   `json:"publisher,omitempty"`
	Date       string   `json:"date,omitempty"`
}

// Issue describes a downloaded e-paper file.
type Issue struct {
	Path     string
	Metadata Metadata
	Size     int64
	SHA256   string
}

// Title is shorthand for the EPUB title.
func (i Issue) Title() string {
	return i.Metadata.Title
}

// RunRecord is one row of the sync history.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	Title      string    `json:"title,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
