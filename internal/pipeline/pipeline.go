// Package pipeline runs the download and upload stages and books the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zeit-on-tolino/internal/archive"
	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
)

// Stage names used for metrics and logs.
const (
	StageDownload = "download"
	StageInspect  = "inspect"
	StageArchive  = "archive"
	StageUpload   = "upload"
)

// ErrNotRegularFile means the download stage returned something other than a file.
var ErrNotRegularFile = errors.New("downloaded path is not a regular file")

// Config controls Runner behavior.
type Config struct {
	// ArchivePrefix is the first segment of archive object keys.
	ArchivePrefix string
}

// Deps are the collaborators of a Runner. Downloader and Uploader may be nil
// when only the other stage is run. Archive, Runs, Publisher and Recorder are
// optional. Callers serialize runs; Runner takes no lock of its own.
type Deps struct {
	Downloader epaper.Downloader
	Uploader   epaper.Uploader
	Metadata   epaper.MetadataReader
	Hasher     epaper.Hasher
	Clock      epaper.Clock
	IDs        epaper.IDGenerator

	Archive   epaper.BlobStore
	Runs      epaper.RunStore
	Publisher epaper.Publisher
	Recorder  epaper.Recorder
}

// Runner executes sync runs.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	if deps.Metadata == nil || deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil {
		return nil, fmt.Errorf("pipeline: metadata reader, hasher, clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "epapers"
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Sync downloads the newest issue and uploads it unless it is already on the shelf.
func (r *Runner) Sync(ctx context.Context) (epaper.RunRecord, error) {
	if r.deps.Downloader == nil || r.deps.Uploader == nil {
		return epaper.RunRecord{}, fmt.Errorf("pipeline: sync needs a downloader and an uploader")
	}
	return r.run(ctx, func(ctx context.Context, run *epaper.RunRecord) error {
		issue, err := r.fetch(ctx, run)
		if err != nil {
			return err
		}
		return r.upload(ctx, run, issue)
	})
}

// Download runs the download stage only and archives the file.
func (r *Runner) Download(ctx context.Context) (epaper.RunRecord, error) {
	if r.deps.Downloader == nil {
		return epaper.RunRecord{}, fmt.Errorf("pipeline: no downloader configured")
	}
	return r.run(ctx, func(ctx context.Context, run *epaper.RunRecord) error {
		if _, err := r.fetch(ctx, run); err != nil {
			return err
		}
		run.Status = epaper.RunStatusDownloaded
		return nil
	})
}

// Upload runs the upload stage for a file that is already on disk.
func (r *Runner) Upload(ctx context.Context, path string) (epaper.RunRecord, error) {
	if r.deps.Uploader == nil {
		return epaper.RunRecord{}, fmt.Errorf("pipeline: no uploader configured")
	}
	return r.run(ctx, func(ctx context.Context, run *epaper.RunRecord) error {
		issue, err := r.inspect(run, path)
		if err != nil {
			return err
		}
		return r.upload(ctx, run, issue)
	})
}

func (r *Runner) run(ctx context.Context, body func(context.Context, *epaper.RunRecord) error) (epaper.RunRecord, error) {
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return epaper.RunRecord{}, fmt.Errorf("generate run id: %w", err)
	}
	run := epaper.RunRecord{ID: id, StartedAt: r.deps.Clock.Now()}
	r.logger.Info("run started", zap.String("run_id", id))

	err = body(ctx, &run)
	r.finish(ctx, &run, err)
	return run, err
}

// fetch downloads, inspects and archives the newest issue.
func (r *Runner) fetch(ctx context.Context, run *epaper.RunRecord) (epaper.Issue, error) {
	var path string
	err := r.stage(StageDownload, func() error {
		var err error
		path, err = r.deps.Downloader.Download(ctx)
		return err
	})
	if err != nil {
		return epaper.Issue{}, fmt.Errorf("download e-paper: %w", err)
	}
	issue, err := r.inspect(run, path)
	if err != nil {
		return epaper.Issue{}, err
	}
	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveDownload(issue.Size)
	}
	r.archive(ctx, run, issue)
	return issue, nil
}

// inspect checks the file and fills the run with its title, size and digest.
func (r *Runner) inspect(run *epaper.RunRecord, path string) (epaper.Issue, error) {
	var issue epaper.Issue
	err := r.stage(StageInspect, func() error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s", ErrNotRegularFile, path)
		}
		meta, err := r.deps.Metadata.Read(path)
		if err != nil {
			return fmt.Errorf("read epub metadata: %w", err)
		}
		sum, err := r.hashFile(path)
		if err != nil {
			return err
		}
		issue = epaper.Issue{Path: path, Metadata: meta, Size: info.Size(), SHA256: sum}
		return nil
	})
	if err != nil {
		return epaper.Issue{}, err
	}
	run.Title = issue.Title()
	run.SHA256 = issue.SHA256
	run.SizeBytes = issue.Size
	r.logger.Info("issue ready",
		zap.String("path", issue.Path),
		zap.String("title", issue.Title()),
		zap.Int64("size_bytes", issue.Size),
		zap.String("sha256", issue.SHA256),
	)
	return issue, nil
}

func (r *Runner) hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the download dir or the command line.
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	sum, err := r.deps.Hasher.HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

// archive copies the issue to the configured store. A failed copy is logged
// and does not fail the run.
func (r *Runner) archive(ctx context.Context, run *epaper.RunRecord, issue epaper.Issue) {
	if r.deps.Archive == nil {
		return
	}
	key := archive.Key(r.cfg.ArchivePrefix, issue.Title(), issue.SHA256, run.StartedAt)
	var uri string
	err := r.stage(StageArchive, func() error {
		f, err := os.Open(issue.Path) // #nosec G304 -- inspected download path.
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		uri, err = r.deps.Archive.PutObject(ctx, key, archive.ContentType, f)
		return err
	})
	if err != nil {
		r.logger.Warn("archive issue failed", zap.String("key", key), zap.Error(err))
		return
	}
	if uri != "" {
		run.ArchiveURI = uri
		r.logger.Info("issue archived", zap.String("uri", uri))
	}
}

func (r *Runner) upload(ctx context.Context, run *epaper.RunRecord, issue epaper.Issue) error {
	var status epaper.UploadStatus
	err := r.stage(StageUpload, func() error {
		var err error
		status, err = r.deps.Uploader.LoginAndUpload(ctx, issue.Path, issue.Title())
		return err
	})
	if err != nil {
		return fmt.Errorf("upload e-paper: %w", err)
	}
	run.Status = epaper.RunStatusFor(status)
	return nil
}

func (r *Runner) stage(name string, fn func() error) error {
	start := r.deps.Clock.Now()
	err := fn()
	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveStage(name, r.deps.Clock.Now().Sub(start), err)
	}
	return err
}

// finish books the run in history, publishes it and updates metrics. None of
// these side channels can change the run's outcome.
func (r *Runner) finish(ctx context.Context, run *epaper.RunRecord, err error) {
	run.FinishedAt = r.deps.Clock.Now()
	if err != nil {
		run.Status = epaper.RunStatusFailed
		run.Error = err.Error()
		r.logger.Error("run failed", zap.String("run_id", run.ID), zap.Error(err))
	} else {
		r.logger.Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Duration("duration", run.Duration()),
		)
	}

	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveRun(run.Status, run.FinishedAt)
	}

	// Context may already be cancelled by a signal; bookkeeping still gets a short window.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if r.deps.Runs != nil {
		if recErr := r.deps.Runs.Record(bookCtx, *run); recErr != nil {
			r.logger.Warn("record run failed", zap.String("run_id", run.ID), zap.Error(recErr))
		}
	}
	if r.deps.Publisher != nil {
		attrs := map[string]string{"status": string(run.Status), "run_id": run.ID}
		msgID, pubErr := r.deps.Publisher.Publish(bookCtx, attrs, *run)
		if pubErr != nil {
			r.logger.Warn("publish run failed", zap.String("run_id", run.ID), zap.Error(pubErr))
		} else {
			r.logger.Debug("run published", zap.String("run_id", run.ID), zap.String("message_id", msgID))
		}
	}
}
