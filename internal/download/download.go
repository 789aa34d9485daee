// Package download watches the browser's download directory until a triggered
// download has finished writing.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when no finished download shows up in time.
var ErrTimeout = errors.New("download did not finish in time")

// ErrEmptyDir is returned by Latest when the directory holds no complete file.
var ErrEmptyDir = errors.New("no downloaded file found")

var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// Options tunes Wait.
type Options struct {
	// InitialDelay gives the browser time to create its partial file.
	InitialDelay time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// IsPartial reports whether name belongs to a download still in flight.
func IsPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Snapshot returns the names of complete files already present in dir.
func Snapshot(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("read download dir: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !IsPartial(e.Name()) && !isHidden(e.Name()) {
			seen[e.Name()] = struct{}{}
		}
	}
	return seen, nil
}

// Wait blocks until dir holds no partial downloads and at least one complete
// file that was not in before, then returns the newest such file.
func Wait(ctx context.Context, dir string, before map[string]struct{}, opts Options) (string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if err := sleep(ctx, opts.InitialDelay); err != nil {
		return "", err
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		path, pending, err := scan(dir, before)
		if err != nil {
			return "", err
		}
		if !pending && path != "" {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: waited %s in %s", ErrTimeout, opts.Timeout, dir)
		}
		logger.Info("waiting for download to be finished...", zap.Bool("partial_present", pending))
		if err := sleep(ctx, opts.PollInterval); err != nil {
			return "", err
		}
	}
}

// Latest returns the most recently modified complete file in dir.
func Latest(dir string) (string, error) {
	path, _, err := scan(dir, nil)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w in %s", ErrEmptyDir, dir)
	}
	return path, nil
}

// scan returns the newest complete file not listed in skip, and whether any
// partial download is still present.
func scan(dir string, skip map[string]struct{}) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("read download dir: %w", err)
	}
	var (
		newest     string
		newestTime time.Time
		pending    bool
	)
	for _, e := range entries {
		name := e.Name()
		if IsPartial(name) {
			pending = true
			continue
		}
		if !e.Type().IsRegular() || isHidden(name) {
			continue
		}
		if _, old := skip[name]; old {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, name)
			newestTime = info.ModTime()
		}
	}
	return newest, pending, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for download: %w", ctx.Err())
	}
}
