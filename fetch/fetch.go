// Package fetch materializes one local source tree per item id.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/metrics"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ErrInvalidID rejects ids that are not owner/name or could escape the base dir.
type ErrInvalidID struct {
	ID string
}

func (e ErrInvalidID) Error() string {
	return fmt.Sprintf("invalid item id %q", e.ID)
}

// ErrFetchFailed wraps a source failure for one id.
type ErrFetchFailed struct {
	ID  string
	Err error
}

func (e ErrFetchFailed) Error() string {
	return fmt.Errorf("fetch %s: %w", e.ID, e.Err).Error()
}

func (e ErrFetchFailed) Unwrap() error {
	return e.Err
}

// Source materializes the artifact for id into dest, which does not exist yet.
type Source interface {
	Materialize(ctx context.Context, id, dest string) error
}

// Fetcher maps ids to directories under a base dir and only calls its Source
// for ids that are not materialized yet.
type Fetcher struct {
	baseDir string
	source  Source
	metrics *metrics.Metrics
}

// New builds a fetcher rooted at baseDir.
func New(baseDir string, source Source, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		baseDir: baseDir,
		source:  source,
		metrics: m,
	}
}

// NewFromConfig picks the git or archive source according to cfg.FetchMode.
func NewFromConfig(cfg *config.Config, m *metrics.Metrics) (*Fetcher, error) {
	var source Source
	switch cfg.FetchMode {
	case config.FetchModeGit:
		source = &GitSource{
			GitBin:      cfg.GitBin,
			Depth:       cfg.CloneDepth,
			URLTemplate: cfg.CloneURLTemplate,
		}
	case config.FetchModeArchive:
		source = NewArchiveSource(cfg)
	default:
		return nil, fmt.Errorf("unsupported fetch mode %q", cfg.FetchMode)
	}
	return New(cfg.CloneDir, source, m), nil
}

// Path returns the directory owned by id. It does not touch the filesystem.
func (f *Fetcher) Path(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", ErrInvalidID{ID: id}
	}
	owner, name, _ := strings.Cut(id, "/")
	for _, part := range []string{owner, name} {
		if part == "." || part == ".." {
			return "", ErrInvalidID{ID: id}
		}
	}
	return filepath.Join(f.baseDir, owner+"_"+name), nil
}

// Fetch returns the local directory for id. An existing directory is returned
// unchanged without contacting the source. Otherwise the source writes into a
// sibling ".partial" directory that is renamed into place only on success, so
// a failed fetch never leaves a directory that a later call would reuse.
func (f *Fetcher) Fetch(ctx context.Context, id string) (string, error) {
	dir, err := f.Path(id)
	if err != nil {
		f.metrics.IncFetch("failed")
		return "", err
	}

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		f.metrics.IncFetch("cached")
		slog.Debug("artifact already materialized", slog.String("id", id), slog.String("dir", dir))
		return dir, nil
	case err == nil:
		f.metrics.IncFetch("failed")
		return "", ErrFetchFailed{ID: id, Err: fmt.Errorf("%s exists and is not a directory", dir)}
	case !errors.Is(err, fs.ErrNotExist):
		f.metrics.IncFetch("failed")
		return "", ErrFetchFailed{ID: id, Err: err}
	}

	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		f.metrics.IncFetch("failed")
		return "", ErrFetchFailed{ID: id, Err: fmt.Errorf("create base dir: %w", err)}
	}

	partial := dir + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		f.metrics.IncFetch("failed")
		return "", ErrFetchFailed{ID: id, Err: fmt.Errorf("clear stale partial dir: %w", err)}
	}

	slog.Info("fetching artifact", slog.String("id", id))
	if err := f.source.Materialize(ctx, id, partial); err != nil {
		if rmErr := os.RemoveAll(partial); rmErr != nil {
			slog.Warn("remove partial artifact", slog.String("dir", partial), slog.Any("error", rmErr))
		}
		f.metrics.IncFetch("failed")
		return "", ErrFetchFailed{ID: id, Err: err}
	}
	if err := os.Rename(partial, dir); err != nil {
		os.RemoveAll(partial)
		f.metrics.IncFetch("failed")
		return "", ErrFetchFailed{ID: id, Err: fmt.Errorf("finalize artifact: %w", err)}
	}

	f.metrics.IncFetch("fetched")
	return dir, nil
}
