package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-repo-metrics/config"
)

// ArchiveSource downloads a zip of the item's default branch and extracts it.
type ArchiveSource struct {
	Client      *http.Client
	URLTemplate string
	Token       string
	UserAgent   string
}

// NewArchiveSource builds an archive source from cfg.
func NewArchiveSource(cfg *config.Config) *ArchiveSource {
	return &ArchiveSource{
		Client:      &http.Client{Timeout: cfg.DownloadTimeout},
		URLTemplate: cfg.ArchiveURLTemplate,
		Token:       cfg.Token,
		UserAgent:   cfg.UserAgent,
	}
}

// Materialize streams the archive to a temp file and unpacks it into dest,
// dropping the single top-level folder GitHub archives wrap their content in.
func (a *ArchiveSource) Materialize(ctx context.Context, id, dest string) error {
	url := fmt.Sprintf(a.URLTemplate, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build archive request: %w", err)
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	if a.UserAgent != "" {
		req.Header.Set("User-Agent", a.UserAgent)
	}

	httpClient := a.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download archive: http status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "archive-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return extractZip(tmp.Name(), dest)
}

func extractZip(archive, dest string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	root := filepath.Clean(dest) + string(os.PathSeparator)
	prefix := commonRoot(reader.File)

	for _, file := range reader.File {
		name := strings.TrimPrefix(file.Name, prefix)
		if name == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("archive entry %q escapes destination", file.Name)
		}

		mode := file.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
		case mode&os.ModeSymlink != 0:
			continue
		default:
			if err := writeEntry(file, target); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("extract %s: %w", file.Name, err)
	}
	return dst.Close()
}

// commonRoot returns "dir/" when every entry lives under the same top-level
// directory, or "" otherwise.
func commonRoot(files []*zip.File) string {
	prefix := ""
	for _, file := range files {
		first, _, found := strings.Cut(file.Name, "/")
		if !found {
			return ""
		}
		if prefix == "" {
			prefix = first + "/"
			continue
		}
		if first+"/" != prefix {
			return ""
		}
	}
	return prefix
}
