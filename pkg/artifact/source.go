package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/urlpath"
	"github.com/core-tools/hsu-proxykeeper/pkg/version"
)

const defaultDownloadTimeout = 5 * time.Minute

// Source yields the release archive for a version
type Source interface {
	Fetch(ctx context.Context, v version.Version) ([]byte, error)
}

type SourceKind string

const (
	SourceKindHTTP  SourceKind = "http"
	SourceKindDir   SourceKind = "dir"
	SourceKindCache SourceKind = "cache" // http behind a local directory cache
)

// PlatformArchiveName returns the release asset name for an OS/arch pair, e.g. "Xray-linux-64.zip".
func PlatformArchiveName(goos, goarch string) string {
	var arch string
	switch goarch {
	case "amd64":
		arch = "64"
	case "386":
		arch = "32"
	case "arm64":
		arch = "arm64-v8a"
	case "arm":
		arch = "arm32-v7a"
	default:
		arch = goarch
	}
	return fmt.Sprintf("Xray-%s-%s.zip", goos, arch)
}

// ===== HTTP =====

type HTTPSourceOptions struct {
	ReleasesURL string
	ArchiveName string
	Timeout     time.Duration
	Client      *http.Client // optional; a client with Timeout is created when nil
}

// HTTPSource downloads {releases}/download/{version}/{archive}
type HTTPSource struct {
	options HTTPSourceOptions
	client  *http.Client
	logger  logging.Logger
}

func NewHTTPSource(options HTTPSourceOptions, logger logging.Logger) *HTTPSource {
	client := options.Client
	if client == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = defaultDownloadTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSource{
		options: options,
		client:  client,
		logger:  logger,
	}
}

// URL returns the download location of the archive for v
func (s *HTTPSource) URL(v version.Version) string {
	return urlpath.Join(s.options.ReleasesURL, "download", v.String(), s.options.ArchiveName)
}

func (s *HTTPSource) Fetch(ctx context.Context, v version.Version) ([]byte, error) {
	url := s.URL(v)
	s.logger.Infof("Downloading archive, version: %s, url: %s", v, url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewValidationError("invalid download URL", err).WithContext("url", url)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("archive download failed", err).WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewNetworkError("archive download rejected", nil).
			WithContext("url", url).
			WithContext("status", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNetworkError("archive download interrupted", err).WithContext("url", url)
	}

	s.logger.Infof("Downloaded archive, version: %s, bytes: %d", v, len(data))
	return data, nil
}

// ===== Local directory and embedded resources =====

// FSSource reads {version}/{archive} from a file system such as an embed.FS
type FSSource struct {
	fsys        fs.FS
	archiveName string
}

func NewFSSource(fsys fs.FS, archiveName string) *FSSource {
	return &FSSource{fsys: fsys, archiveName: archiveName}
}

// NewDirSource reads archives laid out as {dir}/{version}/{archive}
func NewDirSource(dir, archiveName string) *FSSource {
	return NewFSSource(os.DirFS(dir), archiveName)
}

func (s *FSSource) Fetch(ctx context.Context, v version.Version) ([]byte, error) {
	name := path.Join(v.String(), s.archiveName)
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("archive not present in source", err).WithContext("name", name)
		}
		return nil, errors.NewIOError("failed to read archive", err).WithContext("name", name)
	}
	return data, nil
}

// ===== Cache =====

// CachingSource serves archives from dir when present, otherwise fetches
// them from the upstream source and stores them in dir for the next start.
type CachingSource struct {
	dir         string
	archiveName string
	upstream    Source
	logger      logging.Logger
}

func NewCachingSource(dir, archiveName string, upstream Source, logger logging.Logger) *CachingSource {
	return &CachingSource{
		dir:         dir,
		archiveName: archiveName,
		upstream:    upstream,
		logger:      logger,
	}
}

func (s *CachingSource) Fetch(ctx context.Context, v version.Version) ([]byte, error) {
	cachePath := filepath.Join(s.dir, v.String(), s.archiveName)

	data, err := NewDirSource(s.dir, s.archiveName).Fetch(ctx, v)
	if err == nil {
		if err := checkArchive(data); err == nil {
			s.logger.Infof("Archive cache hit, version: %s", v)
			return data, nil
		}
		s.logger.Warnf("Evicting unreadable cached archive, path: %s, error: %v", cachePath, err)
		if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warnf("Failed to evict cached archive, path: %s, error: %v", cachePath, err)
		}
	}

	data, err = s.upstream.Fetch(ctx, v)
	if err != nil {
		return nil, err
	}

	// only archives that open are cached; anything else is left for Extract to reject
	if err := checkArchive(data); err != nil {
		s.logger.Warnf("Not caching unreadable archive, version: %s, error: %v", v, err)
		return data, nil
	}

	// a failed cache write only costs a download next time
	if err := writeCacheFile(cachePath, data); err != nil {
		s.logger.Warnf("Failed to cache archive, path: %s, error: %v", cachePath, err)
	}
	return data, nil
}

// checkArchive reports whether data opens as a zip archive
func checkArchive(data []byte) error {
	_, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	return err
}

func writeCacheFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
