package artifact

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/version"
)

// Extract returns the contents of the archive entry named exactly member.
// A missing entry and an unreadable archive both yield a not-found error.
func Extract(data []byte, member string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NewNotFoundError("archive is malformed", err).WithContext("member", member)
	}

	for _, file := range reader.File {
		if file.Name != member {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.NewNotFoundError("archive entry unreadable", err).WithContext("member", member)
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.NewNotFoundError("archive entry corrupt", err).WithContext("member", member)
		}
		return content, nil
	}

	return nil, errors.NewNotFoundError("archive entry not found", nil).WithContext("member", member)
}

// Fetcher obtains the managed binary for a version from an injected Source
type Fetcher struct {
	source Source
	member string
	logger logging.Logger
}

func NewFetcher(source Source, member string, logger logging.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		member: member,
		logger: logger,
	}
}

// Fetch downloads the archive for v and extracts the managed binary from it
func (f *Fetcher) Fetch(ctx context.Context, v version.Version) ([]byte, error) {
	archive, err := f.source.Fetch(ctx, v)
	if err != nil {
		return nil, errors.NewArchiveError("failed to obtain archive", err).WithContext("version", v.String())
	}

	binary, err := Extract(archive, f.member)
	if err != nil {
		return nil, errors.NewArchiveError("failed to extract binary", err).WithContext("version", v.String())
	}

	f.logger.Infof("Extracted binary, version: %s, member: %s, bytes: %d", v, f.member, len(binary))
	return binary, nil
}
