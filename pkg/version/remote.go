package version

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/urlpath"
)

const defaultLatestTimeout = 15 * time.Second

type RemoteOptions struct {
	ReleasesURL string
	Timeout     time.Duration
	Client      *http.Client // optional; a client with Timeout is created when nil
}

// RemoteResolver asks the release oracle which tag its "latest" alias redirects to
type RemoteResolver struct {
	releasesURL string
	client      *http.Client
	logger      logging.Logger
}

func NewRemoteResolver(options RemoteOptions, logger logging.Logger) *RemoteResolver {
	client := options.Client
	if client == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = defaultLatestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteResolver{
		releasesURL: options.ReleasesURL,
		client:      client,
		logger:      logger,
	}
}

func (r *RemoteResolver) ResolveLatest(ctx context.Context) (Version, error) {
	latestURL := urlpath.Join(r.releasesURL, "latest")

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, latestURL, nil)
	if err != nil {
		return "", errors.NewValidationError("invalid releases URL", err).WithContext("url", latestURL)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.NewNetworkError("latest version request failed", err).WithContext("url", latestURL)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", errors.NewNetworkError("latest version request rejected", nil).
			WithContext("url", latestURL).
			WithContext("status", resp.StatusCode)
	}

	final := resp.Request.URL
	if final.String() == latestURL {
		return "", errors.NewNetworkError("latest alias did not redirect", nil).WithContext("url", latestURL)
	}

	v, err := ParseTagURL(final)
	if err != nil {
		return "", err
	}

	r.logger.Infof("Resolved latest version, url: %s, version: %s", final, v)
	return v, nil
}

// ParseTagURL extracts the version from a release tag URL of shape ".../tag/<version>".
func ParseTagURL(u *url.URL) (Version, error) {
	segments := urlpath.Segments(u)
	if len(segments) < 2 || segments[len(segments)-2] != "tag" {
		return "", errors.NewParseError("unexpected release tag URL", nil).WithContext("url", u.String())
	}
	return Version(urlpath.LastSegment(u)), nil
}
