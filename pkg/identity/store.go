package identity

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/urlpath"
)

const (
	defaultStoreTimeout = 10 * time.Second
	identityKey         = "uuid"
	maxValueSize        = 4096
)

// Store persists the identity in a remote key-value service
type Store interface {
	// Get returns the stored value; any error means "absent"
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
}

type HTTPStoreOptions struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client // optional; a client with Timeout is created when nil
}

// HTTPStore talks to a key-value service that serves GET {base}/uuid and accepts POST {base}/uuid={value}
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStore(options HTTPStoreOptions) *HTTPStore {
	client := options.Client
	if client == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = defaultStoreTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPStore{
		baseURL: options.BaseURL,
		client:  client,
	}
}

func (s *HTTPStore) Get(ctx context.Context) (string, error) {
	url := urlpath.Join(s.baseURL, identityKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.NewValidationError("invalid identity store URL", err).WithContext("url", url)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.NewNetworkError("identity read failed", err).WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.NewNotFoundError("identity not stored", nil).WithContext("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxValueSize))
	if err != nil {
		return "", errors.NewNetworkError("identity read interrupted", err).WithContext("url", url)
	}

	value := strings.TrimSpace(string(body))
	if value == "" {
		return "", errors.NewNotFoundError("identity not stored", nil).WithContext("url", url)
	}
	return value, nil
}

func (s *HTTPStore) Set(ctx context.Context, value string) error {
	url := urlpath.Join(s.baseURL, identityKey+"="+value)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return errors.NewValidationError("invalid identity store URL", err).WithContext("url", url)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewPersistenceError("identity write failed", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewPersistenceError("identity write rejected", nil).WithContext("status", resp.StatusCode)
	}
	return nil
}
