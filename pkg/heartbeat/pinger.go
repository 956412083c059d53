package heartbeat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

const DefaultPingTimeout = 5 * time.Second

// Pinger performs one liveness request against the service's public address
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPPingerOptions struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`

	Client *http.Client `yaml:"-"`
}

type HTTPPinger struct {
	options HTTPPingerOptions
	client  *http.Client
	logger  logging.Logger
}

func NewHTTPPinger(options HTTPPingerOptions, logger logging.Logger) (*HTTPPinger, error) {
	if options.Method == "" {
		options.Method = http.MethodGet
	}
	if options.Timeout == 0 {
		options.Timeout = DefaultPingTimeout
	}
	if err := ValidateHTTPPingerOptions(options); err != nil {
		return nil, err
	}

	client := options.Client
	if client == nil {
		client = &http.Client{Timeout: options.Timeout}
	}

	return &HTTPPinger{
		options: options,
		client:  client,
		logger:  logger,
	}, nil
}

func (p *HTTPPinger) URL() string {
	return p.options.URL
}

// Ping succeeds on any 2xx response
func (p *HTTPPinger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.options.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, p.options.Method, p.options.URL, nil)
	if err != nil {
		return errors.NewValidationError("failed to create heartbeat request", err).WithContext("url", p.options.URL)
	}
	for key, value := range p.options.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); (ok && urlErr.Timeout()) || ctx.Err() == context.DeadlineExceeded {
			return errors.NewTimeoutError("heartbeat request timed out", err).WithContext("url", p.options.URL)
		}
		return errors.NewNetworkError("heartbeat request failed", err).WithContext("url", p.options.URL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewNetworkError(fmt.Sprintf("heartbeat returned %s", resp.Status), nil).WithContext("url", p.options.URL)
	}

	p.logger.Debugf("Heartbeat passed, url: %s, status: %d", p.options.URL, resp.StatusCode)
	return nil
}
