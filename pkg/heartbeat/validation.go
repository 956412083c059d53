package heartbeat

import (
	"net/url"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
)

func ValidateHTTPPingerOptions(options HTTPPingerOptions) error {
	if options.URL == "" {
		return errors.NewValidationError("heartbeat URL is required", nil)
	}

	u, err := url.Parse(options.URL)
	if err != nil {
		return errors.NewValidationError("invalid heartbeat URL", err).WithContext("url", options.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewValidationError("heartbeat URL must be http or https", nil).WithContext("url", options.URL)
	}
	if u.Host == "" {
		return errors.NewValidationError("heartbeat URL has no host", nil).WithContext("url", options.URL)
	}

	if options.Timeout < 0 {
		return errors.NewValidationError("heartbeat timeout cannot be negative", nil)
	}
	return nil
}
