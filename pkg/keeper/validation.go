package keeper

import (
	"net/url"
	"strings"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/artifact"
	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/proxyconfig"
	"github.com/core-tools/hsu-proxykeeper/pkg/supervisor"
)

// ValidateConfig checks a configuration that already has its defaults applied
func ValidateConfig(config *KeeperConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateReleaseConfig(config.Release); err != nil {
		return errors.NewValidationError("invalid release configuration", err)
	}
	if err := validateBinaryConfig(config.Binary); err != nil {
		return errors.NewValidationError("invalid binary configuration", err)
	}
	if err := validateProxyConfig(config.Proxy); err != nil {
		return errors.NewValidationError("invalid proxy configuration", err)
	}
	if err := validateHeartbeatConfig(config.Heartbeat); err != nil {
		return errors.NewValidationError("invalid heartbeat configuration", err)
	}
	if err := ValidateTimeout(config.Identity.Timeout, "identity"); err != nil {
		return errors.NewValidationError("invalid identity configuration", err)
	}
	return nil
}

// ValidateEnvironment checks that the heartbeat target can be derived
func ValidateEnvironment(config *KeeperConfig, env Environment) error {
	if config.Heartbeat.URL != "" {
		return nil
	}
	if env.Slug == "" {
		return errors.NewValidationError("REPL_SLUG is required to derive the public address", nil)
	}
	if env.Owner == "" {
		return errors.NewValidationError("REPL_OWNER is required to derive the public address", nil)
	}
	return nil
}

func validateReleaseConfig(config ReleaseConfig) error {
	switch config.Source {
	case artifact.SourceKindHTTP, artifact.SourceKindCache:
		if err := ValidateHTTPURL(config.URL); err != nil {
			return err
		}
		if config.Source == artifact.SourceKindCache && config.CacheDir == "" {
			return errors.NewValidationError("cache dir is required for cache source", nil)
		}
	case artifact.SourceKindDir:
		if config.CacheDir == "" {
			return errors.NewValidationError("cache dir is required for dir source", nil)
		}
	default:
		return errors.NewValidationError("unsupported artifact source: "+string(config.Source), nil).
			WithContext("supported_sources", "http, dir, cache")
	}

	if config.ArchiveName == "" {
		return errors.NewValidationError("archive name cannot be empty", nil)
	}
	if err := ValidateTimeout(config.LatestTimeout, "latest version"); err != nil {
		return err
	}
	return ValidateTimeout(config.DownloadTimeout, "download")
}

func validateBinaryConfig(config BinaryConfig) error {
	if config.Path == "" {
		return errors.NewValidationError("binary path cannot be empty", nil)
	}
	if config.ArchiveMember == "" {
		return errors.NewValidationError("archive member cannot be empty", nil)
	}
	if config.ProcessName == "" {
		return errors.NewValidationError("process name cannot be empty", nil)
	}
	return ValidateTimeout(config.VersionTimeout, "version")
}

func validateProxyConfig(config ProxyConfig) error {
	switch config.Transport {
	case supervisor.TransportFile:
		if config.ConfigPath == "" {
			return errors.NewValidationError("config path is required for file transport", nil)
		}
	case supervisor.TransportStdin:
	default:
		return errors.NewValidationError("unsupported config transport: "+string(config.Transport), nil).
			WithContext("supported_transports", "file, stdin")
	}

	switch config.Format {
	case proxyconfig.FormatJSON, proxyconfig.FormatYAML:
	default:
		return errors.NewValidationError("unsupported config format: "+string(config.Format), nil)
	}

	for _, env := range config.Env {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid proxy environment variable: "+env, nil).
				WithContext("expected_format", "NAME=value")
		}
	}

	if config.Port != 0 {
		if err := ValidatePort(config.Port); err != nil {
			return err
		}
	}
	if err := ValidateTimeout(config.GracefulTimeout, "graceful"); err != nil {
		return err
	}
	return ValidateTimeout(config.KillTimeout, "kill")
}

func validateHeartbeatConfig(config HeartbeatConfig) error {
	if err := ValidateTimeout(config.Interval, "heartbeat interval"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.Timeout, "heartbeat"); err != nil {
		return err
	}
	if config.Scheme != "http" && config.Scheme != "https" {
		return errors.NewValidationError("heartbeat scheme must be http or https", nil)
	}
	if config.URL != "" {
		return ValidateHTTPURL(config.URL)
	}
	return nil
}

func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}
	if timeout == 0 {
		return errors.NewValidationError(name+" timeout cannot be zero", nil)
	}
	return nil
}

func ValidateHTTPURL(raw string) error {
	if raw == "" {
		return errors.NewValidationError("URL cannot be empty", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.NewValidationError("invalid URL: "+raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewValidationError("URL must be http or https: "+raw, nil)
	}
	if u.Host == "" {
		return errors.NewValidationError("URL has no host: "+raw, nil)
	}
	return nil
}
