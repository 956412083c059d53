package version

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

const defaultVersionTimeout = 10 * time.Second

// Binary is the on-disk managed executable the local version is read from
type Binary interface {
	Path() string
	EnsureExecutable() error
}

// LocalResolver reads the installed version by running the binary with a version flag
type LocalResolver struct {
	binary  Binary
	flag    string
	timeout time.Duration
	logger  logging.Logger
}

func NewLocalResolver(binary Binary, timeout time.Duration, logger logging.Logger) *LocalResolver {
	if timeout <= 0 {
		timeout = defaultVersionTimeout
	}
	return &LocalResolver{
		binary:  binary,
		flag:    "--version",
		timeout: timeout,
		logger:  logger,
	}
}

func (r *LocalResolver) ResolveCurrent(ctx context.Context) (Version, error) {
	path := r.binary.Path()

	if err := r.binary.EnsureExecutable(); err != nil {
		r.logger.Debugf("Local binary unavailable, path: %s, error: %v", path, err)
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, r.flag)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errors.NewProcessError("version query failed", err).
			WithContext("path", path).
			WithContext("stderr", stderr.String())
	}

	v, err := ParseVersionOutput(stdout.Bytes())
	if err != nil {
		return "", err
	}

	r.logger.Infof("Resolved local version, path: %s, version: %s", path, v)
	return v, nil
}
