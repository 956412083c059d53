package binstore

import (
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

// ExecutableMode is the permission every installed binary carries
const ExecutableMode os.FileMode = 0755

// Store owns the on-disk location of the managed binary
type Store struct {
	path   string
	logger logging.Logger
}

func New(path string, logger logging.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// EnsureExecutable sets mode 0755 on the binary if it differs
func (s *Store) EnsureExecutable() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("managed binary does not exist", err).WithContext("path", s.path)
		}
		return errors.NewIOError("failed to stat managed binary", err).WithContext("path", s.path)
	}
	if !info.Mode().IsRegular() {
		return errors.NewValidationError("managed binary is not a regular file", nil).WithContext("path", s.path)
	}

	if info.Mode().Perm() == ExecutableMode {
		return nil
	}

	if err := os.Chmod(s.path, ExecutableMode); err != nil {
		return errors.NewPermissionError("failed to make binary executable", err).WithContext("path", s.path)
	}
	s.logger.Debugf("Made binary executable, path: %s, previous mode: %v", s.path, info.Mode().Perm())
	return nil
}

// Install replaces the binary with data. The bytes are written to a temporary
// file in the same directory and renamed over the target, so a reader never
// observes a partially written executable.
func (s *Store) Install(data []byte) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create binary directory", err).WithContext("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.NewIOError("failed to create temporary binary", err).WithContext("dir", dir)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewIOError("failed to write binary", err).WithContext("path", tmpPath)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.NewIOError("failed to sync binary", err).WithContext("path", tmpPath)
	}
	if err = tmp.Close(); err != nil {
		return errors.NewIOError("failed to close binary", err).WithContext("path", tmpPath)
	}

	// CreateTemp uses 0600; chmod is not subject to umask
	if err = os.Chmod(tmpPath, ExecutableMode); err != nil {
		return errors.NewPermissionError("failed to make binary executable", err).WithContext("path", tmpPath)
	}

	if err = os.Rename(tmpPath, s.path); err != nil {
		return errors.NewIOError("failed to replace binary", err).WithContext("path", s.path)
	}

	if err = os.Chmod(s.path, ExecutableMode); err != nil {
		return errors.NewPermissionError("failed to make binary executable", err).WithContext("path", s.path)
	}

	s.logger.Infof("Installed binary, path: %s, bytes: %d", s.path, len(data))
	return nil
}
