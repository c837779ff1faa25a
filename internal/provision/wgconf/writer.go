package wgconf

import (
	"os"
	"path/filepath"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
)

// WriteFile serializes the device and replaces the target file atomically:
// write to a temp file in the same directory, fsync, rename. A reader or a
// crash mid-write never observes a half-written config.
func WriteFile(path string, dev *Device) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to create config directory", false, err).WithMetadata("path", path)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to create temp config file", false, err).WithMetadata("path", path)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(dev.Render()); err != nil {
		tmp.Close()
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to write config", false, err).WithMetadata("path", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to sync config", false, err).WithMetadata("path", path)
	}
	if err := tmp.Close(); err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to close temp config file", false, err).WithMetadata("path", path)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to set config file mode", false, err).WithMetadata("path", path)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return sharedErrors.NewSyncError(sharedErrors.ErrCodeFileOperation,
			"failed to replace config file", false, err).WithMetadata("path", path)
	}
	return nil
}
