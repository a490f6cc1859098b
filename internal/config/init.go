// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/xdg"
)

// DefaultPath returns the config file path used when --config is not given.
func DefaultPath() (string, error) {
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", oops.Code("CONFIG_PATH_FAILED").Wrap(err)
	}
	return path, nil
}

// Resolve picks the config file to load. An explicit path is returned as
// is. Otherwise the default path is used if a file exists there, and ""
// (built-in defaults) if not.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path, err := DefaultPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}

// WriteDefault writes DefaultYAML to path, creating parent directories.
// An existing file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return oops.Code("CONFIG_EXISTS").With("path", path).Errorf("config file already exists: %s", path)
		}
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err //nolint:wrapcheck // already coded
	}
	if err := os.WriteFile(path, DefaultYAML(), 0o600); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
