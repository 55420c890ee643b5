package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the database would live on a network mount,
// where SQLite locking (and so the outbox claim) is unreliable.
var ErrNetworkFilesystem = errors.New("database is on a network filesystem")

var errUnsupportedPlatform = errors.New("filesystem detection is unsupported on this platform")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// RequireLocal fails with ErrNetworkFilesystem when path is on a network mount.
// Platforms without detection pass.
func RequireLocal(path string) error {
	return requireLocal(path, statFilesystem)
}

func requireLocal(path string, stat func(string) (string, error)) error {
	fsType, err := filesystemOf(path, stat)
	if errors.Is(err, errUnsupportedPlatform) {
		return nil
	}
	if err != nil {
		return err
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %s is on %s; set state.path to local disk", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// filesystemOf reports the filesystem type holding path, or its nearest existing
// parent when path does not exist yet.
func filesystemOf(path string, stat func(string) (string, error)) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return "", fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := stat(existing)
	if err != nil {
		return "", fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	return fsType, nil
}

func nearestExisting(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
