package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestRequireLocal(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "telbridge.db")

	if err := requireLocal(dbPath, func(string) (string, error) { return "ext4", nil }); err != nil {
		t.Fatalf("local filesystem rejected: %v", err)
	}

	err := requireLocal(dbPath, func(string) (string, error) { return "nfs", nil })
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("want ErrNetworkFilesystem, got %v", err)
	}

	err = requireLocal(dbPath, func(string) (string, error) { return "", errUnsupportedPlatform })
	if err != nil {
		t.Fatalf("unsupported platform must pass, got %v", err)
	}
}

func TestFilesystemOfUsesNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "telbridge.db")

	var inspected string
	if _, err := filesystemOf(dbPath, func(p string) (string, error) {
		inspected = p
		return "ext4", nil
	}); err != nil {
		t.Fatalf("filesystemOf: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}

	if _, err := filesystemOf("", nil); err == nil {
		t.Fatal("empty path must fail")
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"ext4":   false,
		"0x6969": false,
	}
	for fs, want := range cases {
		if got := isNetworkFilesystem(fs); got != want {
			t.Errorf("isNetworkFilesystem(%q) = %v, want %v", fs, got, want)
		}
	}
}
