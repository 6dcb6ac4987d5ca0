package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func fixedType(name string, seen *string) func(string) (string, error) {
	return func(p string) (string, error) {
		if seen != nil {
			*seen = p
		}
		return name, nil
	}
}

func TestRequireLocal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fsType     string
		wantRemote bool
	}{
		{"apfs", false},
		{"0xef53", false},
		{"nfs", true},
		{"SMBFS", true},
		{"cifs", true},
		{"ceph", true},
	}
	for _, tt := range tests {
		t.Run(tt.fsType, func(t *testing.T) {
			t.Parallel()
			err := requireLocal(filepath.Join(t.TempDir(), "aobridge.db"), fixedType(tt.fsType, nil))
			if got := errors.Is(err, ErrNetworkFilesystem); got != tt.wantRemote {
				t.Fatalf("requireLocal(%s) = %v, want remote=%v", tt.fsType, err, tt.wantRemote)
			}
			if !tt.wantRemote && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInspect_UsesNearestExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var seen string
	m, err := inspect(filepath.Join(root, "state", "nested", "aobridge.db"), fixedType("apfs", &seen))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if seen != root || m.Checked != root {
		t.Fatalf("checked %q (mount %q), want %q", seen, m.Checked, root)
	}
	if m.Remote() {
		t.Fatal("apfs reported as remote")
	}
}

func TestInspect_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := Inspect(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestInspect_TempDirIsLocal(t *testing.T) {
	t.Parallel()
	m, err := Inspect(t.TempDir())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if m.Type == "" {
		t.Fatal("filesystem type is empty")
	}
}
