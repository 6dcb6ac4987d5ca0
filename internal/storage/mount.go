package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned by RequireLocal for paths on NFS, SMB and
// similar mounts, where SQLite WAL files and flock(2) locks are unreliable.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

var remoteTypes = map[string]bool{
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// Mount describes the filesystem a path lives on.
type Mount struct {
	// Checked is the nearest existing ancestor of the requested path; the
	// state database and wallet may not exist yet.
	Checked string
	Type    string
}

// Remote reports whether the mount is a network filesystem.
func (m Mount) Remote() bool {
	return remoteTypes[strings.ToLower(strings.TrimSpace(m.Type))]
}

// Inspect identifies the filesystem holding path.
func Inspect(path string) (Mount, error) {
	return inspect(path, filesystemType)
}

// RequireLocal refuses a path on a network filesystem.
func RequireLocal(path string) error {
	return requireLocal(path, filesystemType)
}

func requireLocal(path string, fsType func(string) (string, error)) error {
	m, err := inspect(path, fsType)
	if err != nil {
		return err
	}
	if m.Remote() {
		return fmt.Errorf("%w: %s is on %s; keep state.path (and the wallet) on a local disk",
			ErrNetworkFilesystem, path, m.Type)
	}
	return nil
}

func inspect(path string, fsType func(string) (string, error)) (Mount, error) {
	if path == "" {
		return Mount{}, fmt.Errorf("path is empty")
	}
	checked, err := existingAncestor(path)
	if err != nil {
		return Mount{}, fmt.Errorf("resolve %q: %w", path, err)
	}
	t, err := fsType(checked)
	if err != nil {
		return Mount{}, fmt.Errorf("filesystem of %q: %w", checked, err)
	}
	return Mount{Checked: checked, Type: t}, nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing ancestor")
		}
		p = parent
	}
}
