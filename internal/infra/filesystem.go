package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver expands and checks user-supplied paths.
type PathResolver struct {
	homeDir string
}

// NewPathResolver creates a resolver for the current user.
func NewPathResolver() *PathResolver {
	home, _ := os.UserHomeDir()
	return &PathResolver{homeDir: home}
}

// NewPathResolverWithHome creates a resolver with custom home (for testing).
func NewPathResolverWithHome(home string) *PathResolver {
	return &PathResolver{homeDir: home}
}

// Exists checks if a path exists.
func (r *PathResolver) Exists(path string) bool {
	_, err := os.Stat(r.ExpandHome(path))
	return err == nil
}

// IsExecutable reports whether path is a regular file with an exec bit.
func (r *PathResolver) IsExecutable(path string) bool {
	info, err := os.Stat(r.ExpandHome(path))
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// ExpandHome expands ~ to the user's home directory.
func (r *PathResolver) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(r.homeDir, path[2:])
	}
	if path == "~" {
		return r.homeDir
	}
	return path
}

// atomicWriteFile writes data to a per-process temp file and renames it.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
