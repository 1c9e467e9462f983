package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the agent.
type ExecMode string

const (
	// ExecModeUser runs as a regular user, state under the home directory.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root, state under /var/lib.
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // lock, status, key, store and log
	LockPath   string
	StatusPath string
	KeyPath    string
	StorePath  string
	LogPath    string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
// A non-empty dataDir overrides the mode's default directory.
func DetectExecMode(dataDir string) *ExecModeConfig {
	isRoot := os.Geteuid() == 0

	mode := ExecModeUser
	dir := filepath.Join(GetRealUserHome(), ".rcagent")
	if isRoot {
		mode = ExecModeSystem
		dir = "/var/lib/rcagent"
	}
	if dataDir != "" {
		dir = dataDir
	}
	return newExecModeConfig(mode, dir, isRoot)
}

func newExecModeConfig(mode ExecMode, dir string, isRoot bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dir,
		LockPath:   filepath.Join(dir, "rcagent.lock"),
		StatusPath: filepath.Join(dir, "status.json"),
		KeyPath:    filepath.Join(dir, ".key"),
		StorePath:  filepath.Join(dir, "rcagent.db"),
		LogPath:    filepath.Join(dir, "rcagent.log"),
		IsRoot:     isRoot,
	}
}

// EnsureDataDir creates the data directory with owner-only permissions.
func (c *ExecModeConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
