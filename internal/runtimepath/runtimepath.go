// Package runtimepath locates the per-user files a running daemon owns.
package runtimepath

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EnvOverride names a directory that wins over every other candidate.
const EnvOverride = "DESKPORTAL_RUNTIME_DIR"

const (
	socketName = "deskportal.sock"
	pidName    = "deskportal.pid"
)

// Dir returns the runtime directory, checking in order: $DESKPORTAL_RUNTIME_DIR,
// $XDG_RUNTIME_DIR, /run/user/<uid> on unix, the user cache directory on
// windows, and finally a private directory under the system temp dir.
func Dir() (string, error) {
	for _, env := range []string{EnvOverride, "XDG_RUNTIME_DIR"} {
		if dir := os.Getenv(env); dir != "" {
			return dir, nil
		}
	}

	if runtime.GOOS == "windows" {
		if cache, err := os.UserCacheDir(); err == nil {
			return ensure(filepath.Join(cache, "deskportal"))
		}
	} else if dir := fmt.Sprintf("/run/user/%d", os.Getuid()); isDir(dir) {
		return dir, nil
	}
	return ensure(filepath.Join(os.TempDir(), fmt.Sprintf("deskportal-runtime-%d", os.Getuid())))
}

// SocketPath returns the daemon IPC socket path.
func SocketPath() (string, error) { return file(socketName) }

// PIDPath returns the path of the daemon's pid file.
func PIDPath() (string, error) { return file(pidName) }

func file(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func ensure(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create runtime dir: %w", err)
	}
	return dir, nil
}
