package ipc

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// SocketPath computes the Unix-domain socket path for an instance of app
// rooted at configDir: "$XDG_RUNTIME_DIR/<app>-<id>" with the temp dir as
// the fallback when XDG_RUNTIME_DIR is unset, where id is a base64 encoding
// of the canonical config directory path so that multiple instances
// watching different configs never collide on one socket.
func SocketPath(app, configDir string) (string, error) {
	abs, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("ipc: resolving config dir %q: %w", configDir, err)
	}
	id := base64.RawURLEncoding.EncodeToString([]byte(abs))

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s", app, id)), nil
}

// LogFilePath computes the optional log file path,
// "$XDG_CACHE_HOME/<app>_<id>.log", following the same instance-id scheme
// as SocketPath.
func LogFilePath(app, configDir string) (string, error) {
	abs, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("ipc: resolving config dir %q: %w", configDir, err)
	}
	id := base64.RawURLEncoding.EncodeToString([]byte(abs))

	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("ipc: resolving home directory: %w", err)
		}
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", app, id)), nil
}
