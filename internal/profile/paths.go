// Package profile resolves the on-disk layout of a named profile. Each
// profile has its own history database, client cache, socket and logs.
package profile

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "TALK_HOME"

// BaseDir returns $TALK_HOME, or ~/.talk.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".talk")
}

// Dir returns the profile directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SocketPath returns the daemon socket of a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "talkd.sock")
}

// LockPath returns the daemon lock file of a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// HistoryDBPath returns the daemon's authoritative history database.
func HistoryDBPath(name string) string {
	return filepath.Join(Dir(name), "history.db")
}

// CacheDBPath returns the client-side page cache.
func CacheDBPath(name string) string {
	return filepath.Join(Dir(name), "cache.db")
}

// LogDir returns the log directory of a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file of one program in a profile.
func LogPath(name, program string) string {
	return filepath.Join(LogDir(name), program+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
