// Package lock keeps a single daemon per profile directory.
//
// The lock is an flock on <dir>/LOCK. The file also records who holds it, so
// a refused daemon or a client that cannot reach the socket can say which
// process owns the profile.
package lock

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the lock file created inside the locked directory.
const FileName = "LOCK"

// Owner describes the process holding a lock.
type Owner struct {
	PID     int       `toml:"pid"`
	Program string    `toml:"program"`
	Socket  string    `toml:"socket,omitempty"`
	Started time.Time `toml:"started"`
}

func (o Owner) String() string {
	if o.Program == "" {
		return fmt.Sprintf("PID %d", o.PID)
	}
	return fmt.Sprintf("%s (PID %d)", o.Program, o.PID)
}

// HeldError is returned when another process holds the lock. Owner is zero
// when the lock file could not be read.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile is locked by %s (%s)", e.Owner, e.Path)
}

// Lock is an acquired lock file.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes an exclusive, non-blocking flock on dir/LOCK and records
// owner in it. PID and Started are filled in. It returns *HeldError when
// another process holds the lock.
func Acquire(dir string, owner Owner) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		held := &HeldError{Path: path}
		held.Owner, _ = readOwner(path)
		return nil, held
	}

	owner.PID = os.Getpid()
	owner.Started = time.Now().UTC().Truncate(time.Second)
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(owner); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("encode lock owner: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path, owner: owner}, nil
}

// ReadOwner returns the owner recorded in dir/LOCK. A lock file left behind
// by a dead process is still readable; only Acquire knows whether it is held.
func ReadOwner(dir string) (Owner, error) {
	return readOwner(filepath.Join(dir, FileName))
}

func readOwner(path string) (Owner, error) {
	var o Owner
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return Owner{}, fmt.Errorf("read lock owner: %w", err)
	}
	return o, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Owner returns what Acquire recorded.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Release removes and unlocks the file. Safe to call on a nil or released
// lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
