package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrLockTimeout is returned when the advisory lock on a shared file
// could not be acquired within the timeout.
var ErrLockTimeout = errors.New("storage: lock acquisition timed out")

const (
	// DefaultLockTimeout bounds how long a single invocation waits for
	// another writer before degrading to "no data".
	DefaultLockTimeout = 5 * time.Second

	lockRetryInterval = 100 * time.Millisecond
)

// FileLock is an exclusive advisory lock held through a sidecar lock file.
// Many independent processes share the data file; the lock only guards the
// read-modify-write-replace sequence, reads of the data file itself are
// lock-free against the last atomically renamed snapshot.
type FileLock struct {
	path string
	file *os.File
}

// AcquireLock locks the sidecar lock file for dataPath, retrying with
// backoff until timeout.
func AcquireLock(dataPath string, timeout time.Duration) (*FileLock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockPath := dataPath + ".lock"

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = tryLock(file)
		if err == nil {
			return &FileLock{path: lockPath, file: file}, nil
		}
		if time.Now().After(deadline) {
			file.Close()
			log.WithFields(log.Fields{
				"lock_file": lockPath,
				"timeout":   timeout,
			}).Warn("Failed to acquire file lock")
			return nil, ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
}

// Release unlocks and closes the lock file. Safe to call once.
func (l *FileLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	if err := unlock(l.file); err != nil {
		log.WithFields(log.Fields{
			"lock_file": l.path,
			"error":     err,
		}).Warn("Failed to release file lock")
	}
	l.file.Close()
	l.file = nil
}

// WithLock runs fn while holding the exclusive lock for dataPath.
func WithLock(dataPath string, timeout time.Duration, fn func() error) error {
	lock, err := AcquireLock(dataPath, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
