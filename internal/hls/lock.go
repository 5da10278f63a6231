package hls

import (
	"os"
	"path/filepath"
	"time"
)

// Session lock files mark "a session is/was active here" for sweepers and
// operators; they assert no cross-process locking. The mtime is refreshed
// on session start and on every successful segment serve.

func sessionLockPath(outputDir string) string {
	return filepath.Join(outputDir, sessionLockName)
}

// touchSessionLock creates or refreshes the lock file's mtime.
func touchSessionLock(outputDir string) error {
	path := sessionLockPath(outputDir)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// sessionLockAge returns how long ago the lock was refreshed. ok is false
// when no lock exists.
func sessionLockAge(outputDir string, now time.Time) (time.Duration, bool) {
	info, err := os.Stat(sessionLockPath(outputDir))
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}
