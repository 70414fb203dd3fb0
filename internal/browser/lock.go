// File: internal/browser/lock.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	homedir "github.com/mitchellh/go-homedir"
)

// sessionLock guards a persistent browser profile directory. Cookies and
// storage in a profile belong to one underlying account, so two concurrent
// runs must never share it; acquisition is exclusive and fails fast rather
// than queueing.
type sessionLock struct {
	path string
}

// acquireSession expands and creates the profile directory, then takes the
// exclusive lock inside it. The returned directory is what the browser is
// started with.
func acquireSession(profileDir string) (string, *sessionLock, error) {
	dir, err := homedir.Expand(profileDir)
	if err != nil {
		return "", nil, fmt.Errorf("could not resolve profile dir %q: %w", profileDir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("could not create profile dir %q: %w", dir, err)
	}

	lockPath := filepath.Join(dir, ".session.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return "", nil, fmt.Errorf("profile %q is in use by another run (remove %s if stale)", dir, lockPath)
		}
		return "", nil, fmt.Errorf("could not take session lock: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()

	return dir, &sessionLock{path: lockPath}, nil
}

// release frees the profile for the next run.
func (l *sessionLock) release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}
