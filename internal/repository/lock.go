package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
)

// Lock is an advisory, single-process-per-repository exclusivity marker,
// following the same philosophy as the teacher's loop-device exclusivity
// handling in rawmaker (refuse to proceed if another process already
// claimed the resource) applied to a lock file instead of a loop device.
// Borg itself (original_source/lib/Borg.py) raises BorgRepoLocked when it
// can't acquire its own internal lock; this is the same guarantee
// implemented directly rather than inherited from an external tool.
type Lock struct {
	path string
}

func lockPath(repoDir string) string {
	return filepath.Join(repoDir, "lock")
}

// AcquireLock creates the repository's lock file, failing with
// KindRepositoryLocked if one is already present.
func AcquireLock(repoDir string) (*Lock, error) {
	path := lockPath(repoDir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, insecaerr.New(insecaerr.KindRepositoryLocked, fmt.Sprintf("repository %q is already locked", repoDir))
		}
		return nil, insecaerr.Wrap(insecaerr.KindRepositoryCorrupt, "create lock file", err)
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return insecaerr.Wrap(insecaerr.KindRepositoryCorrupt, "remove lock file", err)
	}
	return nil
}

// HeldByPID reports the PID recorded in an existing lock file, for
// diagnostics when AcquireLock fails.
func HeldByPID(repoDir string) (int, error) {
	raw, err := os.ReadFile(lockPath(repoDir))
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(raw), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}
