package daemon

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/kutuerr"
)

// Lockfile is an advisory flock(2) lock held over a container's pidfile for
// as long as its supervisor process is alive, the same contract
// lib/lockfile.py's LockFile gave via fcntl.flock.
type Lockfile struct {
	path string
	f    *os.File
}

func NewLockfile(path string) *Lockfile {
	return &Lockfile{path: path}
}

// Lock opens the pidfile and takes an exclusive, non-blocking flock on it.
func (l *Lockfile) Lock() error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return kutuerr.PreconditionWrap("lockfile.Lock", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK || err == unix.EACCES || err == unix.EAGAIN {
			return kutuerr.Concurrency("lockfile.Lock", err)
		}
		return kutuerr.Syscall("lockfile.Lock", "flock", err)
	}
	l.f = f
	return nil
}

// File returns the locked file descriptor itself, so it can be passed to a
// child process via exec.Cmd.ExtraFiles: flock(2) locks are associated with
// the open file description, which a fork+exec'd child inherits a duplicate
// of, so the lock survives in the child even after this process closes (or
// this process's own copy is Released).
func (l *Lockfile) File() *os.File { return l.f }

// Release drops the lock and closes the underlying file descriptor.
func (l *Lockfile) Release() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// IsLocked reports whether another process currently holds the lock.
func (l *Lockfile) IsLocked() (bool, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, kutuerr.PreconditionWrap("lockfile.IsLocked", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EACCES || err == unix.EAGAIN {
			return true, nil
		}
		return false, kutuerr.Syscall("lockfile.IsLocked", "flock", err)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
