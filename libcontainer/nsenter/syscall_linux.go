// +build linux

// Package nsenter wraps the small set of raw syscalls the container
// lifecycle needs directly: mount, unshare, setns, pivot_root, plus a
// non-caching getpid used by PID 1 to assert it really is PID 1.
package nsenter

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SyscallError carries the kernel errno alongside the syscall name that
// produced it, satisfying §7's KernelSyscall error kind contract.
type SyscallError struct {
	Syscall string
	Err     error
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Syscall, e.Err)
}

func (e *SyscallError) Unwrap() error { return e.Err }

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return &SyscallError{Syscall: name, Err: err}
}

// Mount is a thin wrapper over mount(2).
func Mount(source, target, fstype string, flags uintptr, data string) error {
	return wrap("mount", unix.Mount(source, target, fstype, flags, data))
}

// Umount is umount(2) with no flags.
func Umount(target string) error {
	return wrap("umount", unix.Unmount(target, 0))
}

// Umount2 is umount2(2) with explicit flags (e.g. MNT_DETACH).
func Umount2(target string, flags int) error {
	return wrap("umount2", unix.Unmount(target, flags))
}

// Unshare wraps unshare(2).
func Unshare(flags uintptr) error {
	return wrap("unshare", unix.Unshare(int(flags)))
}

// Setns wraps setns(2).
func Setns(fd int, flags uintptr) error {
	return wrap("setns", unix.Setns(fd, int(flags)))
}

// PivotRoot wraps pivot_root(2).
func PivotRoot(newRoot, putOld string) error {
	return wrap("pivot_root", unix.PivotRoot(newRoot, putOld))
}

// Sethostname wraps sethostname(2).
func Sethostname(name string) error {
	return wrap("sethostname", unix.Sethostname([]byte(name)))
}

// Mknod wraps mknod(2) for device node creation.
func Mknod(path string, mode uint32, dev int) error {
	return wrap("mknod", unix.Mknod(path, mode, dev))
}

// Flock wraps flock(2). The supervisor's pidfile lock in package daemon calls
// unix.Flock directly rather than this wrapper.
func Flock(fd int, how int) error {
	return wrap("flock", unix.Flock(fd, how))
}

// GetpidNoCache issues the getpid syscall directly rather than trusting any
// cached value, preserved for parity with the contract in §4.1/§4.5 step 1:
// PID 1's self-check must ask the kernel, not rely on state carried across
// the re-exec boundary.
func GetpidNoCache() int {
	pid, _, _ := unix.RawSyscall(unix.SYS_GETPID, 0, 0, 0)
	return int(pid)
}

// IsMountPoint reports whether path appears as a mount point in
// /proc/self/mountinfo.
func IsMountPoint(path string) (bool, error) {
	mounts, err := mountPoints()
	if err != nil {
		return false, err
	}
	_, ok := mounts[path]
	return ok, nil
}
