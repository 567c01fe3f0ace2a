// Package init implements the container's PID 1: the bring-up sequence that
// runs once inside the freshly cloned namespaces and never returns until the
// control pipe is closed. It is deliberately the only package in the module
// that assumes it already lives inside the new mount/uts/ipc/cgroup/net
// namespaces — everything namespace-related before this point belongs to
// the re-exec in daemon/container supervisor.
package init

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/kutuerr"
	"github.com/mofm/kutu/libcontainer/configs"
	"github.com/mofm/kutu/libcontainer/nsenter"
)

var log = logrus.WithField("component", "init")

// Init is PID 1 of a container. Construct one and call Run from inside the
// process that was cloned with CLONE_NEWPID (and, if IsolateNetworking,
// CLONE_NEWNET) already set.
type Init struct {
	RootDir           string
	ControlRead       *os.File
	ControlWrite      *os.File
	IsolateNetworking bool
	BindMounts        []configs.BindMount
	Hostname          string

	// Entrypoint is the user command to become PID 1's process image once
	// bring-up finishes. Empty means step 17 is a plain wait on the
	// control pipe instead of an exec.
	Entrypoint []string
	Env        []string
}

// New normalizes bind mount destinations to be relative to the container
// root, matching convert_bind_mounts_parameter's contract.
func New(rootDir string, controlRead, controlWrite *os.File, isolateNetworking bool, bindMounts []configs.BindMount, hostname string) (*Init, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, kutuerr.PreconditionWrap("init.New", err)
	}
	normalized := make([]configs.BindMount, len(bindMounts))
	for i, bm := range bindMounts {
		dest := bm.Destination
		if filepath.IsAbs(dest) {
			dest = dest[1:]
		}
		normalized[i] = configs.BindMount{Source: bm.Source, Destination: dest, ReadOnly: bm.ReadOnly}
	}
	if hostname == "" {
		hostname = GenHostname(8)
	}
	return &Init{
		RootDir:           root,
		ControlRead:       controlRead,
		ControlWrite:      controlWrite,
		IsolateNetworking: isolateNetworking,
		BindMounts:        normalized,
		Hostname:          hostname,
	}, nil
}

// Run carries out the full bring-up sequence and writes RDY. With an
// Entrypoint it then execs it and does not return on success; without one
// it blocks reading the control pipe, returning only once the supervisor has
// closed it (or died).
func (p *Init) Run() error {
	// Namespace and mount syscalls only take effect on the calling OS
	// thread; Run never spawns goroutines of its own, but pin it anyway
	// so a future change can't silently move it onto a different thread
	// mid-sequence.
	runtime.LockOSThread()

	if pid := nsenter.GetpidNoCache(); pid != 1 {
		return kutuerr.Precondition("init.Run", fmt.Sprintf("expected to be pid 1, got %d", pid))
	}

	if _, _, errno := unix.RawSyscall(unix.SYS_SETSID, 0, 0, 0); errno != 0 && errno != unix.EPERM {
		return kutuerr.Syscall("init.Run", "setsid", errno)
	}
	p.enableZombieReaping()

	if err := p.createNamespaces(); err != nil {
		return err
	}
	if err := p.setupRootMount(); err != nil {
		return err
	}
	if err := p.mountDefaults(); err != nil {
		return err
	}
	if err := p.createDefaultDevNodes(); err != nil {
		return err
	}
	if err := p.createSymlinkDevices(); err != nil {
		return err
	}
	if err := p.inaccessibleMounts(); err != nil {
		return err
	}
	if err := p.readonlyMounts(); err != nil {
		return err
	}
	if err := p.umountOldRoot(); err != nil {
		return err
	}
	if err := nsenter.Sethostname(p.Hostname); err != nil {
		return kutuerr.Syscall("init.Run", "sethostname", err)
	}

	if _, err := p.ControlWrite.Write([]byte("RDY")); err != nil {
		return kutuerr.PreconditionWrap("init.Run", err)
	}
	log.Debug("container started")

	if len(p.Entrypoint) > 0 {
		return p.execEntrypoint()
	}

	// No entrypoint: step 17 is a plain wait. Blocks until the supervisor
	// closes its end, including the case where it died before it had a
	// chance to kill us.
	buf := make([]byte, 1)
	_, _ = p.ControlRead.Read(buf)
	log.Debug("control pipe closed, stopping")
	return nil
}

// execEntrypoint replaces PID 1's process image with the user's entrypoint,
// per §4.5 step 17's supervisor-may-exec-instead-of-wait alternative: doing
// the exec from inside PID 1 itself (rather than signalling the supervisor
// to do it) is the only way the entrypoint can become PID 1's process image
// while staying PID 1 in its own namespace.
func (p *Init) execEntrypoint() error {
	path, err := exec.LookPath(p.Entrypoint[0])
	if err != nil {
		return kutuerr.Precondition("init.execEntrypoint",
			fmt.Sprintf("entrypoint %q not found: %v", p.Entrypoint[0], err))
	}
	env := p.Env
	if len(env) == 0 {
		env = configs.DefaultEnv
	}
	_ = p.ControlRead.Close()
	_ = p.ControlWrite.Close()
	if err := unix.Exec(path, p.Entrypoint, env); err != nil {
		return kutuerr.Syscall("init.execEntrypoint", "execve", err)
	}
	return nil
}

// enableZombieReaping tells the kernel PID 1 will never reap children via
// waitpid, so it should reap them itself. SIGCHLD's default disposition
// (SIG_DFL) leaves exited children as zombies; only an explicit SIG_IGN makes
// the kernel reap them automatically, as the Python original's call did.
func (p *Init) enableZombieReaping() {
	signal.Ignore(syscall.SIGCHLD)
}

// createNamespaces unshares every namespace kind the kernel exposes under
// /proc/self/ns, except pid (already established by the clone that created
// this process) and net (unshared only when IsolateNetworking is set). Missing
// namespace support is logged as a warning, not an error, the same
// leniency the Python original applies.
func (p *Init) createNamespaces() error {
	available := mapset.NewThreadUnsafeSet()
	if entries, err := os.ReadDir("/proc/self/ns"); err == nil {
		for _, e := range entries {
			available.Add(e.Name())
		}
	}

	names := make([]string, 0, len(configs.Namespaces))
	for name := range configs.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)

	var flags uintptr
	for _, name := range names {
		flag := configs.Namespaces[name]
		if flag == unix.CLONE_NEWPID {
			continue
		}
		if flag == unix.CLONE_NEWNET && !p.IsolateNetworking {
			continue
		}
		if available.Contains(name) {
			flags |= flag
		} else {
			log.Warnf("namespace type %s not supported on this system", name)
		}
	}
	if err := nsenter.Unshare(flags); err != nil {
		return kutuerr.Syscall("init.createNamespaces", "unshare", err)
	}
	return nil
}

func (p *Init) setupRootMount() error {
	if err := nsenter.Mount("none", "/", "", unix.MS_REC|unix.MS_SLAVE, ""); err != nil {
		return kutuerr.Syscall("init.setupRootMount", "mount", err)
	}
	if err := p.createBindMounts(); err != nil {
		return err
	}

	isMountPoint, err := nsenter.IsMountPoint(p.RootDir)
	if err != nil {
		return kutuerr.Syscall("init.setupRootMount", "mountinfo", err)
	}
	if !isMountPoint {
		if err := nsenter.Mount(p.RootDir, p.RootDir, "", unix.MS_BIND, ""); err != nil {
			return kutuerr.Syscall("init.setupRootMount", "mount", err)
		}
	}

	oldRoot := filepath.Join(p.RootDir, "old_root")
	if err := os.MkdirAll(oldRoot, 0755); err != nil {
		return kutuerr.PreconditionWrap("init.setupRootMount", err)
	}
	if err := os.Chdir(p.RootDir); err != nil {
		return kutuerr.PreconditionWrap("init.setupRootMount", err)
	}
	if err := nsenter.PivotRoot(".", "old_root"); err != nil {
		return kutuerr.Syscall("init.setupRootMount", "pivot_root", err)
	}
	if err := unix.Chroot("."); err != nil {
		return kutuerr.Syscall("init.setupRootMount", "chroot", err)
	}
	return nil
}

func (p *Init) createBindMounts() error {
	for _, bm := range p.BindMounts {
		destination := filepath.Join(p.RootDir, bm.Destination)
		if err := createMountTarget(bm.Source, destination); err != nil {
			return err
		}
		if err := nsenter.Mount(bm.Source, destination, "", unix.MS_BIND, ""); err != nil {
			return kutuerr.Syscall("init.createBindMounts", "mount", err)
		}
		if bm.ReadOnly {
			flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
			if err := nsenter.Mount("", destination, "", flags, ""); err != nil {
				return kutuerr.Syscall("init.createBindMounts", "mount", err)
			}
		}
	}
	return nil
}

// createMountTarget ensures destination exists with the right node type
// (file vs directory) before the bind mount lands on it, replacing any stray
// symlink left by the rootfs image.
func createMountTarget(source, destination string) error {
	info, err := os.Stat(source)
	if err == nil && !info.IsDir() {
		if fi, lerr := os.Lstat(destination); lerr == nil && fi.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(destination); err != nil {
				return kutuerr.PreconditionWrap("init.createMountTarget", err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
			return kutuerr.PreconditionWrap("init.createMountTarget", err)
		}
		f, err := os.OpenFile(destination, os.O_CREATE, 0644)
		if err != nil {
			return kutuerr.PreconditionWrap("init.createMountTarget", err)
		}
		return f.Close()
	}
	if err := os.MkdirAll(destination, 0755); err != nil {
		return kutuerr.PreconditionWrap("init.createMountTarget", err)
	}
	return nil
}

func (p *Init) mountDefaults() error {
	for _, m := range configs.DefaultMounts {
		if err := os.MkdirAll(m.Destination, 0755); err != nil {
			return kutuerr.PreconditionWrap("init.mountDefaults", err)
		}
		flags, data := configs.ParseOptions(m.Options)
		if err := nsenter.Mount(m.Source, m.Destination, m.Type, flags, data); err != nil {
			return kutuerr.Syscall("init.mountDefaults", fmt.Sprintf("mount %s", m.Destination), err)
		}
	}
	return nil
}

func (p *Init) inaccessibleMounts() error {
	for _, path := range configs.InaccessiblePaths {
		if err := nsenter.Mount("/dev/null", path, "", unix.MS_BIND, ""); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return kutuerr.Syscall("init.inaccessibleMounts", "mount", err)
		}
		flags := uintptr(unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_REMOUNT)
		if err := nsenter.Mount("", path, "", flags, ""); err != nil {
			return kutuerr.Syscall("init.inaccessibleMounts", "mount", err)
		}
	}
	return nil
}

func (p *Init) readonlyMounts() error {
	for _, path := range configs.ReadonlyPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := nsenter.Mount(path, path, "", unix.MS_BIND, ""); err != nil {
			return kutuerr.Syscall("init.readonlyMounts", "mount", err)
		}
		flags := uintptr(unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_REMOUNT)
		if err := nsenter.Mount("", path, "", flags, ""); err != nil {
			return kutuerr.Syscall("init.readonlyMounts", "mount", err)
		}
	}
	return nil
}

func (p *Init) createDefaultDevNodes() error {
	for _, d := range configs.DeviceNodes {
		mode := d.Mode
		if d.Name == "console" {
			mode = 0600
		}
		if err := createDeviceNode(d, mode); err != nil {
			return err
		}
	}
	return nil
}

func createDeviceNode(d configs.DeviceNode, mode uint32) error {
	deviceType := uint32(unix.S_IFCHR)
	if d.IsBlock {
		deviceType = unix.S_IFBLK
	}
	path := filepath.Join("/dev", d.Name)
	dev := unix.Mkdev(uint32(d.Major), uint32(d.Minor))
	if err := nsenter.Mknod(path, deviceType, int(dev)); err != nil {
		return kutuerr.Syscall("init.createDeviceNode", "mknod", err)
	}
	// mknod honors umask on the mode bits, so chmod separately to get the
	// exact permissions requested.
	if err := os.Chmod(path, os.FileMode(mode)); err != nil {
		return kutuerr.PreconditionWrap("init.createDeviceNode", err)
	}
	return nil
}

func (p *Init) createSymlinkDevices() error {
	targets := make([]string, 0, len(configs.DeviceSymlinks))
	for link := range configs.DeviceSymlinks {
		targets = append(targets, link)
	}
	sort.Strings(targets)

	for _, link := range targets {
		target := configs.DeviceSymlinks[link]
		if err := os.Symlink(target, link); err != nil {
			return kutuerr.Precondition("init.createSymlinkDevices",
				fmt.Sprintf("failed to create symlink to devices: %v", err))
		}
	}
	return nil
}

func (p *Init) umountOldRoot() error {
	if err := nsenter.Umount2("/old_root", unix.MNT_DETACH); err != nil {
		return kutuerr.Syscall("init.umountOldRoot", "umount2", err)
	}
	if err := os.Remove("/old_root"); err != nil {
		return kutuerr.PreconditionWrap("init.umountOldRoot", err)
	}
	return nil
}

