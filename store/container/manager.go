// Package container implements kutu's top-level container lifecycle: image
// bootstrap dispatch, run/kill, and the listing operations, wired on top of
// store/image, libcontainer/mount, libcontainer/cgroups/fs, daemon and the
// PID 1 re-exec in this package's launch.go.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/daemon"
	"github.com/mofm/kutu/kutuerr"
	"github.com/mofm/kutu/libcontainer/cgroups/fs"
	"github.com/mofm/kutu/libcontainer/configs"
	"github.com/mofm/kutu/libcontainer/mount"
	"github.com/mofm/kutu/store/image"
)

var log = logrus.WithField("component", "container")

const readyTimeout = 10 * time.Second

// RunOptions carries the SPEC_FULL.md CLI additions (--bind, --hostname,
// --net, --share-resolv-conf, --cpu-limit, --memory-limit) through to Run.
type RunOptions struct {
	BindMounts        []configs.BindMount
	Hostname          string
	IsolateNetworking bool
	ShareResolvConf   bool
	CPULimitPercent   *float64
	MemoryLimitMiB    *int64
}

// Manager is the top-level orchestration surface kutuctl drives: the root
// package's single entry point for bootstrap/run/kill/list, generalized
// from kutu.py's module-level functions into methods on a struct carrying
// the (overridable) root directories.
type Manager struct {
	Paths  Paths
	Images *image.Store
}

func New(paths Paths) *Manager {
	return &Manager{Paths: paths, Images: image.New(paths.ImageRoot)}
}

// requireRoot is the nearest Go analogue to kutu.py's @_check_useruid
// decorator: Go has no decorator syntax, so every root-gated method opens
// with this one-line call instead of being wrapped.
func requireRoot(op string) error {
	if unix.Geteuid() != 0 {
		return kutuerr.PermissionDenied(op)
	}
	return nil
}

// Bootstrap builds a named image from an upstream distribution.
func (m *Manager) Bootstrap(ctx context.Context, name, dist, version string) error {
	if err := requireRoot("container.Bootstrap"); err != nil {
		return err
	}
	switch dist {
	case "alpine":
		return m.Images.BootstrapAlpine(ctx, name, version)
	case "debian":
		return m.Images.BootstrapDebian(name, version)
	case "ubuntu":
		return m.Images.BootstrapUbuntu(name, version)
	default:
		return kutuerr.Invalid("container.Bootstrap", fmt.Sprintf("unsupported distribution %q", dist))
	}
}

// ImageList returns every bootstrapped image name.
func (m *Manager) ImageList() ([]string, error) {
	return m.Images.List()
}

// ImageRemove deletes the named image(s) and their catalog rows.
func (m *Manager) ImageRemove(names []string) error {
	if err := requireRoot("container.ImageRemove"); err != nil {
		return err
	}
	return m.Images.RemoveEntries(names)
}

// ContainerListAll returns every container directory name, running or not.
func (m *Manager) ContainerListAll() ([]string, error) {
	entries, err := os.ReadDir(m.Paths.ContainerRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kutuerr.PreconditionWrap("container.ContainerListAll", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ContainerListRunning returns the basenames of every *.pid file under
// RunRoot, matching cont_listrun's "pidfile present" definition of running.
func (m *Manager) ContainerListRunning() ([]string, error) {
	entries, err := os.ReadDir(m.Paths.RunRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kutuerr.PreconditionWrap("container.ContainerListRunning", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".pid" {
			names = append(names, e.Name()[:len(e.Name())-len(ext)])
		}
	}
	return names, nil
}

func (m *Manager) containerExists(name string) bool {
	_, err := os.Stat(m.Paths.ContainerDir(name))
	return err == nil
}

func (m *Manager) imageExists(name string) bool {
	return m.Images.Exists(name)
}

func (m *Manager) isRunning(name string) bool {
	running, err := m.ContainerListRunning()
	if err != nil {
		return false
	}
	for _, n := range running {
		if n == name {
			return true
		}
	}
	return false
}

// Run creates name's overlay workspace over image's rootfs and launches cmd
// as its entrypoint, detached and tracked by a pidfile.
func (m *Manager) Run(name, imageName, cmd string, opts RunOptions) error {
	if err := requireRoot("container.Run"); err != nil {
		return err
	}
	if !m.imageExists(imageName) || m.containerExists(name) {
		return kutuerr.Precondition("container.Run",
			"image does not exist or container name already exists")
	}
	entrypoint, err := splitEntrypoint(cmd)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(m.Paths.RunRoot, 0755); err != nil {
		return kutuerr.PreconditionWrap("container.Run", err)
	}

	workspace := &mount.OverlayWorkspace{Root: m.Paths.ContainerDir(name)}
	if err := workspace.Create(); err != nil {
		return kutuerr.PreconditionWrap("container.Run", err)
	}

	scope, err := workspace.Start([]string{m.Paths.ImageDir(imageName)})
	if err != nil {
		_ = os.RemoveAll(workspace.Root)
		return kutuerr.PreconditionWrap("container.Run", err)
	}

	bindMounts := opts.BindMounts
	if opts.ShareResolvConf {
		bindMounts = append(append([]configs.BindMount(nil), bindMounts...), configs.HostNetworkBindMounts...)
	}

	cfg := initLaunchConfig{
		RootDir:           workspace.Merged(),
		IsolateNetworking: opts.IsolateNetworking,
		BindMounts:        bindMounts,
		Hostname:          opts.Hostname,
		Entrypoint:        entrypoint,
		Env:               configs.DefaultEnv,
	}

	launch, err := buildInitLaunch(cfg, nil, nil, nil)
	if err != nil {
		_ = scope.Close()
		_ = os.RemoveAll(workspace.Root)
		return err
	}
	d := daemon.New(m.Paths.PidFile(name))
	if err := d.Start(launch.cmd); err != nil {
		_ = scope.Close()
		_ = os.RemoveAll(workspace.Root)
		return err
	}

	if err := launch.handshake(cfg, readyTimeout); err != nil {
		_ = d.Stop()
		_ = scope.Close()
		_ = os.RemoveAll(workspace.Root)
		return err
	}
	log.WithField("container", name).Info("container started")

	if opts.CPULimitPercent != nil || opts.MemoryLimitMiB != nil {
		if cgErr := m.attachCgroup(name, launch.cmd.Process.Pid, opts); cgErr != nil {
			// Per §7's propagation rule: cgroup attach failures on a live
			// PID 1 do not tear the container down.
			log.WithField("container", name).WithError(cgErr).Warn("cgroup attach failed")
			return kutuerr.CgroupUnavailable("container.Run", cgErr)
		}
	}
	return nil
}

func (m *Manager) attachCgroup(name string, pid int, opts RunOptions) error {
	mgr, err := fs.NewManager(name, []string{"cpu", "memory"})
	if err != nil {
		return err
	}
	if err := mgr.Attach(pid); err != nil {
		return err
	}
	if opts.CPULimitPercent != nil {
		if err := mgr.SetCPULimit(opts.CPULimitPercent); err != nil {
			return err
		}
	}
	if opts.MemoryLimitMiB != nil {
		if err := mgr.SetMemoryLimit(opts.MemoryLimitMiB, "MiB"); err != nil {
			return err
		}
	}
	return nil
}

// Kill stops each named running container's supervisor. Names that aren't
// currently running are logged and skipped, matching kutu.py's kill() loop.
func (m *Manager) Kill(names []string) error {
	if err := requireRoot("container.Kill"); err != nil {
		return err
	}
	for _, name := range names {
		if !m.isRunning(name) {
			log.Warnf("container is not running: %s", name)
			continue
		}
		d := daemon.New(m.Paths.PidFile(name))
		if err := d.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// ContainerRemove destroys the overlay workspace and directory for each
// stopped container in names; refuses (without touching the filesystem) if
// any named container is still running.
func (m *Manager) ContainerRemove(names []string) error {
	if err := requireRoot("container.ContainerRemove"); err != nil {
		return err
	}
	for _, name := range names {
		if m.isRunning(name) {
			return kutuerr.Precondition("container.ContainerRemove",
				fmt.Sprintf("container %s is running, kill it first", name))
		}
		if !m.containerExists(name) {
			log.Warnf("container %q not found", name)
			continue
		}
		workspace := &mount.OverlayWorkspace{Root: m.Paths.ContainerDir(name)}
		if err := workspace.Destroy(); err != nil {
			return kutuerr.PreconditionWrap("container.ContainerRemove", err)
		}
	}
	return nil
}
