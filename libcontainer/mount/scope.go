// Package mount provides scoped bind and overlay mount acquisitions that
// guarantee release on every control-flow exit path, and the per-container
// overlay workspace directory layout.
package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/libcontainer/nsenter"
)

var log = logrus.WithField("component", "mount")

// Scope is a mount acquisition that is always released.
type Scope interface {
	Mount() error
	Close() error
}

// BindMountScope bind-mounts source onto destination, optionally read-only.
type BindMountScope struct {
	Source, Destination string
	ReadOnly            bool
}

func (s *BindMountScope) Mount() error {
	if err := nsenter.Mount(s.Source, s.Destination, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", s.Source, s.Destination, err)
	}
	if s.ReadOnly {
		flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
		if err := nsenter.Mount("", s.Destination, "", flags, ""); err != nil {
			return fmt.Errorf("remount %s read-only: %w", s.Destination, err)
		}
	}
	return nil
}

func (s *BindMountScope) Close() error {
	return release(s.Destination)
}

// OverlayMountScope stacks lowerdirs (read-only) under upperdir/workdir at
// destination.
type OverlayMountScope struct {
	LowerDirs         []string
	UpperDir, WorkDir string
	Destination       string
}

func (s *OverlayMountScope) Mount() error {
	options := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(s.LowerDirs, ":"), s.UpperDir, s.WorkDir)
	if err := nsenter.Mount("overlay", s.Destination, "overlay", 0, options); err != nil {
		return fmt.Errorf("overlay mount at %s: %w", s.Destination, err)
	}
	return nil
}

func (s *OverlayMountScope) Close() error {
	return release(s.Destination)
}

// release unmounts target, falling back to a detached (MNT_DETACH) unmount
// and a warning when the clean unmount fails — the same guarantee the
// Python MountContext.__exit__ gave, reproduced as a defer-friendly helper.
func release(target string) error {
	if err := nsenter.Umount(target); err != nil {
		log.WithField("path", target).Warn("failed to umount, detaching instead")
		if err := nsenter.Umount2(target, unix.MNT_DETACH); err != nil {
			return fmt.Errorf("detach unmount %s: %w", target, err)
		}
	}
	return nil
}

// OverlayWorkspace is a container's on-disk directory layout: upperdir,
// workdir, and merged under Root. Creation is atomic — if it fails partway
// the whole Root is removed.
type OverlayWorkspace struct {
	Root string
}

func (w *OverlayWorkspace) UpperDir() string { return filepath.Join(w.Root, "upperdir") }
func (w *OverlayWorkspace) WorkDir() string  { return filepath.Join(w.Root, "workdir") }
func (w *OverlayWorkspace) Merged() string   { return filepath.Join(w.Root, "merged") }

// Create makes upperdir/workdir/merged under Root, removing Root entirely
// on any failure.
func (w *OverlayWorkspace) Create() error {
	if _, err := os.Stat(w.Root); err == nil {
		return fmt.Errorf("container root %s already exists", w.Root)
	}
	for _, dir := range []string{w.Root, w.UpperDir(), w.WorkDir(), w.Merged()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = os.RemoveAll(w.Root)
			return fmt.Errorf("create container root directory %s: %w", w.Root, err)
		}
	}
	return nil
}

// Destroy unmounts Merged() (best-effort, falling back to a detached
// unmount) and removes Root entirely. Callers must ensure nothing is still
// running against the workspace before calling this.
func (w *OverlayWorkspace) Destroy() error {
	if err := release(w.Merged()); err != nil {
		log.WithField("root", w.Root).WithError(err).Warn("failed to unmount overlay workspace during destroy")
	}
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove container root %s: %w", w.Root, err)
	}
	return nil
}

// Start mounts lowerDirs over the workspace's upper/work layers at Merged().
func (w *OverlayWorkspace) Start(lowerDirs []string) (*OverlayMountScope, error) {
	scope := &OverlayMountScope{
		LowerDirs:   lowerDirs,
		UpperDir:    w.UpperDir(),
		WorkDir:     w.WorkDir(),
		Destination: w.Merged(),
	}
	if err := scope.Mount(); err != nil {
		return nil, err
	}
	return scope, nil
}
