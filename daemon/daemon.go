// Package daemon supervises a single long-lived container process: it
// starts it detached from the invoking terminal, tracks it via a locked
// pidfile, and stops it on request. Go cannot safely fork(2) a live
// multi-threaded runtime the way lib/daemon.py's Daemon.daemonize() forks
// twice, so the detach step here is a re-exec instead: the supervisor hands
// the caller-built *exec.Cmd a new session (Setsid) and returns control to
// the caller immediately, which gives the same "doesn't block the shell"
// outcome the double fork was for.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/kutuerr"
)

var log = logrus.WithField("component", "daemon")

// Daemon tracks one supervised process by its pidfile.
type Daemon struct {
	PidFile string
	Stdin   string
	Stdout  string
	Stderr  string

	lock *Lockfile
}

// New returns a Daemon with /dev/null standard streams, matching the
// Python original's defaults.
func New(pidFile string) *Daemon {
	return &Daemon{
		PidFile: pidFile,
		Stdin:   os.DevNull,
		Stdout:  os.DevNull,
		Stderr:  os.DevNull,
		lock:    NewLockfile(pidFile),
	}
}

// Start launches cmd detached in its own session, refusing to run if the
// pidfile already names a live process. cmd.SysProcAttr is expected to
// already carry any namespace Cloneflags the caller needs; Start only adds
// Setsid.
//
// The pidfile's flock is taken before cmd is started and its fd is appended
// to cmd.ExtraFiles, so the lock is held by the spawned process itself for
// its actual lifetime (spec.md:48, 121) rather than only by this short-lived
// call: flock(2) locks attach to the open file description, which a
// fork+exec'd child inherits a duplicate of, so releasing this process's own
// copy after the child starts does not drop the lock.
func (d *Daemon) Start(cmd *exec.Cmd) error {
	if running, pid := d.running(); running {
		return kutuerr.Precondition("daemon.Start",
			fmt.Sprintf("pidfile %s already exists, pid %d already running?", d.PidFile, pid))
	}

	if err := os.MkdirAll(filepath.Dir(d.PidFile), 0755); err != nil {
		return kutuerr.PreconditionWrap("daemon.Start", err)
	}

	if err := d.lock.Lock(); err != nil {
		return err
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, d.lock.File())

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	if cmd.Stdin == nil {
		stdin, err := os.Open(d.Stdin)
		if err != nil {
			_ = d.lock.Release()
			return kutuerr.PreconditionWrap("daemon.Start", err)
		}
		cmd.Stdin = stdin
	}
	if cmd.Stdout == nil {
		stdout, err := os.OpenFile(d.Stdout, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			_ = d.lock.Release()
			return kutuerr.PreconditionWrap("daemon.Start", err)
		}
		cmd.Stdout = stdout
	}
	if cmd.Stderr == nil {
		stderr, err := os.OpenFile(d.Stderr, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			_ = d.lock.Release()
			return kutuerr.PreconditionWrap("daemon.Start", err)
		}
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		_ = d.lock.Release()
		return kutuerr.ExternalTool("daemon.Start", err)
	}

	// cmd.Start duplicated our lock fd into the child across fork+exec;
	// dropping our own copy now does not release the flock, since the
	// child's duplicate keeps the open file description alive.
	_ = d.lock.Release()

	if err := d.writePidFile(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		return err
	}
	return nil
}

// Stop sends SIGTERM to the pidfile's process and waits for it to exit,
// polling every 100ms exactly as lib/daemon.py's stop() loop did, then
// releases the lock and removes the pidfile.
func (d *Daemon) Stop() error {
	pid, ok := d.readPidFile()
	if !ok {
		log.Warnf("pidfile %s does not exist, daemon not running?", d.PidFile)
		return nil
	}

	for {
		err := unix.Kill(pid, unix.SIGTERM)
		if err != nil {
			if err == unix.ESRCH {
				break
			}
			return kutuerr.Syscall("daemon.Stop", "kill", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if _, err := os.Stat(d.PidFile); err == nil {
		return d.delPid()
	}
	return nil
}

// Restart stops the current process, if any, then starts cmd.
func (d *Daemon) Restart(cmd *exec.Cmd) error {
	if err := d.Stop(); err != nil {
		return err
	}
	return d.Start(cmd)
}

func (d *Daemon) running() (bool, int) {
	pid, ok := d.readPidFile()
	if !ok {
		return false, 0
	}
	if err := unix.Kill(pid, 0); err != nil {
		return false, 0
	}
	return true, pid
}

func (d *Daemon) readPidFile() (int, bool) {
	data, err := os.ReadFile(d.PidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func (d *Daemon) writePidFile(pid int) error {
	if err := os.WriteFile(d.PidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return kutuerr.PreconditionWrap("daemon.writePidFile", err)
	}
	return nil
}

func (d *Daemon) delPid() error {
	_ = d.lock.Release()
	if err := os.Remove(d.PidFile); err != nil && !os.IsNotExist(err) {
		return kutuerr.PreconditionWrap("daemon.delPid", err)
	}
	return nil
}
