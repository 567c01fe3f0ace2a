package container

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/kutuerr"
	"github.com/mofm/kutu/libcontainer/configs"
	pid1 "github.com/mofm/kutu/libcontainer/init"
)

// InitSubcommandName is the hidden kutuctl subcommand PID 1 re-execs into.
// It is never advertised in --help; cmd/kutuctl dispatches to it by exact
// argv[1] match before the normal cli.App parses anything.
const InitSubcommandName = "__init__"

// initLaunchConfig is the JSON blob handed to the re-exec'd __init__
// subcommand on fd 3 — a pipe instead of argv, so rootfs paths and the
// entrypoint never show up in `ps`, the same motivation the Python
// original's JSON-argv-blob re-exec had (see SPEC_FULL.md §4.5).
type initLaunchConfig struct {
	RootDir           string              `json:"root_dir"`
	IsolateNetworking bool                `json:"isolate_networking"`
	BindMounts        []configs.BindMount `json:"bind_mounts"`
	Hostname          string              `json:"hostname"`
	Entrypoint        []string            `json:"entrypoint"`
	Env               []string            `json:"env"`
}

// pendingLaunch is a built-but-not-yet-started re-exec of this binary into
// __init__, plus the parent-side ends of the three pipes passed to it.
type pendingLaunch struct {
	cmd          *exec.Cmd
	configWrite  *os.File
	readyRead    *os.File
	releaseWrite *os.File
}

// buildInitLaunch prepares the re-exec of the running kutuctl binary into
// __init__ with CLONE_NEWPID (and CLONE_NEWNET when isolateNetworking)
// already applied via SysProcAttr.Cloneflags, so fork and unshare happen in
// one step.
func buildInitLaunch(cfg initLaunchConfig, stdin, stdout, stderr *os.File) (*pendingLaunch, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, kutuerr.PreconditionWrap("container.buildInitLaunch", err)
	}

	configRead, configWrite, err := os.Pipe()
	if err != nil {
		return nil, kutuerr.PreconditionWrap("container.buildInitLaunch", err)
	}
	releaseRead, releaseWrite, err := os.Pipe()
	if err != nil {
		return nil, kutuerr.PreconditionWrap("container.buildInitLaunch", err)
	}
	readyRead, readyWrite, err := os.Pipe()
	if err != nil {
		return nil, kutuerr.PreconditionWrap("container.buildInitLaunch", err)
	}

	cmd := exec.Command(self, InitSubcommandName)
	// fd 3 = config, fd 4 = control-read (parent releases by closing),
	// fd 5 = control-write (child writes RDY).
	cmd.ExtraFiles = []*os.File{configRead, releaseRead, readyWrite}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	flags := uintptr(unix.CLONE_NEWPID)
	if cfg.IsolateNetworking {
		flags |= unix.CLONE_NEWNET
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: flags}

	return &pendingLaunch{cmd: cmd, configWrite: configWrite, readyRead: readyRead, releaseWrite: releaseWrite}, nil
}

// handshake performs the parent side of the re-exec protocol against a cmd
// that has already been started (by daemon.Start, which is what actually
// calls cmd.Start — it needs to run first so the pidfile lock's fd can be
// appended to cmd.ExtraFiles before the process is spawned). handshake drops
// the parent's copies of the child's pipe fds, streams the JSON config over
// fd 3, and waits up to timeout for PID 1 to write RDY on fd 5. On any
// failure it kills the child and closes every pipe end before returning.
func (pl *pendingLaunch) handshake(cfg initLaunchConfig, timeout time.Duration) error {
	// The child has its own copies of these three fds now; drop ours for
	// the read/write ones we don't use so EOF propagates correctly.
	configRead := pl.cmd.ExtraFiles[0]
	releaseReadFd := pl.cmd.ExtraFiles[1]
	readyWriteFd := pl.cmd.ExtraFiles[2]
	_ = configRead.Close()
	_ = releaseReadFd.Close()
	_ = readyWriteFd.Close()

	enc := json.NewEncoder(pl.configWrite)
	if err := enc.Encode(cfg); err != nil {
		_ = pl.cmd.Process.Kill()
		pl.closeAll()
		return kutuerr.PreconditionWrap("container.pendingLaunch.handshake", err)
	}
	_ = pl.configWrite.Close()

	_ = pl.readyRead.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 3)
	n, err := pl.readyRead.Read(buf)
	if err != nil || string(buf[:n]) != "RDY" {
		_ = pl.cmd.Process.Kill()
		pl.closeAll()
		return kutuerr.Precondition("container.pendingLaunch.handshake",
			fmt.Sprintf("container did not signal ready: %v", err))
	}
	pl.closeAll()
	return nil
}

// closeAll drops the parent's remaining pipe ends. Closing releaseWrite
// here is only correct because every caller in this package always supplies
// a non-empty Entrypoint, so PID 1 never actually waits on it — it closes
// its own end itself before exec'ing (see (*init.Init).execEntrypoint). A
// caller that launches PID 1 without an entrypoint must keep releaseWrite
// open and close it explicitly to end the container.
func (pl *pendingLaunch) closeAll() {
	_ = pl.readyRead.Close()
	_ = pl.releaseWrite.Close()
}

// RunInitSubcommand is the entire body of the hidden __init__ subcommand:
// it reads its config from fd 3, builds an Init for fd 4 (control read) /
// fd 5 (control write), and runs the bring-up sequence. Only returns on the
// no-entrypoint bring-up path or on failure; with an entrypoint, a successful run
// never returns (the process image is replaced by unix.Exec).
func RunInitSubcommand() error {
	configFile := os.NewFile(3, "init-config")
	controlRead := os.NewFile(4, "control-read")
	controlWrite := os.NewFile(5, "control-write")
	if configFile == nil || controlRead == nil || controlWrite == nil {
		return kutuerr.Precondition("container.RunInitSubcommand", "missing inherited fds 3/4/5")
	}

	var cfg initLaunchConfig
	if err := json.NewDecoder(configFile).Decode(&cfg); err != nil {
		return kutuerr.PreconditionWrap("container.RunInitSubcommand", err)
	}
	_ = configFile.Close()

	p, err := pid1.New(cfg.RootDir, controlRead, controlWrite, cfg.IsolateNetworking, cfg.BindMounts, cfg.Hostname)
	if err != nil {
		return err
	}
	p.Entrypoint = cfg.Entrypoint
	p.Env = cfg.Env
	return p.Run()
}
