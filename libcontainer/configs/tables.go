// Package configs holds the static tables that define the container's PID 1
// filesystem layout: default mounts, device nodes, masked/read-only kernel
// paths, and the namespace flag map. The kernel flags here protect against
// container breakouts, so the tables must be reproduced bit-exact (please
// keep them in the order the bring-up sequence mounts them).
package configs

import (
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// DeviceNode describes a character (or block) device to mknod into /dev.
type DeviceNode struct {
	Name    string
	Major   int64
	Minor   int64
	Mode    uint32
	IsBlock bool
}

// BindMount is a (source, destination, read-only) bind mount request. The
// destination is interpreted relative to the container root at mount time.
type BindMount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// Namespaces maps a /proc/self/ns/<name> entry to its CLONE_NEW* flag.
var Namespaces = map[string]uintptr{
	"pid":    unix.CLONE_NEWPID,
	"cgroup": unix.CLONE_NEWCGROUP,
	"ipc":    unix.CLONE_NEWIPC,
	"uts":    unix.CLONE_NEWUTS,
	"mnt":    unix.CLONE_NEWNS,
	"net":    unix.CLONE_NEWNET,
}

// DefaultMounts is the exact, ordered set of mounts PID 1 establishes inside
// the pivoted root (§6 "Default container mounts (in order)"). Expressed as
// specs.Mount the way the teacher's sysvisorFsMounts table does; Options
// carries both mount-flag keywords (translated by ParseOptions) and raw
// mount-data fragments (passed straight through, comma-joined).
var DefaultMounts = []specs.Mount{
	{
		Destination: "/proc",
		Type:        "proc",
		Source:      "proc",
		Options:     []string{"nosuid", "noexec", "nodev"},
	},
	{
		Destination: "/proc/sys",
		Source:      "/proc/sys",
		Options:     []string{"bind"},
	},
	{
		Destination: "/proc/sys/net",
		Source:      "/proc/sys/net",
		Options:     []string{"bind"},
	},
	{
		Destination: "/proc/sys",
		Options:     []string{"bind", "ro", "nosuid", "noexec", "nodev", "remount"},
	},
	{
		Destination: "/dev",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options:     []string{"nosuid", "strictatime", "mode=755", "size=4m", "nr_inodes=1m"},
	},
	{
		Destination: "/dev/pts",
		Type:        "devpts",
		Source:      "devpts",
		Options:     []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620", "gid=5"},
	},
	{
		Destination: "/dev/shm",
		Type:        "tmpfs",
		Source:      "shm",
		Options:     []string{"nosuid", "noexec", "nodev", "mode=1777", "size=10%", "nr_inodes=400k"},
	},
	{
		Destination: "/dev/mqueue",
		Type:        "mqueue",
		Source:      "mqueue",
		Options:     []string{"nosuid", "noexec", "nodev"},
	},
	{
		Destination: "/sys",
		Type:        "sysfs",
		Source:      "sysfs",
		Options:     []string{"nosuid", "noexec", "nodev", "ro"},
	},
	{
		Destination: "/run",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options:     []string{"nosuid", "strictatime", "nodev", "mode=755", "size=20%", "nr_inodes=800k"},
	},
	{
		Destination: "/tmp",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options:     []string{"nosuid", "strictatime", "nodev", "mode=1777", "size=10%", "nr_inodes=400k"},
	},
}

// InaccessiblePaths are masked with a /dev/null bind mount.
var InaccessiblePaths = []string{
	"/proc/kallsyms",
	"/proc/kcore",
	"/proc/keys",
	"/proc/sysrq-trigger",
	"/proc/timer_list",
}

// ReadonlyPaths are bind-mounted onto themselves and remounted read-only.
var ReadonlyPaths = []string{
	"/proc/acpi",
	"/proc/apm",
	"/proc/asound",
	"/proc/bus",
	"/proc/fs",
	"/proc/irq",
	"/proc/scsi",
}

// DeviceNodes is the fixed set of character devices PID 1 creates in /dev.
var DeviceNodes = []DeviceNode{
	{Name: "null", Major: 1, Minor: 3, Mode: 0666},
	{Name: "zero", Major: 1, Minor: 5, Mode: 0666},
	{Name: "full", Major: 1, Minor: 7, Mode: 0666},
	{Name: "tty", Major: 5, Minor: 0, Mode: 0666},
	{Name: "random", Major: 1, Minor: 8, Mode: 0666},
	{Name: "urandom", Major: 1, Minor: 9, Mode: 0666},
}

// DeviceSymlinks are the fixed symlinks PID 1 creates in /dev.
var DeviceSymlinks = map[string]string{
	"/dev/ptmx":    "pts/ptmx",
	"/dev/console": "pts/0",
	"/dev/fd":      "/proc/self/fd",
	"/dev/stdin":   "/proc/self/fd/0",
	"/dev/stdout":  "/proc/self/fd/1",
	"/dev/stderr":  "/proc/self/fd/2",
	"/dev/core":    "/proc/kcore",
}

// DefaultEnv is the environment containerized commands start with.
var DefaultEnv = []string{
	"PATH=/bin:/usr/bin:/sbin:/usr/sbin:/opt/bin:/usr/local/bin:/usr/local/sbin",
}

// HostNetworkBindMounts exists but is never applied unless the caller opts
// in (e.g. kutuctl run --share-resolv-conf); see SPEC_FULL.md §4.9 and the
// Open Question it resolves.
var HostNetworkBindMounts = []BindMount{
	{
		Source:      "/etc/resolv.conf",
		Destination: "/etc/resolv.conf",
		ReadOnly:    true,
	},
}
