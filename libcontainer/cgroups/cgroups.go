// Package cgroups holds the shared cgroupfs-v1 path helpers used by the fs
// driver in libcontainer/cgroups/fs. It is a reduced version of the helper
// surface runc-family code exposes (ParseCgroupFile, GetPids, EnterPid,
// WriteCgroupProc, IsNotFound, PathExists), scoped down to what cpu/memory
// task management needs.
package cgroups

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// BasePath is the cgroupfs v1 mount point.
const BasePath = "/sys/fs/cgroup"

// Hierarchies are the controllers kutu manages.
var Hierarchies = []string{"cpu", "memory"}

// ErrNotFound is returned when a cgroup hierarchy is not mounted.
var ErrNotFound = errors.New("cgroup hierarchy not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

// PathExists reports whether path exists on disk.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ParseTasksFile reads a cgroupfs "tasks" file and returns the contained
// PIDs.
func ParseTasksFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// WriteTasksFile appends pid to the cgroupfs "tasks" file at path.
func WriteTasksFile(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(pid) + "\n")
	return err
}

// EnterPid moves pid from one leaf back to its parent by appending it to the
// parent's tasks file (cgroupfs drops it from the leaf on that write). It
// handles a single hierarchy per call; a write error for a PID that has
// already exited is returned to the caller like any other.
func EnterPid(leafPath, parentTasksPath string, pid int) error {
	return WriteTasksFile(parentTasksPath, pid)
}
