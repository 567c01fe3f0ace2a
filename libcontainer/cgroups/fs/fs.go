// Package fs implements the cgroupfs-v1 driver for kutu: per-container
// cgroup leaves under a shared parent, task attach/detach, and the
// cpu-shares/memory-limit knobs (§4.4). Adapted from the shape of
// libcontainer/cgroups/systemd's legacyManager, but talking to plain
// cgroupfs directories instead of going through a systemd unit — kutu's
// cgroup contract never delegates to a systemd scope/service.
package fs

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mofm/kutu/libcontainer/cgroups"
	"github.com/mofm/kutu/kutuerr"
)

const (
	// ParentGroup is the parent cgroup all container leaves live under.
	ParentGroup = "kutu"

	cpuDefaultShares = 1024
	memoryUnlimited  = -1
)

var memoryUnits = []string{"B", "KiB", "MiB", "GiB"}

var log = logrus.WithField("component", "cgroups")

// Manager owns the per-container cgroup leaves for a fixed set of
// hierarchies (at minimum cpu, memory).
type Manager struct {
	mu          sync.Mutex
	name        string
	group       string
	hierarchies []string
	parentPaths map[string]string
	paths       map[string]string
}

// NewManager verifies the cgroup filesystem is mounted, ensures the parent
// directory exists for each hierarchy, and creates the named leaf.
func NewManager(name string, hierarchies []string) (*Manager, error) {
	if len(hierarchies) == 0 {
		hierarchies = cgroups.Hierarchies
	}

	entries, err := os.ReadDir(cgroups.BasePath)
	if err != nil || len(entries) == 0 {
		return nil, kutuerr.CgroupUnavailable("cgroups.NewManager",
			fmt.Errorf("cgroups filesystem is not mounted on %s", cgroups.BasePath))
	}

	m := &Manager{
		name:        name,
		group:       ParentGroup,
		hierarchies: hierarchies,
		parentPaths: make(map[string]string, len(hierarchies)),
		paths:       make(map[string]string, len(hierarchies)),
	}

	for _, h := range hierarchies {
		hierarchyRoot := filepath.Join(cgroups.BasePath, h)
		if !cgroups.PathExists(hierarchyRoot) {
			return nil, kutuerr.CgroupUnavailable("cgroups.NewManager",
				fmt.Errorf("hierarchy %s is not mounted", h))
		}

		parent := filepath.Join(hierarchyRoot, m.group)
		if err := os.Mkdir(parent, 0755); err != nil {
			if os.IsPermission(err) {
				return nil, kutuerr.PermissionDenied("cgroups.NewManager")
			}
			if !os.IsExist(err) {
				return nil, kutuerr.CgroupUnavailable("cgroups.NewManager", err)
			}
		}
		m.parentPaths[h] = parent

		leaf := filepath.Join(parent, name)
		if err := os.MkdirAll(leaf, 0755); err != nil {
			return nil, kutuerr.CgroupUnavailable("cgroups.NewManager", err)
		}
		m.paths[h] = leaf
	}

	return m, nil
}

func (m *Manager) leafTasksFile(h string) string   { return filepath.Join(m.paths[h], "tasks") }
func (m *Manager) parentTasksFile(h string) string { return filepath.Join(m.parentPaths[h], "tasks") }

// Attach writes pid into each leaf's tasks file, if not already present.
// Fails if the process is gone.
func (m *Manager) Attach(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := unix.Kill(pid, 0); err != nil {
		return kutuerr.Precondition("cgroups.Attach", fmt.Sprintf("pid %d does not exist", pid))
	}

	for _, h := range m.hierarchies {
		tasksFile := m.leafTasksFile(h)
		existing, err := cgroups.ParseTasksFile(tasksFile)
		if err != nil {
			return kutuerr.CgroupUnavailable("cgroups.Attach", err)
		}
		present := mapset.NewThreadUnsafeSet()
		for _, p := range existing {
			present.Add(p)
		}
		if present.Contains(pid) {
			continue
		}
		if err := cgroups.WriteTasksFile(tasksFile, pid); err != nil {
			return kutuerr.CgroupUnavailable("cgroups.Attach", err)
		}
	}
	return nil
}

// Detach moves pid from each leaf's tasks file back to the parent's.
func (m *Manager) Detach(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := unix.Kill(pid, 0); err != nil {
		return kutuerr.Precondition("cgroups.Detach", fmt.Sprintf("pid %d does not exist", pid))
	}

	for _, h := range m.hierarchies {
		existing, err := cgroups.ParseTasksFile(m.leafTasksFile(h))
		if err != nil {
			return kutuerr.CgroupUnavailable("cgroups.Detach", err)
		}
		present := mapset.NewThreadUnsafeSet()
		for _, p := range existing {
			present.Add(p)
		}
		if !present.Contains(pid) {
			continue
		}
		if err := cgroups.EnterPid(m.leafTasksFile(h), m.parentTasksFile(h), pid); err != nil {
			return kutuerr.CgroupUnavailable("cgroups.Detach", err)
		}
	}
	return nil
}

// Pids returns the PIDs currently in the first configured hierarchy's leaf.
func (m *Manager) Pids() ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.hierarchies) == 0 {
		return nil, nil
	}
	pids, err := cgroups.ParseTasksFile(m.leafTasksFile(m.hierarchies[0]))
	if err != nil {
		return nil, kutuerr.CgroupUnavailable("cgroups.Pids", err)
	}
	return pids, nil
}

// SetCPULimit writes round(1024 * pct/100) to cpu.shares. A nil pct restores
// the default of 1024 shares.
func (m *Manager) SetCPULimit(pct *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths["cpu"]
	if !ok {
		return kutuerr.CgroupUnavailable("cgroups.SetCPULimit", fmt.Errorf("cpu hierarchy not available in this cgroup"))
	}

	value := cpuDefaultShares
	if pct != nil {
		if *pct <= 0 || *pct > 100 {
			return kutuerr.Invalid("cgroups.SetCPULimit", "limit must be between 0 and 100")
		}
		value = int(math.Round(cpuDefaultShares * (*pct / 100)))
	}

	return writeFile(filepath.Join(path, "cpu.shares"), fmt.Sprintf("%d\n", value))
}

// CPULimit reads cpu.shares back as a percentage of the default 1024.
func (m *Manager) CPULimit() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths["cpu"]
	if !ok {
		return 0, nil
	}
	value, err := readIntFile(filepath.Join(path, "cpu.shares"))
	if err != nil {
		return 0, kutuerr.CgroupUnavailable("cgroups.CPULimit", err)
	}
	return int(math.Round(float64(value) / cpuDefaultShares * 100)), nil
}

// SetMemoryLimit writes n * 2^(10*index(unit)) to memory.limit_in_bytes. A
// nil n restores the "unlimited" sentinel (-1).
func (m *Manager) SetMemoryLimit(n *int64, unit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths["memory"]
	if !ok {
		return kutuerr.CgroupUnavailable("cgroups.SetMemoryLimit", fmt.Errorf("memory hierarchy not available in this cgroup"))
	}

	value := int64(memoryUnlimited)
	if n != nil {
		idx := unitIndex(unit)
		if idx < 0 {
			return kutuerr.Invalid("cgroups.SetMemoryLimit", fmt.Sprintf("unit must be one of %v", memoryUnits))
		}
		value = *n << uint(10*idx)
	}

	return writeFile(filepath.Join(path, "memory.limit_in_bytes"), fmt.Sprintf("%d\n", value))
}

// MemoryLimitBytes reads memory.limit_in_bytes verbatim.
func (m *Manager) MemoryLimitBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths["memory"]
	if !ok {
		return 0, nil
	}
	value, err := readInt64File(filepath.Join(path, "memory.limit_in_bytes"))
	if err != nil {
		return 0, kutuerr.CgroupUnavailable("cgroups.MemoryLimitBytes", err)
	}
	return value, nil
}

// MemoryLimitMiB reads memory.limit_in_bytes rounded down to MiB, matching
// the original's display property.
func (m *Manager) MemoryLimitMiB() (int64, error) {
	bytes, err := m.MemoryLimitBytes()
	if err != nil {
		return 0, err
	}
	return bytes / 1024 / 1024, nil
}

// Delete reclaims every task in the leaf back to the parent and removes the
// leaf directory.
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.hierarchies {
		path, ok := m.paths[h]
		if !ok {
			continue
		}
		pids, err := cgroups.ParseTasksFile(m.leafTasksFile(h))
		if err != nil {
			return kutuerr.CgroupUnavailable("cgroups.Delete", err)
		}
		for _, pid := range pids {
			if err := cgroups.EnterPid(m.leafTasksFile(h), m.parentTasksFile(h), pid); err != nil {
				log.WithError(err).WithField("pid", pid).Warn("failed to reclaim task before cgroup removal")
			}
		}
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return kutuerr.CgroupUnavailable("cgroups.Delete", err)
		}
	}
	return nil
}

func unitIndex(unit string) int {
	for i, u := range memoryUnits {
		if u == unit {
			return i
		}
	}
	return -1
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func readIntFile(path string) (int, error) {
	v, err := readInt64File(path)
	return int(v), err
}

func readInt64File(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var v int64
	_, err = fmt.Sscanf(string(data), "%d", &v)
	return v, err
}
