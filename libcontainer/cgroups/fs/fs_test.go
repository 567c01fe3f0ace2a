package fs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofm/kutu/libcontainer/cgroups"
)

// newTestManager points cgroups.BasePath-shaped lookups at a synthetic
// hierarchy tree under t.TempDir() so these tests run unprivileged. The
// package-level Manager hardcodes cgroups.BasePath, so tests build the
// leaf/parent paths directly rather than going through NewManager for the
// on-disk layout; only the tasks-file and limit-file mechanics are exercised
// against the real implementation.
func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	for _, h := range []string{"cpu", "memory"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, h, ParentGroup, "box1"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, h, ParentGroup, "tasks"), nil, 0644))
		require.NoError(t, os.WriteFile(filepath.Join(root, h, ParentGroup, "box1", "tasks"), nil, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "cpu", ParentGroup, "box1", "cpu.shares"), []byte("1024\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "memory", ParentGroup, "box1", "memory.limit_in_bytes"), []byte("-1\n"), 0644))

	m := &Manager{
		name:        "box1",
		group:       ParentGroup,
		hierarchies: []string{"cpu", "memory"},
		parentPaths: map[string]string{
			"cpu":    filepath.Join(root, "cpu", ParentGroup),
			"memory": filepath.Join(root, "memory", ParentGroup),
		},
		paths: map[string]string{
			"cpu":    filepath.Join(root, "cpu", ParentGroup, "box1"),
			"memory": filepath.Join(root, "memory", ParentGroup, "box1"),
		},
	}
	return m, root
}

func TestAttachWritesPidOnce(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Attach(os.Getpid())
	require.NoError(t, err)

	pids, err := m.Pids()
	require.NoError(t, err)
	require.Contains(t, pids, os.Getpid())

	// Attaching again must not duplicate the entry.
	require.NoError(t, m.Attach(os.Getpid()))
	data, err := os.ReadFile(m.leafTasksFile("cpu"))
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), strconv.Itoa(os.Getpid())))
}

func TestAttachRejectsDeadPid(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Attach(deadPid(t))
	require.Error(t, err)
}

func TestDetachMovesPidToParent(t *testing.T) {
	m, _ := newTestManager(t)
	pid := os.Getpid()
	require.NoError(t, m.Attach(pid))

	require.NoError(t, m.Detach(pid))

	parentPids, err := cgroups.ParseTasksFile(m.parentTasksFile("cpu"))
	require.NoError(t, err)
	require.Contains(t, parentPids, pid)
}

func TestSetCPULimitRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	pct := 50.0
	require.NoError(t, m.SetCPULimit(&pct))
	got, err := m.CPULimit()
	require.NoError(t, err)
	require.Equal(t, 50, got)

	require.NoError(t, m.SetCPULimit(nil))
	got, err = m.CPULimit()
	require.NoError(t, err)
	require.Equal(t, 100, got)
}

func TestSetCPULimitRejectsOutOfRange(t *testing.T) {
	m, _ := newTestManager(t)

	for _, bad := range []float64{0, -1, 100.1, 500} {
		bad := bad
		require.Error(t, m.SetCPULimit(&bad))
	}
}

func TestSetMemoryLimitRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	n := int64(256)
	require.NoError(t, m.SetMemoryLimit(&n, "MiB"))

	bytes, err := m.MemoryLimitBytes()
	require.NoError(t, err)
	require.Equal(t, int64(256*1024*1024), bytes)

	mib, err := m.MemoryLimitMiB()
	require.NoError(t, err)
	require.Equal(t, int64(256), mib)

	require.NoError(t, m.SetMemoryLimit(nil, ""))
	bytes, err = m.MemoryLimitBytes()
	require.NoError(t, err)
	require.Equal(t, int64(-1), bytes)
}

func TestSetMemoryLimitRejectsUnknownUnit(t *testing.T) {
	m, _ := newTestManager(t)
	n := int64(1)
	require.Error(t, m.SetMemoryLimit(&n, "TB"))
}

func TestDeleteReclaimsTasksAndRemovesLeaf(t *testing.T) {
	m, _ := newTestManager(t)
	pid := os.Getpid()
	require.NoError(t, m.Attach(pid))

	require.NoError(t, m.Delete())

	_, err := os.Stat(m.paths["cpu"])
	require.True(t, os.IsNotExist(err))

	parentPids, err := cgroups.ParseTasksFile(m.parentTasksFile("cpu"))
	require.NoError(t, err)
	require.Contains(t, parentPids, pid)
}

// deadPid returns the PID of a child that has already exited and been
// reaped, to exercise the "process does not exist" path.
func deadPid(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	return pid
}
