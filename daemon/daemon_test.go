package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartWritesPidfileAndLocksIt(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "box1.pid")
	d := New(pidFile)

	cmd := exec.Command("/bin/sleep", "5")
	require.NoError(t, d.Start(cmd))
	defer cmd.Process.Kill()

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(cmd.Process.Pid)+"\n", string(data))

	locked, err := NewLockfile(pidFile).IsLocked()
	require.NoError(t, err)
	require.True(t, locked)
}

func TestStartRefusesWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "box1.pid")
	d := New(pidFile)

	first := exec.Command("/bin/sleep", "5")
	require.NoError(t, d.Start(first))
	defer first.Process.Kill()

	second := exec.Command("/bin/sleep", "5")
	err := d.Start(second)
	require.Error(t, err)
}

func TestStopTerminatesProcessAndRemovesPidfile(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "box1.pid")
	d := New(pidFile)

	cmd := exec.Command("/bin/sleep", "30")
	require.NoError(t, d.Start(cmd))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	require.NoError(t, d.Stop())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}

	_, err := os.Stat(pidFile)
	require.True(t, os.IsNotExist(err))
}

func TestStopOnMissingPidfileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "nope.pid"))
	require.NoError(t, d.Stop())
}
