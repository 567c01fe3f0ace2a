//go:build e2e

// Package e2e holds scenarios that need a real kernel and root privileges
// (overlayfs, namespace clone, cgroupfs) — invariant 1 and scenarios S1/S5
// from SPEC_FULL.md §8. They are excluded from the default build and only
// run with `go test -tags e2e` and KUTU_E2E=1, matching the Python
// original's own integration suite which required a privileged CI runner.
package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofm/kutu/store/container"
)

func skipUnlessE2E(t *testing.T) {
	t.Helper()
	if os.Getenv("KUTU_E2E") != "1" {
		t.Skip("set KUTU_E2E=1 to run kernel/root-dependent scenarios")
	}
	if os.Geteuid() != 0 {
		t.Skip("e2e scenarios require root")
	}
}

func testPaths(t *testing.T) container.Paths {
	t.Helper()
	root := t.TempDir()
	return container.Paths{
		ImageRoot:     filepath.Join(root, "images"),
		ContainerRoot: filepath.Join(root, "containers"),
		RunRoot:       filepath.Join(root, "run"),
	}
}

// TestBootstrapThenRunAlpine covers part of S1: bootstrap makes the image
// show up in ImageList, Run succeeds, the container is listed as running,
// and Kill stops it. It does not inspect the catalog or what the entrypoint
// sees as its root.
func TestBootstrapThenRunAlpine(t *testing.T) {
	skipUnlessE2E(t)

	m := container.New(testPaths(t))
	ctx := context.Background()
	require.NoError(t, m.Bootstrap(ctx, "alp1", "alpine", "v3.16"))

	images, err := m.ImageList()
	require.NoError(t, err)
	require.Contains(t, images, "alp1")

	require.NoError(t, m.Run("c1", "alp1", `/bin/sh -c "echo hi"`, container.RunOptions{}))

	running, err := m.ContainerListRunning()
	require.NoError(t, err)
	require.Contains(t, running, "c1")

	require.NoError(t, m.Kill([]string{"c1"}))
}

// TestMaskedProcPathsInsideRunningContainer is S5: /proc/kcore reads empty
// (bound to /dev/null) and /proc/sysrq-trigger rejects writes with EROFS
// once bring-up has finished masking and read-only remounting. Run detaches
// before the entrypoint executes (bring-up only waits for RDY, not for the
// entrypoint to exit), so this only asserts that bring-up itself completes
// with the masking/remount steps in place; verifying the entrypoint's own
// exit status would need the engine to capture and report it, which is out
// of scope for this spec (see §1 Non-goals).
func TestMaskedProcPathsInsideRunningContainer(t *testing.T) {
	skipUnlessE2E(t)

	m := container.New(testPaths(t))
	ctx := context.Background()
	require.NoError(t, m.Bootstrap(ctx, "alp1", "alpine", "v3.16"))

	script := `/bin/sh -c "test ! -s /proc/kcore && ! echo 1 > /proc/sysrq-trigger"`
	require.NoError(t, m.Run("c2", "alp1", script, container.RunOptions{}))
	require.NoError(t, m.Kill([]string{"c2"}))
}
