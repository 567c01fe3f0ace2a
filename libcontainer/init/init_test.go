package init

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mofm/kutu/libcontainer/configs"
)

func TestNewNormalizesBindMountDestinations(t *testing.T) {
	root := t.TempDir()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p, err := New(root, r, w, false, []configs.BindMount{
		{Source: "/etc/resolv.conf", Destination: "/etc/resolv.conf", ReadOnly: true},
	}, "myhost")
	require.NoError(t, err)
	require.Equal(t, "etc/resolv.conf", p.BindMounts[0].Destination)
	require.Equal(t, "myhost", p.Hostname)
}

func TestNewGeneratesHostnameWhenEmpty(t *testing.T) {
	root := t.TempDir()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p, err := New(root, r, w, false, nil, "")
	require.NoError(t, err)
	require.Len(t, p.Hostname, 8)
}

func TestCreateMountTargetForFile(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source-file")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0644))

	destination := filepath.Join(dir, "nested", "dest-file")
	require.NoError(t, createMountTarget(source, destination))

	info, err := os.Stat(destination)
	require.NoError(t, err)
	require.False(t, info.IsDir())
}

func TestCreateMountTargetForDirectory(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source-dir")
	require.NoError(t, os.Mkdir(source, 0755))

	destination := filepath.Join(dir, "nested", "dest-dir")
	require.NoError(t, createMountTarget(source, destination))

	info, err := os.Stat(destination)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCreateMountTargetReplacesStaleSymlink(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source-file")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0644))

	destination := filepath.Join(dir, "dest-file")
	require.NoError(t, os.Symlink("/nowhere", destination))

	require.NoError(t, createMountTarget(source, destination))

	fi, err := os.Lstat(destination)
	require.NoError(t, err)
	require.Zero(t, fi.Mode()&os.ModeSymlink)
}
