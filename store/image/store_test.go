package image

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCatalogRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	require.NoError(t, os.Mkdir(filepath.Join(root, "zebra"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpine"), 0755))

	require.NoError(t, s.AddEntry(ImageRecord{ImageName: "zebra", ImageBase: "Debian Linux", Version: "stable", CreatedTime: "2026-01-01 00:00:00"}))
	require.NoError(t, s.AddEntry(ImageRecord{ImageName: "alpine", ImageBase: "Alpine Linux", Version: "v3.16", CreatedTime: "2026-01-01 00:00:01"}))

	c, err := s.Catalog()
	require.NoError(t, err)
	require.Len(t, c.Images, 2)
	// writeCatalog sorts by ImageName, so "alpine" sorts before "zebra"
	// regardless of insertion order.
	require.Equal(t, "alpine", c.Images[0].ImageName)
	require.Equal(t, "zebra", c.Images[1].ImageName)
}

func TestCatalogMissingFileReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	c, err := s.Catalog()
	require.NoError(t, err)
	require.Empty(t, c.Images)
}

func TestListOnlyReturnsDirectories(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpine"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "images.json"), []byte("{}"), 0644))

	names, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []string{"alpine"}, names)
}

func TestRemoveEntriesDeletesDirectoryAndCatalogRow(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpine"), 0755))
	require.NoError(t, s.AddEntry(ImageRecord{ImageName: "alpine", ImageBase: "Alpine Linux", Version: "v3.16"}))

	require.NoError(t, s.RemoveEntries([]string{"alpine"}))

	_, err := os.Stat(filepath.Join(root, "alpine"))
	require.True(t, os.IsNotExist(err))

	c, err := s.Catalog()
	require.NoError(t, err)
	require.Empty(t, c.Images)
}

func TestRemoveEntriesWarnsOnUnknownNameWithoutFailing(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.RemoveEntries([]string{"does-not-exist"}))
}

func TestMakeImageRootRejectsExisting(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, os.Mkdir(filepath.Join(root, "alpine"), 0755))

	_, err := s.makeImageRoot("alpine")
	require.Error(t, err)
}
