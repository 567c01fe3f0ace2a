package image

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlpineDefaultVersionResolvesToHighestRelease(t *testing.T) {
	server := newAlpineTestServer(t, "3.16.2")
	defer server.Close()

	s := New(t.TempDir())
	require.NoError(t, s.BootstrapAlpine(context.Background(), "box1", ""))

	c, err := s.Catalog()
	require.NoError(t, err)
	require.Len(t, c.Images, 1)
	require.Equal(t, "v3.16", c.Images[0].Version)
}

func TestAlpineRejectsUnsupportedVersion(t *testing.T) {
	s := New(t.TempDir())
	err := s.BootstrapAlpine(context.Background(), "box1", "v2.7")
	require.Error(t, err)
}

func TestAlpineChecksumMismatchCleansUpImageDir(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	arch := alpineArch()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v3.16/releases/"+arch+"/latest-releases.yaml":
			w.Write([]byte("- flavor: alpine-minirootfs\n" +
				"  arch: " + arch + "\n" +
				"  version: 3.16.2\n" +
				"  file: alpine-minirootfs-3.16.2-" + arch + ".tar.gz\n" +
				"  sha256: " + strings.Repeat("0", 64) + "\n"))
		case r.URL.Path == "/v3.16/releases/"+arch+"/alpine-minirootfs-3.16.2-"+arch+".tar.gz":
			w.Write(buildMinimalTarGz(t))
		}
	}))
	defer server.Close()
	alpineMirrorOverride(t, server.URL+"/")

	err := s.BootstrapAlpine(context.Background(), "box1", "v3.16")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(root, "box1"))
	require.True(t, os.IsNotExist(statErr))
}

// newAlpineTestServer spins up an httptest server that serves a
// latest-releases.yaml and a tiny tarball whose checksum matches, and
// points the package-level mirror URL at it for the duration of the test.
func newAlpineTestServer(t *testing.T, version string) *httptest.Server {
	t.Helper()
	tarball := buildMinimalTarGz(t)
	sum := sha256.Sum256(tarball)
	hexSum := hex.EncodeToString(sum[:])

	arch := alpineArch()
	yamlPath := "/v3.16/releases/" + arch + "/latest-releases.yaml"
	tarPath := "/v3.16/releases/" + arch + "/alpine-minirootfs-" + version + "-" + arch + ".tar.gz"

	mux := http.NewServeMux()
	mux.HandleFunc(yamlPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("- flavor: alpine-minirootfs\n" +
			"  arch: " + arch + "\n" +
			"  version: " + version + "\n" +
			"  file: alpine-minirootfs-" + version + "-" + arch + ".tar.gz\n" +
			"  sha256: " + hexSum + "\n"))
	})
	mux.HandleFunc(tarPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write(tarball)
	})

	server := httptest.NewServer(mux)
	alpineMirrorOverride(t, server.URL+"/")
	return server
}

// alpineMirrorOverride temporarily repoints alpineMirror for the life of
// the test; BootstrapAlpine only ever reads the package variable, never a
// cached value, so this is safe between sequential tests.
func alpineMirrorOverride(t *testing.T, url string) {
	t.Helper()
	orig := alpineMirror
	alpineMirror = url
	t.Cleanup(func() { alpineMirror = orig })
}

func buildMinimalTarGz(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	content := []byte("#!/bin/sh\necho hi\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "bin/sh",
		Mode: 0755,
		Size: int64(len(content)),
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
