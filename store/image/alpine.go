package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ghodss/yaml"

	"github.com/mofm/kutu/kutuerr"
)

// alpineReleases is the set of Alpine Linux versions kutu knows how to
// bootstrap, including the "latest-stable" alias.
var alpineReleases = []string{"v3.13", "v3.14", "v3.15", "v3.16", "latest-stable"}

var alpineMirror = "https://dl-cdn.alpinelinux.org/alpine/"

// alpineReleaseEntry is one row of Alpine's latest-releases.yaml.
type alpineReleaseEntry struct {
	Flavor  string `json:"flavor"`
	Arch    string `json:"arch"`
	Version string `json:"version"`
	File    string `json:"file"`
	Sha256  string `json:"sha256"`
}

// BootstrapAlpine downloads and verifies an Alpine minirootfs tarball for
// name and extracts it into the image store.
func (s *Store) BootstrapAlpine(ctx context.Context, name, version string) error {
	const imageBase = "Alpine Linux"

	if version == "" || version == "latest-stable" {
		sorted := append([]string(nil), alpineReleases...)
		sort.Strings(sorted)
		version = sorted[len(sorted)-1]
	}
	if !contains(alpineReleases, version) {
		return kutuerr.Invalid("image.BootstrapAlpine",
			fmt.Sprintf("unsupported Alpine version %q: only %v are supported", version, alpineReleases))
	}

	dest, err := s.makeImageRoot(name)
	if err != nil {
		return err
	}

	arch := alpineArch()
	baseURL := fmt.Sprintf("%s%s/releases/%s/", alpineMirror, version, arch)

	entry, err := fetchAlpineReleaseEntry(ctx, baseURL, arch)
	if err != nil {
		return buildFailed(dest, name, err)
	}

	tmpDir, err := os.MkdirTemp("", "kutu-alpine-*")
	if err != nil {
		return buildFailed(dest, name, err)
	}
	defer os.RemoveAll(tmpDir)

	tarballPath := filepath.Join(tmpDir, entry.File)
	if err := downloadFile(ctx, baseURL+entry.File, tarballPath); err != nil {
		return buildFailed(dest, name, err)
	}
	if err := verifySha256(tarballPath, entry.Sha256); err != nil {
		return buildFailed(dest, name, err)
	}

	f, err := os.Open(tarballPath)
	if err != nil {
		return buildFailed(dest, name, err)
	}
	defer f.Close()
	if err := extractTarGz(f, dest); err != nil {
		return buildFailed(dest, name, err)
	}

	if err := s.addCatalogEntry(name, imageBase, version, time.Now()); err != nil {
		return buildFailed(dest, name, err)
	}
	return nil
}

func fetchAlpineReleaseEntry(ctx context.Context, baseURL, arch string) (*alpineReleaseEntry, error) {
	body, err := fetchURL(ctx, baseURL+"latest-releases.yaml")
	if err != nil {
		return nil, fmt.Errorf("fetch latest-releases.yaml: %w", err)
	}

	var entries []alpineReleaseEntry
	if err := yaml.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse latest-releases.yaml: %w", err)
	}

	for _, e := range entries {
		if e.Flavor == "alpine-minirootfs" && e.Arch == arch {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("no alpine-minirootfs entry for arch %s", arch)
}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

func downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

func verifySha256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return kutuerr.IntegrityFailed("image.verifySha256",
			fmt.Sprintf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, want))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
