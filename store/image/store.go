// Package image implements kutu's image store: a catalog file
// (images.json) alongside one directory per bootstrapped rootfs, and the
// distribution-specific bootstrap procedures (Alpine minirootfs, Debian/
// Ubuntu via debootstrap).
package image

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mofm/kutu/kutuerr"
)

var log = logrus.WithField("component", "image")

// Store owns <Root>/<name>/ rootfs directories and <Root>/images.json.
type Store struct {
	Root string
}

func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) catalogPath() string {
	return filepath.Join(s.Root, "images.json")
}

// Catalog reads images.json, returning an empty catalog if it doesn't
// exist yet.
func (s *Store) Catalog() (*Catalog, error) {
	data, err := os.ReadFile(s.catalogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{}, nil
		}
		return nil, kutuerr.CatalogCorrupt("image.Catalog", err)
	}
	if len(data) == 0 {
		return &Catalog{}, nil
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, kutuerr.CatalogCorrupt("image.Catalog", err)
	}
	return &c, nil
}

// AddEntry appends rec to the catalog and rewrites images.json in place.
func (s *Store) AddEntry(rec ImageRecord) error {
	c, err := s.Catalog()
	if err != nil {
		return err
	}
	c.Images = append(c.Images, rec)
	return s.writeCatalog(c)
}

// RemoveEntries deletes the catalog entry and on-disk directory for each
// name in names, logging a warning for names that don't exist rather than
// failing the whole batch.
func (s *Store) RemoveEntries(names []string) error {
	c, err := s.Catalog()
	if err != nil {
		return err
	}
	existing, err := s.List()
	if err != nil {
		return err
	}
	existingSet := make(map[string]bool, len(existing))
	for _, n := range existing {
		existingSet[n] = true
	}

	kept := c.Images[:0]
	for _, rec := range c.Images {
		remove := false
		for _, name := range names {
			if rec.ImageName == name {
				remove = true
				break
			}
		}
		if remove {
			if err := os.RemoveAll(filepath.Join(s.Root, rec.ImageName)); err != nil {
				return kutuerr.PreconditionWrap("image.RemoveEntries", err)
			}
			continue
		}
		kept = append(kept, rec)
	}
	c.Images = kept

	for _, name := range names {
		if !existingSet[name] {
			log.Warnf("image %q not found", name)
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.Root, name)); err != nil {
			return kutuerr.PreconditionWrap("image.RemoveEntries", err)
		}
	}

	return s.writeCatalog(c)
}

// List returns the names of every directory under Root (excludes
// images.json itself, which is a file).
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, kutuerr.PreconditionWrap("image.List", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Exists reports whether name is a bootstrapped image.
func (s *Store) Exists(name string) bool {
	names, err := s.List()
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Store) writeCatalog(c *Catalog) error {
	sort.Slice(c.Images, func(i, j int) bool { return c.Images[i].ImageName < c.Images[j].ImageName })

	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return kutuerr.CatalogCorrupt("image.writeCatalog", err)
	}

	if err := os.MkdirAll(s.Root, 0755); err != nil {
		return kutuerr.PreconditionWrap("image.writeCatalog", err)
	}
	f, err := os.OpenFile(s.catalogPath(), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return kutuerr.PreconditionWrap("image.writeCatalog", err)
	}
	defer f.Close()

	if _, err := f.Seek(0, 0); err != nil {
		return kutuerr.PreconditionWrap("image.writeCatalog", err)
	}
	if _, err := f.Write(data); err != nil {
		return kutuerr.PreconditionWrap("image.writeCatalog", err)
	}
	return f.Truncate(int64(len(data)))
}

// makeImageRoot creates <Root>/<name>, failing if it already exists.
func (s *Store) makeImageRoot(name string) (string, error) {
	path := filepath.Join(s.Root, name)
	if _, err := os.Stat(path); err == nil {
		return "", kutuerr.Precondition("image.makeImageRoot", fmt.Sprintf("image %s already exists", name))
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", kutuerr.PreconditionWrap("image.makeImageRoot", err)
	}
	return path, nil
}

// buildFailed removes a partially populated image directory and returns
// the typed failure the caller should surface: cause is wrapped with %w, and
// its kutuerr Kind is kept when it has one (PreconditionFailed otherwise).
func buildFailed(dest, name string, cause error) error {
	if err := os.RemoveAll(dest); err != nil {
		log.WithError(err).WithField("dest", dest).Warn("failed to clean up image directory after a failed build")
	}
	wrapped := fmt.Errorf("image %s failed to build: %w", name, cause)
	if kind := kutuerr.Of(cause); kind != kutuerr.KindUnknown {
		return &kutuerr.Error{Kind: kind, Op: "image.bootstrap", Err: wrapped}
	}
	return kutuerr.PreconditionWrap("image.bootstrap", wrapped)
}

func (s *Store) addCatalogEntry(name, base, version string, now time.Time) error {
	return s.AddEntry(ImageRecord{
		ImageName:   name,
		ImageBase:   base,
		Version:     version,
		CreatedTime: now.Format("2006-01-02 15:04:05"),
	})
}
