package image

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/mofm/kutu/kutuerr"
)

var debianReleases = []string{"stretch", "buster", "bullseye", "stable"}
var ubuntuReleases = []string{"bionic", "focal", "jammy"}

// BootstrapDebian runs debootstrap for a Debian rootfs.
func (s *Store) BootstrapDebian(name, version string) error {
	if version == "" {
		version = "stable"
	}
	if !contains(debianReleases, version) {
		return kutuerr.Invalid("image.BootstrapDebian",
			fmt.Sprintf("unsupported Debian version %q: only %v are supported", version, debianReleases))
	}
	return s.debootstrap(name, version, "Debian Linux")
}

// BootstrapUbuntu runs debootstrap for an Ubuntu rootfs.
func (s *Store) BootstrapUbuntu(name, version string) error {
	if version == "" {
		version = "focal"
	}
	if !contains(ubuntuReleases, version) {
		return kutuerr.Invalid("image.BootstrapUbuntu",
			fmt.Sprintf("unsupported Ubuntu version %q: only %v are supported", version, ubuntuReleases))
	}
	return s.debootstrap(name, version, "Ubuntu Linux")
}

func (s *Store) debootstrap(name, version, imageBase string) error {
	if _, err := exec.LookPath("debootstrap"); err != nil {
		return kutuerr.ExternalTool("image.debootstrap",
			fmt.Errorf("debootstrap not found, is the debootstrap package installed?"))
	}

	dest, err := s.makeImageRoot(name)
	if err != nil {
		return err
	}

	cmd := exec.Command("debootstrap", "--include=systemd-container", version, dest)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return buildFailed(dest, name, kutuerr.ExternalTool("image.debootstrap",
			fmt.Errorf("debootstrap failed installing %s image: %w: %s", name, err, output)))
	}

	if err := s.addCatalogEntry(name, imageBase, version, time.Now()); err != nil {
		return buildFailed(dest, name, err)
	}
	return nil
}
