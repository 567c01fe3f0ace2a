package container

import "path/filepath"

// Paths locates the three root directories kutu needs: where images live,
// where per-container overlay workspaces live, and where pidfiles live.
// Mirrors kutu.py's _img_root/_cont_root/_pid helpers, generalized into a
// struct so the CLI layer can override them (--image-root, --container-root,
// --run-root, or the KUTU_ROOT env var) instead of kutu.py's hardcoded
// /var/lib/kutu and $HOME/.kutu split.
type Paths struct {
	ImageRoot     string
	ContainerRoot string
	RunRoot       string
}

// DefaultPaths matches the Python original's system-wide roots.
func DefaultPaths() Paths {
	return Paths{
		ImageRoot:     "/var/lib/kutu/images",
		ContainerRoot: "/var/lib/kutu/containers",
		RunRoot:       "/var/run/kutu",
	}
}

func (p Paths) ImageDir(name string) string {
	return filepath.Join(p.ImageRoot, name)
}

func (p Paths) ContainerDir(name string) string {
	return filepath.Join(p.ContainerRoot, name)
}

func (p Paths) PidFile(name string) string {
	return filepath.Join(p.RunRoot, name+".pid")
}
