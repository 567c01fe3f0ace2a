package configs

import (
	"strings"

	"golang.org/x/sys/unix"
)

// flagsByOption maps the subset of specs.Mount option keywords the default
// mount table uses to their raw mount(2) flag. Options not present here are
// treated as literal mount-data fragments (mode=755, size=4m, ...).
var flagsByOption = map[string]uintptr{
	"bind":        unix.MS_BIND,
	"rbind":       unix.MS_BIND | unix.MS_REC,
	"ro":          unix.MS_RDONLY,
	"rprivate":    unix.MS_PRIVATE,
	"nosuid":      unix.MS_NOSUID,
	"noexec":      unix.MS_NOEXEC,
	"nodev":       unix.MS_NODEV,
	"remount":     unix.MS_REMOUNT,
	"strictatime": unix.MS_STRICTATIME,
	"rec":         unix.MS_REC,
}

// ParseOptions splits a specs.Mount's Options into the raw mount(2) flags
// bitmask and the leftover comma-joined mount-data string, the same split
// runc-family mount code performs between OCI-shaped config and the actual
// syscall.
func ParseOptions(options []string) (flags uintptr, data string) {
	var dataParts []string
	for _, opt := range options {
		if flag, ok := flagsByOption[opt]; ok {
			flags |= flag
			continue
		}
		dataParts = append(dataParts, opt)
	}
	return flags, strings.Join(dataParts, ",")
}
