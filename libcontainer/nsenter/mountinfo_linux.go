// +build linux

package nsenter

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// mountPoints parses /proc/self/mountinfo and returns the set of mount-point
// paths, with the kernel's \NNN octal escapes in each path decoded.
func mountPoints() (map[string]struct{}, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return nil, wrap("open mountinfo", err)
	}
	defer f.Close()

	result := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// format: id parent major:minor root mount-point options ...
		if len(fields) < 5 {
			continue
		}
		result[unescapeOctal(fields[4])] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, wrap("scan mountinfo", err)
	}
	return result, nil
}

// unescapeOctal decodes the \NNN octal escapes mountinfo uses for spaces,
// tabs, newlines, and backslashes in paths.
func unescapeOctal(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
