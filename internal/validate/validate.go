// Package validate holds the name and path validators shared by the agent
// and the CSI driver. A single place for these rules keeps the argv fed to
// zfs(8), ctladm(8) and nvmet-cli consistent and free of shell metacharacters.
package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const maxNameLength = 223

var nameRE = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// Name validates a volume, snapshot or target identifier. It must be
// non-empty, at most 223 bytes (the ZFS dataset component limit), built only
// from the characters ctld and zfs both accept unescaped, and must not
// contain a ".." path-traversal segment.
func Name(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if len(value) > maxNameLength {
		return fmt.Errorf("%s exceeds %d bytes", field, maxNameLength)
	}
	if !nameRE.MatchString(value) {
		return fmt.Errorf("%s contains characters outside [A-Za-z0-9._:-]", field)
	}
	if strings.Contains(value, "..") {
		return fmt.Errorf("%s must not contain \"..\"", field)
	}
	return nil
}

// DevicePath validates that a device path was produced by our own zvol
// naming, not supplied verbatim by a caller. It must be rooted at
// /dev/zvol/ and contain no ".." traversal.
func DevicePath(path string) error {
	if path == "" {
		return fmt.Errorf("device path must not be empty")
	}
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, "/dev/zvol/") {
		return fmt.Errorf("device path %q must begin with /dev/zvol/", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("device path %q must not contain \"..\"", path)
	}
	return nil
}

// PortalGroup validates a ctld portal-group or NVMe-oF transport-group
// identifier, which follows the same character rules as Name but is
// conventionally short.
func PortalGroup(value string) error {
	return Name("portal group", value)
}
