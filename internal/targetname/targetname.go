// Package targetname derives iSCSI and NVMe-oF target identifiers from a
// configured base prefix and a volume ID. Names are pure functions of their
// inputs: neither the agent nor the node stores a volume-to-target mapping,
// they recompute it on every call.
package targetname

import (
	"fmt"
	"strings"

	"github.com/ndenev/zvolcsi/internal/validate"
)

// ISCSI derives the IQN for a volume from a base prefix such as
// "iqn.2026-01.io.zvolcsi" and a volume ID, producing
// "iqn.2026-01.io.zvolcsi:<volumeID>".
func ISCSI(basePrefix, volumeID string) (string, error) {
	if err := validate.Name("volume id", volumeID); err != nil {
		return "", err
	}
	if basePrefix == "" {
		return "", fmt.Errorf("iscsi base prefix must not be empty")
	}
	return strings.TrimSuffix(basePrefix, ":") + ":" + volumeID, nil
}

// NVMe derives the NQN for a volume the same way ISCSI does, from a base
// prefix such as "nqn.2026-01.io.zvolcsi".
func NVMe(basePrefix, volumeID string) (string, error) {
	if err := validate.Name("volume id", volumeID); err != nil {
		return "", err
	}
	if basePrefix == "" {
		return "", fmt.Errorf("nvme base prefix must not be empty")
	}
	return strings.TrimSuffix(basePrefix, ":") + ":" + volumeID, nil
}

// VolumeID recovers the volume ID encoded in a target name produced by
// ISCSI or NVMe, given the same base prefix. It is the inverse operation
// used by reconciliation when rebuilding the export cache from existing
// kernel-target config and ZFS metadata rather than from CSI requests.
func VolumeID(basePrefix, targetName string) (string, error) {
	prefix := strings.TrimSuffix(basePrefix, ":") + ":"
	if !strings.HasPrefix(targetName, prefix) {
		return "", fmt.Errorf("target name %q does not match base prefix %q", targetName, basePrefix)
	}
	volumeID := strings.TrimPrefix(targetName, prefix)
	if err := validate.Name("volume id", volumeID); err != nil {
		return "", fmt.Errorf("target name %q: %w", targetName, err)
	}
	return volumeID, nil
}
