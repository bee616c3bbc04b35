// Package zfsmgr owns a single ZFS parent dataset and exposes validated,
// idempotent operations on its zvol children: create/delete/resize,
// snapshots, capacity, and the JSON metadata blob stashed in a ZFS user
// property. Every mutating call shells out to zfs(8)/zpool(8) through one
// of the run* helpers below: validate, build argv, classify the result.
package zfsmgr

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/ndenev/zvolcsi/internal/validate"
)

// MetadataProperty is the ZFS user property that carries the JSON metadata
// blob for a CSI-managed zvol.
const MetadataProperty = "user:csi:metadata"

var (
	ErrAlreadyExists = errors.New("zfsmgr: volume already exists")
	ErrNotFound      = errors.New("zfsmgr: volume not found")
)

// Metadata is the JSON-serialized blob stored in MetadataProperty on every
// CSI-managed zvol, stored under MetadataProperty.
type Metadata struct {
	ExportType  string            `json:"export_type"`
	TargetName  string            `json:"target_name"`
	LunID       *uint32           `json:"lun_id,omitempty"`
	NamespaceID *uint32           `json:"namespace_id,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	Auth        bool              `json:"auth"`
}

// VolumeInfo is returned by CreateVolume and describes the zvol that now
// exists on disk.
type VolumeInfo struct {
	Name        string
	DatasetPath string
	DevicePath  string
	SizeBytes   int64
}

// SnapshotInfo describes one ZFS snapshot beneath the parent dataset.
type SnapshotInfo struct {
	Name      string // "<volume>@<snap>", relative to the parent dataset
	Volume    string
	SizeBytes int64
	CreatedAt int64
}

// MetadataEntry pairs a volume's short name with its decoded metadata, as
// returned by ListVolumesWithMetadata.
type MetadataEntry struct {
	Name     string
	Metadata Metadata
}

// Manager owns parentDataset (e.g. "tank/csi") and drives zfs(8)/zpool(8)
// for everything beneath it.
type Manager struct {
	parentDataset string
	zfsBin        string
	zpoolBin      string
}

// New returns a Manager rooted at parentDataset, e.g. "tank/csi".
func New(parentDataset string) *Manager {
	return &Manager{
		parentDataset: parentDataset,
		zfsBin:        "zfs",
		zpoolBin:      "zpool",
	}
}

func (m *Manager) datasetPath(name string) string {
	return m.parentDataset + "/" + name
}

// GetDevicePath is a pure function: /dev/zvol/<parent>/<name>.
func (m *Manager) GetDevicePath(name string) string {
	return "/dev/zvol/" + m.parentDataset + "/" + name
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.zfsBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", classifyZFSError(string(out), err)
	}
	return string(out), nil
}

func (m *Manager) runZpool(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.zpoolBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("zpool command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// poolName is the pool component of parentDataset, e.g. "tank" for
// "tank/csi".
func (m *Manager) poolName() string {
	if idx := strings.Index(m.parentDataset, "/"); idx >= 0 {
		return m.parentDataset[:idx]
	}
	return m.parentDataset
}

// PoolHealthy reports whether the pool backing the parent dataset is
// healthy, via `zpool status -x`. zpool status -x exits 0 regardless of
// pool health; health is read from its output text, not its exit code.
func (m *Manager) PoolHealthy(ctx context.Context) (bool, string, error) {
	out, err := m.runZpool(ctx, "status", "-x", m.poolName())
	if err != nil {
		return false, "", err
	}
	detail := strings.TrimSpace(out)
	if strings.Contains(detail, "is healthy") || strings.Contains(detail, "all pools are healthy") {
		return true, detail, nil
	}
	return false, detail, nil
}

func classifyZFSError(output string, err error) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "dataset already exists"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, strings.TrimSpace(output))
	case strings.Contains(lower, "dataset does not exist"),
		strings.Contains(lower, "could not find any snapshots to destroy"),
		strings.Contains(lower, "no such property"):
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(output))
	default:
		return fmt.Errorf("zfs command failed: %w: %s", err, strings.TrimSpace(output))
	}
}

// Exists reports whether a zvol child already exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	if err := validate.Name("volume name", name); err != nil {
		return false, err
	}
	_, err := m.run(ctx, "list", "-H", "-o", "name", m.datasetPath(name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateVolume creates a zvol of sizeBytes beneath the parent dataset. It
// fails with ErrAlreadyExists if the zvol is already present.
func (m *Manager) CreateVolume(ctx context.Context, name string, sizeBytes int64) (*VolumeInfo, error) {
	if err := validate.Name("volume name", name); err != nil {
		return nil, err
	}
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("size must be positive, got %d", sizeBytes)
	}
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	_, err = m.run(ctx, "create",
		"-V", strconv.FormatInt(sizeBytes, 10),
		"-o", "volmode=dev",
		m.datasetPath(name))
	if err != nil {
		return nil, err
	}
	return &VolumeInfo{
		Name:        name,
		DatasetPath: m.datasetPath(name),
		DevicePath:  m.GetDevicePath(name),
		SizeBytes:   sizeBytes,
	}, nil
}

// CloneVolume creates a zvol as a ZFS clone of sourceVolume@sourceSnap,
// rather than an empty one, so the new volume starts with the snapshot's
// data. Fails with ErrAlreadyExists if name is already present, or
// ErrNotFound if the source snapshot does not exist.
func (m *Manager) CloneVolume(ctx context.Context, sourceVolume, sourceSnap, name string) (*VolumeInfo, error) {
	if err := validate.Name("source volume name", sourceVolume); err != nil {
		return nil, err
	}
	if err := validate.Name("source snapshot name", sourceSnap); err != nil {
		return nil, err
	}
	if err := validate.Name("volume name", name); err != nil {
		return nil, err
	}
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	snapshotPath := m.datasetPath(sourceVolume) + "@" + sourceSnap
	if _, err := m.run(ctx, "clone", "-o", "volmode=dev", snapshotPath, m.datasetPath(name)); err != nil {
		return nil, err
	}
	return m.GetVolumeInfo(ctx, name)
}

// GetVolumeInfo reads size and path information for an existing zvol.
func (m *Manager) GetVolumeInfo(ctx context.Context, name string) (*VolumeInfo, error) {
	if err := validate.Name("volume name", name); err != nil {
		return nil, err
	}
	out, err := m.run(ctx, "list", "-Hp", "-o", "volsize", m.datasetPath(name))
	if err != nil {
		return nil, err
	}
	sizeBytes, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse volsize for %s: %w", name, err)
	}
	return &VolumeInfo{
		Name:        name,
		DatasetPath: m.datasetPath(name),
		DevicePath:  m.GetDevicePath(name),
		SizeBytes:   sizeBytes,
	}, nil
}

// GetVolumeMetadata reads and decodes a single zvol's CSI metadata property.
// ErrNotFound covers both a missing zvol and one without the property set.
func (m *Manager) GetVolumeMetadata(ctx context.Context, name string) (*Metadata, error) {
	if err := validate.Name("volume name", name); err != nil {
		return nil, err
	}
	out, err := m.run(ctx, "get", "-H", "-o", "value", MetadataProperty, m.datasetPath(name))
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(out)
	if raw == "-" || raw == "" {
		return nil, fmt.Errorf("%w: %s has no csi metadata", ErrNotFound, name)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", name, err)
	}
	return &meta, nil
}

// DeleteVolume destroys a zvol. It is idempotent: deleting a volume that
// does not exist returns nil.
func (m *Manager) DeleteVolume(ctx context.Context, name string) error {
	if err := validate.Name("volume name", name); err != nil {
		return err
	}
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = m.run(ctx, "destroy", "-r", m.datasetPath(name))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ResizeVolume grows or shrinks an existing zvol. The volume must already
// exist, otherwise ErrNotFound.
func (m *Manager) ResizeVolume(ctx context.Context, name string, newSizeBytes int64) error {
	if err := validate.Name("volume name", name); err != nil {
		return err
	}
	if newSizeBytes <= 0 {
		return fmt.Errorf("size must be positive, got %d", newSizeBytes)
	}
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	_, err = m.run(ctx, "set", "volsize="+strconv.FormatInt(newSizeBytes, 10), m.datasetPath(name))
	return err
}

// CreateSnapshot creates volume@snap and returns its canonical name.
func (m *Manager) CreateSnapshot(ctx context.Context, volume, snap string) (string, error) {
	if err := validate.Name("volume name", volume); err != nil {
		return "", err
	}
	if err := validate.Name("snapshot name", snap); err != nil {
		return "", err
	}
	full := m.datasetPath(volume) + "@" + snap
	if _, err := m.run(ctx, "snapshot", full); err != nil {
		return "", err
	}
	return volume + "@" + snap, nil
}

// DeleteSnapshot destroys volume@snap. Idempotent: missing snapshots are
// not an error.
func (m *Manager) DeleteSnapshot(ctx context.Context, volume, snap string) error {
	if err := validate.Name("volume name", volume); err != nil {
		return err
	}
	if err := validate.Name("snapshot name", snap); err != nil {
		return err
	}
	full := m.datasetPath(volume) + "@" + snap
	_, err := m.run(ctx, "destroy", full)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// SetVolumeMetadata stores metadata as a JSON-serialized ZFS user property
// on the named zvol.
func (m *Manager) SetVolumeMetadata(ctx context.Context, name string, metadata Metadata) error {
	if err := validate.Name("volume name", name); err != nil {
		return err
	}
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = m.run(ctx, "set", MetadataProperty+"="+string(blob), m.datasetPath(name))
	return err
}

// ClearVolumeMetadata removes the CSI metadata property by inheriting it,
// ignoring "no such property" errors.
func (m *Manager) ClearVolumeMetadata(ctx context.Context, name string) error {
	if err := validate.Name("volume name", name); err != nil {
		return err
	}
	_, err := m.run(ctx, "inherit", MetadataProperty, m.datasetPath(name))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ListVolumesWithMetadata yields every child zvol carrying a valid CSI
// metadata property. A zvol with a corrupt (non-JSON) metadata value is
// logged and skipped, not treated as fatal.
func (m *Manager) ListVolumesWithMetadata(ctx context.Context) ([]MetadataEntry, error) {
	out, err := m.run(ctx, "list", "-H", "-r", "-o", "name,"+MetadataProperty, m.parentDataset)
	if err != nil {
		return nil, err
	}
	return parseMetadataList(out, m.parentDataset+"/")
}

// parseMetadataList decodes the tab-separated "name,user:csi:metadata"
// output of `zfs list`, skipping children without the property and logging
// (not failing on) corrupt JSON.
func parseMetadataList(out, prefix string) ([]MetadataEntry, error) {
	var entries []MetadataEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 2)
		if len(fields) != 2 {
			continue
		}
		fullName, rawProp := fields[0], fields[1]
		if !strings.HasPrefix(fullName, prefix) {
			continue
		}
		if rawProp == "-" || rawProp == "" {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(rawProp), &meta); err != nil {
			klog.Warningf("zfsmgr: skipping %s: corrupt metadata: %v", fullName, err)
			continue
		}
		entries = append(entries, MetadataEntry{
			Name:     strings.TrimPrefix(fullName, prefix),
			Metadata: meta,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan zfs list output: %w", err)
	}
	return entries, nil
}

// ListSnapshotsInfo enumerates snapshots beneath the parent dataset,
// optionally restricted to a single source volume.
func (m *Manager) ListSnapshotsInfo(ctx context.Context, sourceVolume string) ([]SnapshotInfo, error) {
	root := m.parentDataset
	if sourceVolume != "" {
		if err := validate.Name("volume name", sourceVolume); err != nil {
			return nil, err
		}
		root = m.datasetPath(sourceVolume)
	}
	out, err := m.run(ctx, "list", "-H", "-r", "-t", "snapshot", "-p", "-o", "name,used,creation", root)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parseSnapshotList(out, m.parentDataset+"/")
}

// parseSnapshotList decodes the tab-separated "name,used,creation" (-Hp)
// output of `zfs list -t snapshot`.
func parseSnapshotList(out, prefix string) ([]SnapshotInfo, error) {
	var entries []SnapshotInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != 3 {
			continue
		}
		full := strings.TrimPrefix(fields[0], prefix)
		sizeBytes, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		createdAt, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		volume := full
		if idx := strings.Index(full, "@"); idx >= 0 {
			volume = full[:idx]
		}
		entries = append(entries, SnapshotInfo{
			Name:      full,
			Volume:    volume,
			SizeBytes: sizeBytes,
			CreatedAt: createdAt,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan zfs list output: %w", err)
	}
	return entries, nil
}

// GetSnapshotInfo finds one snapshot by its "<volume>@<snap>" id.
func (m *Manager) GetSnapshotInfo(ctx context.Context, volume, snap string) (*SnapshotInfo, error) {
	if err := validate.Name("volume name", volume); err != nil {
		return nil, err
	}
	if err := validate.Name("snapshot name", snap); err != nil {
		return nil, err
	}
	entries, err := m.ListSnapshotsInfo(ctx, volume)
	if err != nil {
		return nil, err
	}
	want := volume + "@" + snap
	for _, e := range entries {
		if e.Name == want {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, want)
}

// GetCapacity returns (available, used) bytes for the parent dataset.
func (m *Manager) GetCapacity(ctx context.Context) (available, used int64, err error) {
	out, err := m.run(ctx, "list", "-Hp", "-o", "avail,used", m.parentDataset)
	if err != nil {
		return 0, 0, err
	}
	return parseCapacity(out)
}

// parseCapacity decodes the `-Hp` (parsable, header-less) byte-count output
// of `zfs list -o avail,used`.
func parseCapacity(out string) (available, used int64, err error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected zfs list output: %q", out)
	}
	available, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse available: %w", err)
	}
	used, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse used: %w", err)
	}
	return available, used, nil
}

// NowUnix is a seam for CreatedAt stamping; kept as a package-level var so
// tests can override it deterministically.
var NowUnix = func() int64 { return time.Now().Unix() }
