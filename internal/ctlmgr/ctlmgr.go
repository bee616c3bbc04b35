// Package ctlmgr is the single authority over exports: an in-memory
// read-write-locked map from volume name to Export, backed by the kernel
// target config file via internal/ctlconfig. It never writes the file as a
// side effect of export/unexport — WriteConfig is an explicit second step
// so a caller can batch several cache mutations into one file write.
package ctlmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ndenev/zvolcsi/internal/ctlconfig"
	"github.com/ndenev/zvolcsi/internal/targetname"
	"github.com/ndenev/zvolcsi/internal/validate"
)

// Kind identifies the export transport.
type Kind int

const (
	KindISCSI Kind = iota
	KindNVMeOF
)

func (k Kind) String() string {
	switch k {
	case KindISCSI:
		return "iscsi"
	case KindNVMeOF:
		return "nvmeof"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyExported = errors.New("ctlmgr: volume already exported")
	ErrTargetNotFound  = errors.New("ctlmgr: target not found")
)

// Export is the in-memory record of one active publication, matching the
// Export entity in the data model.
type Export struct {
	VolumeName string
	DevicePath string
	Kind       Kind
	TargetName string
	LunOrNSID  uint32
	Auth       bool
}

// Config holds the operator-declared names referenced by every managed
// entry: the base IQN/NQN prefixes this agent owns, and the portal/transport
// and auth groups it writes into every managed block.
type Config struct {
	ISCSIBasePrefix string
	NVMeBasePrefix  string
	PortalGroup     string
	TransportGroup  string
	AuthGroup       string
}

// Manager is the CTL manager: a cache plus its materializer.
type Manager struct {
	mu        sync.RWMutex
	exports   map[string]Export
	preserved string

	mz  *ctlconfig.Materializer
	cfg Config
}

// New returns a Manager backed by mz, using cfg for target-name derivation
// and group assignment.
func New(mz *ctlconfig.Materializer, cfg Config) *Manager {
	return &Manager{
		exports: make(map[string]Export),
		mz:      mz,
		cfg:     cfg,
	}
}

// LoadConfig parses the on-disk config file and populates the cache with
// every managed entry whose name begins with this agent's base IQN/NQN
// prefix; everything else is kept only in the preserved region and is
// never touched.
func (m *Manager) LoadConfig() error {
	preserved, model, err := m.mz.Load()
	if err != nil {
		return fmt.Errorf("load ctl config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.preserved = preserved
	m.exports = make(map[string]Export)

	for iqn, t := range model.ISCSITargets {
		volumeName, err := targetname.VolumeID(m.cfg.ISCSIBasePrefix, iqn)
		if err != nil {
			continue // not ours; preserved verbatim by ctlconfig already
		}
		m.exports[volumeName] = Export{
			VolumeName: volumeName,
			DevicePath: t.DevicePath,
			Kind:       KindISCSI,
			TargetName: iqn,
			LunOrNSID:  t.LunID,
			Auth:       t.AuthGroup != "" && t.AuthGroup != "no-authentication",
		}
	}
	for nqn, c := range model.NVMeControllers {
		volumeName, err := targetname.VolumeID(m.cfg.NVMeBasePrefix, nqn)
		if err != nil {
			continue
		}
		m.exports[volumeName] = Export{
			VolumeName: volumeName,
			DevicePath: c.DevicePath,
			Kind:       KindNVMeOF,
			TargetName: nqn,
			LunOrNSID:  c.NamespaceID,
			Auth:       c.AuthGroup != "" && c.AuthGroup != "no-authentication",
		}
	}
	return nil
}

// ExportVolume inserts a new export into the cache. It does not write the
// config file. Duplicate volume names are rejected with ErrAlreadyExported.
func (m *Manager) ExportVolume(volumeName, devicePath string, kind Kind, lunOrNSID uint32, auth bool) (*Export, error) {
	if err := validate.Name("volume name", volumeName); err != nil {
		return nil, err
	}
	if err := validate.DevicePath(devicePath); err != nil {
		return nil, err
	}

	var targetNameStr string
	var err error
	switch kind {
	case KindISCSI:
		targetNameStr, err = targetname.ISCSI(m.cfg.ISCSIBasePrefix, volumeName)
	case KindNVMeOF:
		targetNameStr, err = targetname.NVMe(m.cfg.NVMeBasePrefix, volumeName)
	default:
		return nil, fmt.Errorf("ctlmgr: unknown export kind %v", kind)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.exports[volumeName]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExported, volumeName)
	}

	export := Export{
		VolumeName: volumeName,
		DevicePath: devicePath,
		Kind:       kind,
		TargetName: targetNameStr,
		LunOrNSID:  lunOrNSID,
		Auth:       auth,
	}
	m.exports[volumeName] = export
	return &export, nil
}

// UnexportVolume removes volumeName from the cache. Absence is reported as
// ErrTargetNotFound; callers treat that as idempotent success when deleting.
func (m *Manager) UnexportVolume(volumeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.exports[volumeName]; !exists {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, volumeName)
	}
	delete(m.exports, volumeName)
	return nil
}

// GetExport reads the cache.
func (m *Manager) GetExport(volumeName string) (Export, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exports[volumeName]
	return e, ok
}

// ListExports returns a snapshot of every cached export.
func (m *Manager) ListExports() []Export {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Export, 0, len(m.exports))
	for _, e := range m.exports {
		out = append(out, e)
	}
	return out
}

// WriteConfig serializes the cache plus the preserved region and writes the
// config file, triggering a kernel reload.
func (m *Manager) WriteConfig(ctx context.Context) error {
	m.mu.RLock()
	model := m.buildModelLocked()
	preserved := m.preserved
	m.mu.RUnlock()

	return m.mz.Write(ctx, preserved, model)
}

func (m *Manager) buildModelLocked() *ctlconfig.Model {
	model := ctlconfig.NewModel()
	for _, e := range m.exports {
		authGroup := "no-authentication"
		if e.Auth {
			authGroup = m.cfg.AuthGroup
		}
		switch e.Kind {
		case KindISCSI:
			model.ISCSITargets[e.TargetName] = ctlconfig.ISCSITarget{
				IQN:         e.TargetName,
				AuthGroup:   authGroup,
				PortalGroup: m.cfg.PortalGroup,
				LunID:       e.LunOrNSID,
				DevicePath:  e.DevicePath,
			}
		case KindNVMeOF:
			model.NVMeControllers[e.TargetName] = ctlconfig.NVMeController{
				NQN:            e.TargetName,
				AuthGroup:      authGroup,
				TransportGroup: m.cfg.TransportGroup,
				NamespaceID:    e.LunOrNSID,
				DevicePath:     e.DevicePath,
			}
		}
	}
	return model
}
