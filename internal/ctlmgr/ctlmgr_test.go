package ctlmgr

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ndenev/zvolcsi/internal/ctlconfig"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.conf")
	mz := ctlconfig.NewMaterializer(path, func(ctx context.Context) error { return nil })
	cfg := Config{
		ISCSIBasePrefix: "iqn.2026-01.io.zvolcsi",
		NVMeBasePrefix:  "nqn.2026-01.io.zvolcsi",
		PortalGroup:     "pg0",
		TransportGroup:  "tg0",
		AuthGroup:       "csi-chap",
	}
	return New(mz, cfg)
}

func TestExportThenWriteThenReload(t *testing.T) {
	m := testManager(t)

	export, err := m.ExportVolume("pvc-a1", "/dev/zvol/tank/csi/pvc-a1", KindISCSI, 0, false)
	if err != nil {
		t.Fatalf("ExportVolume: %v", err)
	}
	if export.TargetName != "iqn.2026-01.io.zvolcsi:pvc-a1" {
		t.Fatalf("target name = %q", export.TargetName)
	}

	if err := m.WriteConfig(context.Background()); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}

	// A fresh manager over the same file should reconcile the same export.
	reloaded := testManager(t)
	reloaded.mz = m.mz
	if err := reloaded.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	got, ok := reloaded.GetExport("pvc-a1")
	if !ok {
		t.Fatal("expected pvc-a1 to be present after reload")
	}
	if got.DevicePath != "/dev/zvol/tank/csi/pvc-a1" {
		t.Fatalf("device path = %q", got.DevicePath)
	}
}

func TestExportDuplicateRejected(t *testing.T) {
	m := testManager(t)
	if _, err := m.ExportVolume("pvc-a1", "/dev/zvol/tank/csi/pvc-a1", KindISCSI, 0, false); err != nil {
		t.Fatalf("first ExportVolume: %v", err)
	}
	_, err := m.ExportVolume("pvc-a1", "/dev/zvol/tank/csi/pvc-a1", KindISCSI, 0, false)
	if !errors.Is(err, ErrAlreadyExported) {
		t.Fatalf("expected ErrAlreadyExported, got %v", err)
	}
}

// TestUnexportIdempotent covers P3: deleting twice both succeed (as
// ErrTargetNotFound, which callers treat as idempotent success).
func TestUnexportIdempotent(t *testing.T) {
	m := testManager(t)
	if _, err := m.ExportVolume("pvc-a1", "/dev/zvol/tank/csi/pvc-a1", KindISCSI, 0, false); err != nil {
		t.Fatalf("ExportVolume: %v", err)
	}
	if err := m.UnexportVolume("pvc-a1"); err != nil {
		t.Fatalf("first UnexportVolume: %v", err)
	}
	err := m.UnexportVolume("pvc-a1")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound on second unexport, got %v", err)
	}
}

func TestNVMeNamespaceExport(t *testing.T) {
	m := testManager(t)
	export, err := m.ExportVolume("pvc-b1", "/dev/zvol/tank/csi/pvc-b1", KindNVMeOF, 1, true)
	if err != nil {
		t.Fatalf("ExportVolume: %v", err)
	}
	if export.TargetName != "nqn.2026-01.io.zvolcsi:pvc-b1" {
		t.Fatalf("target name = %q", export.TargetName)
	}
	if export.LunOrNSID != 1 {
		t.Fatalf("namespace id = %d, want 1", export.LunOrNSID)
	}
}
