package ctlconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestMaterializerWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctl.conf")

	reloadCalls := 0
	mz := NewMaterializer(path, func(ctx context.Context) error {
		reloadCalls++
		return nil
	})

	model := sampleModel()
	if err := mz.Write(context.Background(), "# preserved header", model); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if reloadCalls != 1 {
		t.Fatalf("reloadCalls = %d, want 1", reloadCalls)
	}
	if _, err := os.Stat(path + ".new"); !os.IsNotExist(err) {
		t.Fatalf(".new file should not remain after rename, stat err = %v", err)
	}

	preserved, loaded, err := mz.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if preserved != "# preserved header" {
		t.Fatalf("preserved = %q", preserved)
	}
	if len(loaded.ISCSITargets) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}

	// A second write should leave a .old backup of the first.
	if err := mz.Write(context.Background(), preserved, NewModel()); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if _, err := os.Stat(path + ".old"); err != nil {
		t.Fatalf(".old backup missing: %v", err)
	}
}

func TestMaterializerLoadMissingFile(t *testing.T) {
	mz := NewMaterializer(filepath.Join(t.TempDir(), "missing.conf"), nil)
	preserved, model, err := mz.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if preserved != "" || len(model.ISCSITargets) != 0 {
		t.Fatalf("expected empty state for missing file, got preserved=%q model=%+v", preserved, model)
	}
}

func TestMaterializerReloadFailureReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctl.conf")
	mz := NewMaterializer(path, func(ctx context.Context) error {
		return os.ErrPermission
	})
	err := mz.Write(context.Background(), "", NewModel())
	if err == nil {
		t.Fatal("expected error from failing reload")
	}
	// The file must still have been replaced even though reload failed:
	// the cache and file agree, only the kernel daemon is stale.
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected config file to exist despite reload failure: %v", statErr)
	}
}
