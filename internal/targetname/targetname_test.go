package targetname

import "testing"

func TestISCSIRoundTrip(t *testing.T) {
	base := "iqn.2026-01.io.zvolcsi"
	name, err := ISCSI(base, "pvc-1234")
	if err != nil {
		t.Fatalf("ISCSI: %v", err)
	}
	want := "iqn.2026-01.io.zvolcsi:pvc-1234"
	if name != want {
		t.Fatalf("ISCSI = %q, want %q", name, want)
	}
	got, err := VolumeID(base, name)
	if err != nil {
		t.Fatalf("VolumeID: %v", err)
	}
	if got != "pvc-1234" {
		t.Fatalf("VolumeID = %q, want pvc-1234", got)
	}
}

func TestNVMe(t *testing.T) {
	name, err := NVMe("nqn.2026-01.io.zvolcsi", "pvc-5")
	if err != nil {
		t.Fatalf("NVMe: %v", err)
	}
	if name != "nqn.2026-01.io.zvolcsi:pvc-5" {
		t.Fatalf("NVMe = %q", name)
	}
}

func TestInvalidVolumeID(t *testing.T) {
	if _, err := ISCSI("iqn.2026-01.io.zvolcsi", "../etc/passwd"); err == nil {
		t.Fatal("expected error for traversal volume id")
	}
}

func TestVolumeIDMismatchedPrefix(t *testing.T) {
	if _, err := VolumeID("iqn.2026-01.io.zvolcsi", "iqn.other:pvc-1"); err == nil {
		t.Fatal("expected error for mismatched prefix")
	}
}
