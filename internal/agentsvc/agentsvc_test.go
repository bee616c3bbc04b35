package agentsvc

import (
	"testing"

	"github.com/ndenev/zvolcsi/api/agentpb"
	"github.com/ndenev/zvolcsi/internal/ctlmgr"
	"github.com/ndenev/zvolcsi/internal/zfsmgr"
)

func TestPaginationStartEmptyToken(t *testing.T) {
	start, err := paginationStart("", 10)
	if err != nil || start != 0 {
		t.Fatalf("start=%d err=%v, want 0, nil", start, err)
	}
}

func TestPaginationStartValid(t *testing.T) {
	start, err := paginationStart("3", 10)
	if err != nil || start != 3 {
		t.Fatalf("start=%d err=%v, want 3, nil", start, err)
	}
}

func TestPaginationStartOutOfRange(t *testing.T) {
	if _, err := paginationStart("11", 10); err == nil {
		t.Fatal("expected error for out-of-range starting_token")
	}
	if _, err := paginationStart("not-a-number", 10); err == nil {
		t.Fatal("expected error for malformed starting_token")
	}
}

func TestPaginationEndCapsAtZeroOrLess(t *testing.T) {
	if got := paginationEnd(0, 0, 5); got != 5 {
		t.Fatalf("end = %d, want 5 (max_entries <= 0 means all remaining)", got)
	}
	if got := paginationEnd(2, 0, 5); got != 5 {
		t.Fatalf("end = %d, want 5", got)
	}
}

func TestPaginationEndRespectsMax(t *testing.T) {
	if got := paginationEnd(0, 2, 5); got != 2 {
		t.Fatalf("end = %d, want 2", got)
	}
	if got := paginationEnd(4, 10, 5); got != 5 {
		t.Fatalf("end = %d, want 5 (capped at total)", got)
	}
}

func TestNextTokenEmptyAtEnd(t *testing.T) {
	if got := nextToken(5, 5); got != "" {
		t.Fatalf("next_token = %q, want empty", got)
	}
}

func TestNextTokenNonEmptyMidway(t *testing.T) {
	if got := nextToken(2, 5); got != "2" {
		t.Fatalf("next_token = %q, want \"2\"", got)
	}
}

func TestSplitSnapshotIDValid(t *testing.T) {
	volume, snap, err := splitSnapshotID("pvc-a1@snap1")
	if err != nil {
		t.Fatalf("splitSnapshotID: %v", err)
	}
	if volume != "pvc-a1" || snap != "snap1" {
		t.Fatalf("got (%q, %q)", volume, snap)
	}
}

func TestSplitSnapshotIDMalformed(t *testing.T) {
	cases := []string{"", "@snap1", "pvc-a1@", "pvc-a1-no-at-sign"}
	for _, c := range cases {
		if _, _, err := splitSnapshotID(c); err == nil {
			t.Fatalf("splitSnapshotID(%q): expected error", c)
		}
	}
}

func TestHasCredentials(t *testing.T) {
	if hasCredentials(nil) {
		t.Fatal("nil credentials should report false")
	}
	if hasCredentials(&agentpb.CHAPCredentials{}) {
		t.Fatal("empty credentials should report false")
	}
	if !hasCredentials(&agentpb.CHAPCredentials{Username: "u", Secret: "s"}) {
		t.Fatal("populated credentials should report true")
	}
}

func TestChapCredentialsToStoreNVMeDefaultsHash(t *testing.T) {
	creds := chapCredentialsToStore(&agentpb.CHAPCredentials{Username: "u", Secret: "s"}, ctlmgr.KindNVMeOF)
	if creds.HashFunction != "sha256" {
		t.Fatalf("hash function = %q, want sha256", creds.HashFunction)
	}
}

func TestChapCredentialsToStoreISCSINoHash(t *testing.T) {
	creds := chapCredentialsToStore(&agentpb.CHAPCredentials{Username: "u", Secret: "s"}, ctlmgr.KindISCSI)
	if creds.HashFunction != "" {
		t.Fatalf("hash function = %q, want empty for iSCSI", creds.HashFunction)
	}
}

func TestVolumeToPBWithExport(t *testing.T) {
	export := ctlmgr.Export{
		TargetName: "iqn.2026-01.io.zvolcsi:pvc-a1",
		Kind:       ctlmgr.KindISCSI,
		LunOrNSID:  0,
		Auth:       true,
	}
	v := volumeToPB("pvc-a1", 1<<30, "/dev/zvol/tank/csi/pvc-a1", export, nil, "", 100)
	if v.GetExport() == nil {
		t.Fatal("expected export to be populated")
	}
	if v.GetExport().GetProtocol() != agentpb.Protocol_PROTOCOL_ISCSI {
		t.Fatalf("protocol = %v, want iSCSI", v.GetExport().GetProtocol())
	}
	if !v.GetExport().GetChapEnabled() {
		t.Fatal("expected chap_enabled to be true")
	}
}

func TestVolumeToPBWithoutExport(t *testing.T) {
	v := volumeToPB("pvc-a1", 1<<30, "/dev/zvol/tank/csi/pvc-a1", ctlmgr.Export{}, nil, "", 100)
	if v.GetExport() != nil {
		t.Fatal("expected no export for an un-exported volume")
	}
}

func TestSnapshotToPB(t *testing.T) {
	info := zfsmgr.SnapshotInfo{Name: "pvc-a1@snap1", Volume: "pvc-a1", SizeBytes: 4096, CreatedAt: 42}
	s := snapshotToPB(info)
	if s.GetSnapshotId() != "pvc-a1@snap1" || s.GetSourceVolumeId() != "pvc-a1" {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if !s.GetReadyToUse() {
		t.Fatal("expected ready_to_use to be true")
	}
}
