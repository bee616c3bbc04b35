package zfsmgr

import (
	"errors"
	"testing"
)

func TestClassifyZFSError(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   error
	}{
		{"already exists", "cannot create 'tank/csi/pvc-1': dataset already exists", ErrAlreadyExists},
		{"does not exist", "cannot open 'tank/csi/pvc-1': dataset does not exist", ErrNotFound},
		{"no such property", "cannot inherit user:csi:metadata: no such property", ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyZFSError(tc.output, errors.New("exit status 1"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("classifyZFSError(%q) = %v, want wrapping %v", tc.output, err, tc.want)
			}
		})
	}
}

func TestParseMetadataList(t *testing.T) {
	out := "tank/csi/pvc-1\t{\"export_type\":\"iscsi\",\"target_name\":\"iqn:pvc-1\",\"created_at\":1,\"auth\":false}\n" +
		"tank/csi/pvc-2\t-\n" +
		"tank/csi/pvc-3\t{not json}\n" +
		"tank/other\t{\"export_type\":\"iscsi\"}\n"

	entries, err := parseMetadataList(out, "tank/csi/")
	if err != nil {
		t.Fatalf("parseMetadataList: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Name != "pvc-1" {
		t.Fatalf("entry name = %q, want pvc-1", entries[0].Name)
	}
	if entries[0].Metadata.TargetName != "iqn:pvc-1" {
		t.Fatalf("target name = %q", entries[0].Metadata.TargetName)
	}
}

func TestParseCapacity(t *testing.T) {
	available, used, err := parseCapacity("1073741824\t536870912\n")
	if err != nil {
		t.Fatalf("parseCapacity: %v", err)
	}
	if available != 1073741824 || used != 536870912 {
		t.Fatalf("got (%d, %d)", available, used)
	}
}

func TestParseCapacityMalformed(t *testing.T) {
	if _, _, err := parseCapacity("garbage"); err == nil {
		t.Fatal("expected error for malformed capacity output")
	}
}

func TestGetDevicePath(t *testing.T) {
	m := New("tank/csi")
	if got, want := m.GetDevicePath("pvc-1"), "/dev/zvol/tank/csi/pvc-1"; got != want {
		t.Fatalf("GetDevicePath = %q, want %q", got, want)
	}
}

func TestPoolName(t *testing.T) {
	cases := []struct {
		parentDataset, want string
	}{
		{"tank/csi", "tank"},
		{"tank/nested/csi", "tank"},
		{"tank", "tank"},
	}
	for _, tc := range cases {
		m := New(tc.parentDataset)
		if got := m.poolName(); got != tc.want {
			t.Fatalf("poolName(%q) = %q, want %q", tc.parentDataset, got, tc.want)
		}
	}
}
