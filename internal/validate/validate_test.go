package validate

import "testing"

func TestName(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"empty", "", true},
		{"simple", "pvc-1234", false},
		{"with-colon", "iqn.2026-01.io.zvolcsi:pvc-1", false},
		{"traversal", "../etc/passwd", true},
		{"shell-meta", "pvc; rm -rf /", true},
		{"too-long", string(make([]byte, 224)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Name("field", tc.value)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Name(%q) error = %v, wantErr %v", tc.value, err, tc.wantErr)
			}
		})
	}
}

func TestDevicePath(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"ok", "/dev/zvol/tank/csi/pvc-1", false},
		{"wrong-root", "/dev/sda", true},
		{"traversal", "/dev/zvol/tank/../../etc/passwd", true},
		{"empty", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := DevicePath(tc.path)
			if (err != nil) != tc.wantErr {
				t.Fatalf("DevicePath(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
		})
	}
}
