package ctlconfig

import "testing"

func sampleModel() *Model {
	m := NewModel()
	m.ISCSITargets["iqn.2026-01.io.zvolcsi:pvc-a1"] = ISCSITarget{
		IQN:         "iqn.2026-01.io.zvolcsi:pvc-a1",
		AuthGroup:   "no-authentication",
		PortalGroup: "pg0",
		LunID:       0,
		DevicePath:  "/dev/zvol/tank/csi/pvc-a1",
	}
	m.NVMeControllers["nqn.2026-01.io.zvolcsi:pvc-b1"] = NVMeController{
		NQN:            "nqn.2026-01.io.zvolcsi:pvc-b1",
		AuthGroup:      "no-authentication",
		TransportGroup: "tg0",
		NamespaceID:    1,
		DevicePath:     "/dev/zvol/tank/csi/pvc-b1",
	}
	return m
}

// TestRoundTrip covers P4: serializing a model and re-parsing it yields
// the same set of entries.
func TestRoundTrip(t *testing.T) {
	m := sampleModel()
	content := Serialize("", m)

	preserved, parsed, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if preserved != "" {
		t.Fatalf("preserved = %q, want empty", preserved)
	}
	if len(parsed.ISCSITargets) != 1 || len(parsed.NVMeControllers) != 1 {
		t.Fatalf("parsed model = %+v", parsed)
	}
	got := parsed.ISCSITargets["iqn.2026-01.io.zvolcsi:pvc-a1"]
	want := m.ISCSITargets["iqn.2026-01.io.zvolcsi:pvc-a1"]
	if got != want {
		t.Fatalf("iscsi target round trip = %+v, want %+v", got, want)
	}
	gotC := parsed.NVMeControllers["nqn.2026-01.io.zvolcsi:pvc-b1"]
	wantC := m.NVMeControllers["nqn.2026-01.io.zvolcsi:pvc-b1"]
	if gotC != wantC {
		t.Fatalf("nvme controller round trip = %+v, want %+v", gotC, wantC)
	}
}

// TestPreservedContentSurvives covers P5: non-managed regions survive a
// parse→mutate→serialize cycle byte-for-byte.
func TestPreservedContentSurvives(t *testing.T) {
	preserved := "# operator-owned section\nportal-group pg0 {\n    listen 10.0.0.1\n}"
	content := Serialize(preserved, NewModel())

	gotPreserved, model, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if gotPreserved != preserved {
		t.Fatalf("preserved = %q, want %q", gotPreserved, preserved)
	}

	model.ISCSITargets["iqn.x:pvc-1"] = ISCSITarget{
		IQN: "iqn.x:pvc-1", AuthGroup: "no-authentication", PortalGroup: "pg0",
		LunID: 0, DevicePath: "/dev/zvol/tank/pvc-1",
	}
	content2 := Serialize(gotPreserved, model)
	gotPreserved2, _, err := Parse(content2)
	if err != nil {
		t.Fatalf("Parse (2nd pass): %v", err)
	}
	if gotPreserved2 != preserved {
		t.Fatalf("preserved after mutation = %q, want %q", gotPreserved2, preserved)
	}
}

func TestParseEmptyFileIsEmptyModel(t *testing.T) {
	preserved, model, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if preserved != "" {
		t.Fatalf("preserved = %q", preserved)
	}
	if len(model.ISCSITargets) != 0 || len(model.NVMeControllers) != 0 {
		t.Fatalf("expected empty model, got %+v", model)
	}
}
