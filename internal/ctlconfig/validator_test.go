package ctlconfig

import "testing"

func TestValidateGroupsExist(t *testing.T) {
	preserved := "portal-group pg0 {\n    listen 10.0.0.1\n}\ntransport-group tg0 {\n    listen 10.0.0.2\n}"
	m := sampleModel()
	if err := ValidateGroupsExist(preserved, m); err != nil {
		t.Fatalf("ValidateGroupsExist: %v", err)
	}
}

func TestValidateGroupsMissing(t *testing.T) {
	m := sampleModel()
	if err := ValidateGroupsExist("", m); err == nil {
		t.Fatal("expected error for undeclared portal-group")
	}
}
