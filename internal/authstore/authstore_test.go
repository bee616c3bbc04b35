package authstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "auth.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Get("pvc-1"); ok {
		t.Fatal("expected empty store")
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	s := New(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	creds := Credentials{Username: "chapuser", Secret: "chapsecret12345"}
	if err := s.Set("pvc-1", creds); err != nil {
		t.Fatalf("Set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat live file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("live file perm = %o, want 0600", perm)
	}

	reopened := New(path)
	if err := reopened.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reopened.Get("pvc-1")
	if !ok {
		t.Fatal("expected pvc-1 to persist")
	}
	if got != creds {
		t.Fatalf("got %+v, want %+v", got, creds)
	}
}

func TestDeleteThenBackupExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	s := New(path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Set("pvc-1", Credentials{Username: "u", Secret: "s"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("pvc-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get("pvc-1"); ok {
		t.Fatal("expected pvc-1 to be gone after delete")
	}
	if _, err := os.Stat(path + ".old"); err != nil {
		t.Fatalf(".old backup missing: %v", err)
	}
}

func TestDeleteAbsentIsNotError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "auth.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Delete("never-existed"); err != nil {
		t.Fatalf("Delete on absent entry: %v", err)
	}
}
