// Package authstore persists per-volume CHAP / DH-HMAC-CHAP credentials as
// a JSON file, separate from the kernel target config file, following the
// same atomic write-then-rename-with-backup protocol as internal/ctlconfig.
package authstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ndenev/zvolcsi/internal/validate"
)

// DefaultHashFunction is used when an NVMe credential omits one.
const DefaultHashFunction = "sha256"

// Credentials covers both iSCSI CHAP (Username/Secret/Mutual*) and NVMe
// DH-HMAC-CHAP (HostNQN/Secret/HashFunction/DHGroup) shapes; a given volume
// populates only the fields relevant to its export kind.
type Credentials struct {
	Username       string `json:"user,omitempty"`
	Secret         string `json:"secret,omitempty"`
	MutualUsername string `json:"mutual_user,omitempty"`
	MutualSecret   string `json:"mutual_secret,omitempty"`
	HostNQN        string `json:"host_nqn,omitempty"`
	HashFunction   string `json:"hash_function,omitempty"`
	DHGroup        string `json:"dh_group,omitempty"`
}

// Store is a volume-name -> Credentials map backed by a JSON file.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Credentials
}

// New returns a Store bound to path. Call Load before first use.
func New(path string) *Store {
	return &Store{path: path, entries: make(map[string]Credentials)}
}

// Load reads the backing file, replacing the in-memory map. A missing file
// is treated as an empty map, not an error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.entries = make(map[string]Credentials)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	var entries map[string]Credentials
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	if entries == nil {
		entries = make(map[string]Credentials)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Get reads a single volume's credentials.
func (s *Store) Get(volumeName string) (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[volumeName]
	return c, ok
}

// Set writes a volume's credentials in memory and then persists the whole
// store. If persisting fails the error is returned and the in-memory entry
// is kept.
func (s *Store) Set(volumeName string, creds Credentials) error {
	if err := validate.Name("volume name", volumeName); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[volumeName] = creds
	snapshot := cloneEntries(s.entries)
	s.mu.Unlock()
	return s.save(snapshot)
}

// Delete removes a volume's credentials and persists the result. Deleting
// an absent entry is not an error.
func (s *Store) Delete(volumeName string) error {
	s.mu.Lock()
	delete(s.entries, volumeName)
	snapshot := cloneEntries(s.entries)
	s.mu.Unlock()
	return s.save(snapshot)
}

func cloneEntries(entries map[string]Credentials) map[string]Credentials {
	clone := make(map[string]Credentials, len(entries))
	for k, v := range entries {
		clone[k] = v
	}
	return clone
}

// save writes entries to disk atomically: `.json.new`, a `.json.old`
// backup of any existing live file, then rename over the live path. The
// live file's permissions are owner read/write only.
func (s *Store) save(entries map[string]Credentials) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth store: %w", err)
	}

	newPath := s.path + ".new"
	if err := os.WriteFile(newPath, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", newPath, err)
	}

	if _, err := os.Stat(s.path); err == nil {
		oldPath := s.path + ".old"
		if existing, readErr := os.ReadFile(s.path); readErr == nil {
			_ = os.WriteFile(oldPath, existing, 0o600)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	if err := os.Rename(newPath, s.path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", newPath, s.path, err)
	}
	return os.Chmod(s.path, 0o600)
}
