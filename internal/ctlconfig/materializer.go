package ctlconfig

import (
	"context"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

// ReloadFunc asks the kernel target daemon to reload its configuration
// after a successful write. The concrete implementation shells out to the
// platform's reload command (ctladm-style); it is injected here so the
// materializer itself has no knowledge of the specific CLI.
type ReloadFunc func(ctx context.Context) error

// Materializer owns the on-disk config file path and the write-`.new`,
// rename, `.old`-backup protocol, plus the post-write kernel reload.
type Materializer struct {
	Path   string
	Reload ReloadFunc
}

// NewMaterializer returns a Materializer for path, invoking reload after
// every successful write.
func NewMaterializer(path string, reload ReloadFunc) *Materializer {
	return &Materializer{Path: path, Reload: reload}
}

// Load reads the config file from disk and parses it into (preserved, model).
// A missing file is treated as an empty file (empty preserved, empty model).
func (mz *Materializer) Load() (preserved string, model *Model, err error) {
	data, err := os.ReadFile(mz.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewModel(), nil
		}
		return "", nil, fmt.Errorf("read %s: %w", mz.Path, err)
	}
	return Parse(string(data))
}

// Write serializes preserved+model, writes it atomically (`.new` then
// rename, keeping one `.old` backup of the previous live file), and then
// triggers the kernel reload. A reload failure is returned to the caller,
// which treats it as fatal to the enclosing RPC — the file on disk has
// already been replaced at that point, so the in-memory cache and the file
// agree; only the running kernel daemon is stale.
func (mz *Materializer) Write(ctx context.Context, preserved string, model *Model) error {
	content := Serialize(preserved, model)

	newPath := mz.Path + ".new"
	if err := os.WriteFile(newPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", newPath, err)
	}

	if _, err := os.Stat(mz.Path); err == nil {
		oldPath := mz.Path + ".old"
		if err := copyFile(mz.Path, oldPath); err != nil {
			klog.Warningf("ctlconfig: failed to snapshot %s to %s: %v", mz.Path, oldPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", mz.Path, err)
	}

	if err := os.Rename(newPath, mz.Path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", newPath, mz.Path, err)
	}

	if mz.Reload == nil {
		return nil
	}
	if err := mz.Reload(ctx); err != nil {
		return fmt.Errorf("reload kernel target daemon: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
