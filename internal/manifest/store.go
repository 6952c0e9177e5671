package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

var (
	// ErrCorrupt is returned by Load when a manifest exists but cannot be parsed.
	ErrCorrupt = errors.New("corrupt manifest")

	// ErrLocked is returned by Lock when another process holds the manifest lock.
	ErrLocked = errors.New("manifest is locked by another process")
)

const tmpPattern = ".manifest-tmp-*"

// Store persists manifests as YAML files under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path resolves a manifest name to a file path. Absolute names are used as-is.
func (s *Store) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Load reads the named manifest. A manifest that does not exist yet, or is
// empty, loads as an empty Manifest.
func (s *Store) Load(name string) (Manifest, error) {
	p := s.Path(name)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", p, err)
	}

	m := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCorrupt, p, err)
	}
	if m == nil {
		m = New()
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCorrupt, p, err)
	}

	return m, nil
}

// Save writes the manifest atomically: the YAML is written to a temporary
// file in the target directory and renamed over the previous version.
func (s *Store) Save(name string, m Manifest) error {
	p := s.Path(name)
	dir := filepath.Dir(p)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	if m == nil {
		m = New()
	}
	// yaml.v3 emits map keys in sorted order
	data, err := yaml.Marshal(map[string]string(m))
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp manifest: %w", err)
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to set manifest permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}

	if err := os.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("failed to replace manifest %s: %w", p, err)
	}

	return nil
}

// Lock takes an exclusive advisory lock on the named manifest. The returned
// function releases it.
func (s *Store) Lock(name string) (func() error, error) {
	p := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	fl := flock.New(p + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock manifest %s: %w", p, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, p)
	}

	return func() error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("failed to unlock manifest %s: %w", p, err)
		}
		return os.Remove(fl.Path())
	}, nil
}
