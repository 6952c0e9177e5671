package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/schaermu/hashsync/internal/hasher"
	"github.com/schaermu/hashsync/internal/manifest"
	"gopkg.in/yaml.v3"
)

// Side selects one of the two trees.
type Side string

const (
	Source Side = "source"
	Dest   Side = "dest"
)

const (
	DefaultSourceManifest = "source.yaml"
	DefaultDestManifest   = "dest.yaml"
	maxWorkers            = 256
)

// Config represents the complete hashsync configuration
type Config struct {
	Paths     PathsConfig    `yaml:"paths"`
	Manifests ManifestConfig `yaml:"manifests"`
	Hash      HashConfig     `yaml:"hash"`
	Scan      ScanConfig     `yaml:"scan"`
	Sync      SyncConfig     `yaml:"sync"`
}

// PathsConfig configures the two tree roots
type PathsConfig struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// ManifestConfig configures where manifests are stored
type ManifestConfig struct {
	Dir    string `yaml:"dir"`
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// HashConfig selects the digest algorithm
type HashConfig struct {
	Algorithm string `yaml:"algorithm"`
}

// ScanConfig configures tree scanning
type ScanConfig struct {
	Workers int      `yaml:"workers"`
	Ignore  []string `yaml:"ignore"`
	Include []string `yaml:"include"`
}

// SyncConfig configures copying
type SyncConfig struct {
	Workers       int   `yaml:"workers"`
	PreserveTimes *bool `yaml:"preserve_times"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML into a Config with environment variables expanded and
// defaults applied. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.ApplyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Dest = os.ExpandEnv(c.Paths.Dest)
	c.Manifests.Dir = os.ExpandEnv(c.Manifests.Dir)
	c.Manifests.Source = os.ExpandEnv(c.Manifests.Source)
	c.Manifests.Dest = os.ExpandEnv(c.Manifests.Dest)
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Manifests.Dir == "" {
		c.Manifests.Dir = defaultStateDir()
	}
	if c.Manifests.Source == "" {
		c.Manifests.Source = DefaultSourceManifest
	}
	if c.Manifests.Dest == "" {
		c.Manifests.Dest = DefaultDestManifest
	}
	if c.Hash.Algorithm == "" {
		c.Hash.Algorithm = hasher.Default
	}
	if c.Scan.Workers == 0 {
		c.Scan.Workers = runtime.NumCPU()
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = runtime.NumCPU()
	}
	if c.Sync.PreserveTimes == nil {
		preserve := true
		c.Sync.PreserveTimes = &preserve
	}
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "hashsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "hashsync")
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if c.Paths.Dest == "" {
		return fmt.Errorf("paths.dest is required")
	}
	if c.Manifests.Dir == "" {
		return fmt.Errorf("manifests.dir is required")
	}

	// Ensure paths are absolute
	if !filepath.IsAbs(c.Paths.Source) {
		return fmt.Errorf("paths.source must be an absolute path: %s", c.Paths.Source)
	}
	if !filepath.IsAbs(c.Paths.Dest) {
		return fmt.Errorf("paths.dest must be an absolute path: %s", c.Paths.Dest)
	}
	if !filepath.IsAbs(c.Manifests.Dir) {
		return fmt.Errorf("manifests.dir must be an absolute path: %s", c.Manifests.Dir)
	}

	// A destination inside the source (or the reverse) would mirror into itself
	if isWithin(c.Paths.Source, c.Paths.Dest) || isWithin(c.Paths.Dest, c.Paths.Source) {
		return fmt.Errorf("paths.source and paths.dest must not contain each other")
	}

	// Manifests, their temp files and locks must not be scanned into a tree
	for _, root := range []string{c.Paths.Source, c.Paths.Dest} {
		if isWithin(root, c.Manifests.Dir) {
			return fmt.Errorf("manifests.dir must not be inside %s", root)
		}
	}

	sourceManifest := filepath.Clean(c.ManifestPath(Source))
	destManifest := filepath.Clean(c.ManifestPath(Dest))
	if sourceManifest == destManifest {
		return fmt.Errorf("manifests.source and manifests.dest must differ: both resolve to %s", sourceManifest)
	}
	for _, p := range []string{sourceManifest, destManifest} {
		if isWithin(c.Paths.Source, p) || isWithin(c.Paths.Dest, p) {
			return fmt.Errorf("manifest %s must not be inside a tree root", p)
		}
	}

	if _, err := hasher.New(c.Hash.Algorithm); err != nil {
		return fmt.Errorf("hash.algorithm: %w", err)
	}

	if c.Scan.Workers < 1 || c.Scan.Workers > maxWorkers {
		return fmt.Errorf("scan.workers must be between 1 and %d: %d", maxWorkers, c.Scan.Workers)
	}
	if c.Sync.Workers < 1 || c.Sync.Workers > maxWorkers {
		return fmt.Errorf("sync.workers must be between 1 and %d: %d", maxWorkers, c.Sync.Workers)
	}

	return nil
}

// Root returns the tree root for side
func (c *Config) Root(side Side) string {
	if side == Source {
		return c.Paths.Source
	}
	return c.Paths.Dest
}

// ManifestName returns the manifest name for side
func (c *Config) ManifestName(side Side) string {
	if side == Source {
		return c.Manifests.Source
	}
	return c.Manifests.Dest
}

// ManifestPath returns the file the manifest for side is stored in
func (c *Config) ManifestPath(side Side) string {
	return manifest.NewStore(c.Manifests.Dir).Path(c.ManifestName(side))
}

// PreserveTimes reports whether copies keep the source timestamps
func (c *Config) PreserveTimes() bool {
	return c.Sync.PreserveTimes == nil || *c.Sync.PreserveTimes
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
