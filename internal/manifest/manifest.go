package manifest

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Manifest maps a forward-slash path relative to a tree root to the digest of
// that file's content at scan time.
type Manifest map[string]string

// New returns an empty manifest.
func New() Manifest {
	return make(Manifest)
}

// Paths returns the manifest keys in sorted order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns an independent copy of m.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for p, d := range m {
		out[p] = d
	}
	return out
}

// ValidatePath checks that rel is a clean relative slash path that cannot
// escape the tree root. A backslash is an ordinary filename character except
// where it is the OS path separator.
func ValidatePath(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty path")
	}
	if filepath.Separator == '\\' && strings.Contains(rel, "\\") {
		return fmt.Errorf("path %q contains a backslash", rel)
	}
	if path.IsAbs(rel) {
		return fmt.Errorf("path %q is absolute", rel)
	}
	if path.Clean(rel) != rel {
		return fmt.Errorf("path %q is not clean", rel)
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("path %q escapes the tree root", rel)
	}
	return nil
}

// Validate checks every key and digest in m.
func (m Manifest) Validate() error {
	for _, p := range m.Paths() {
		if err := ValidatePath(p); err != nil {
			return err
		}
		if m[p] == "" {
			return fmt.Errorf("path %q has an empty digest", p)
		}
	}
	return nil
}
