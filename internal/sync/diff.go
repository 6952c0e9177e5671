package sync

import (
	"os"
	"path/filepath"

	"github.com/schaermu/hashsync/internal/hasher"
	"github.com/schaermu/hashsync/internal/manifest"
)

// ExistsFunc reports whether a relative path is physically present in a tree.
type ExistsFunc func(rel string) bool

// FileExists returns an ExistsFunc that checks for a regular file below root.
func FileExists(root string) ExistsFunc {
	return func(rel string) bool {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		return err == nil && info.Mode().IsRegular()
	}
}

// Diff classifies every path of source against dest. Paths only present in
// dest are not reported.
func Diff(source, dest manifest.Manifest, exists ExistsFunc) *Plan {
	plan := &Plan{
		Entries: make([]Entry, 0, len(source)),
		Counts:  make(map[Reason]int),
	}

	for _, p := range source.Paths() {
		digest := source[p]
		plan.Entries = append(plan.Entries, Entry{
			Path:   p,
			Digest: digest,
			Reason: classify(p, digest, dest, exists),
		})
	}
	for _, e := range plan.Entries {
		plan.Counts[e.Reason]++
	}

	return plan
}

func classify(p, digest string, dest manifest.Manifest, exists ExistsFunc) Reason {
	destDigest, ok := dest[p]
	switch {
	case !ok:
		return MissingInDestManifest
	case !exists(p):
		return DestFileAbsent
	case !hasher.Equal(digest, destDigest):
		return HashMismatch
	default:
		return UpToDate
	}
}
