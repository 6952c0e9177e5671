// Package scan walks a directory tree and builds a manifest of content digests.
//
// Only regular files enter the manifest. Symbolic links are never followed
// and, like devices, sockets and pipes, are skipped. Files that cannot be
// hashed and directories below the root that cannot be read are reported as
// warnings; they never abort the scan.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/schaermu/hashsync/internal/hasher"
	"github.com/schaermu/hashsync/internal/manifest"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRootNotFound is returned when the tree root is missing or not a directory.
	ErrRootNotFound = errors.New("tree root not found")

	// ErrDirAccess marks a directory that could not be read.
	ErrDirAccess = errors.New("directory access failure")
)

// WarningKind classifies a non-fatal scan problem.
type WarningKind string

const (
	ReadFailure      WarningKind = "read_failure"
	DirAccessFailure WarningKind = "dir_access_failure"
)

// Warning describes a file or directory left out of the manifest.
type Warning struct {
	Path string // relative slash path
	Kind WarningKind
	Err  error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %v", w.Kind, w.Path, w.Err)
}

// Scanner builds manifests for directory trees.
type Scanner struct {
	hasher  *hasher.Hasher
	filter  *Filter
	workers int
	logger  *slog.Logger
}

// NewScanner creates a scanner. A nil filter accepts every file; workers <= 0
// uses one worker per CPU.
func NewScanner(h *hasher.Hasher, filter *Filter, workers int, logger *slog.Logger) *Scanner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scanner{
		hasher:  h,
		filter:  filter,
		workers: workers,
		logger:  logger,
	}
}

type hashJob struct {
	absPath string
	relPath string
}

// Scan walks root and returns the manifest of every accepted regular file
// together with the warnings collected on the way. A cancelled context
// aborts the scan and no manifest is returned.
func (s *Scanner) Scan(ctx context.Context, root string) (manifest.Manifest, []Warning, error) {
	if err := CheckRoot(root); err != nil {
		return nil, nil, err
	}

	// the root itself may be a symlink; everything below it is not followed
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	filter := s.filter
	if filter == nil {
		filter = &Filter{}
	}
	m, err := filter.forRoot(root)
	if err != nil {
		s.logger.Warn("failed to read ignore file", "root", root, "error", err)
	}

	var (
		mu       sync.Mutex
		result   = manifest.New()
		warnings []Warning
	)
	addWarning := func(w Warning) {
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
		s.logger.Warn("skipping path", "path", w.Path, "kind", w.Kind, "error", w.Err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := gctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := RelPath(root, path)
		if relErr != nil {
			return relErr
		}

		if err != nil {
			if path == root {
				return fmt.Errorf("%w: %s: %w", ErrDirAccess, root, err)
			}
			// WalkDir reports unreadable directories here after the entry itself
			// was visited; the subtree is skipped.
			if d != nil && d.IsDir() {
				addWarning(Warning{Path: rel, Kind: DirAccessFailure, Err: fmt.Errorf("%w: %w", ErrDirAccess, err)})
				return filepath.SkipDir
			}
			addWarning(Warning{Path: rel, Kind: ReadFailure, Err: fmt.Errorf("%w: %w", hasher.ErrRead, err)})
			return nil
		}

		if d.IsDir() {
			if path != root && m.ignoredDir(rel) {
				s.logger.Debug("ignoring directory", "path", rel)
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			s.logger.Debug("skipping non-regular file", "path", rel, "type", d.Type().String())
			return nil
		}

		if !m.accept(rel) {
			s.logger.Debug("ignoring file", "path", rel)
			return nil
		}

		job := hashJob{absPath: path, relPath: rel}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, err := s.hasher.File(job.absPath)
			if err != nil {
				addWarning(Warning{Path: job.relPath, Kind: ReadFailure, Err: err})
				return nil
			}
			mu.Lock()
			result[job.relPath] = digest
			mu.Unlock()
			return nil
		})
		return nil
	})

	waitErr := g.Wait()
	if walkErr != nil {
		return nil, nil, walkErr
	}
	if waitErr != nil {
		return nil, nil, waitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].Path < warnings[j].Path
	})

	s.logger.Info("scan complete", "root", root, "files", len(result), "warnings", len(warnings))
	return result, warnings, nil
}

// CheckRoot verifies that root exists and is a directory.
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRootNotFound, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}
	return nil
}

// RelPath returns target relative to root as a forward-slash path.
func RelPath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}
