package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	gosync "sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/schaermu/hashsync/internal/manifest"
	"github.com/schaermu/hashsync/internal/scan"
	"golang.org/x/sync/errgroup"
)

// Executor copies the files a Plan marks as needing a copy. It never touches
// the destination manifest; confirming a copy is the reconciler's job.
type Executor struct {
	workers       int
	preserveTimes bool
	logger        *slog.Logger
}

// NewExecutor creates an executor. workers <= 0 uses one worker per CPU.
func NewExecutor(workers int, preserveTimes bool, logger *slog.Logger) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{
		workers:       workers,
		preserveTimes: preserveTimes,
		logger:        logger,
	}
}

// Execute copies every pending entry of plan from sourceRoot to destRoot.
// Per-file failures are collected in the result and do not stop the run.
// A cancelled context stops scheduling new copies; the partial result is
// returned together with the context error.
func (x *Executor) Execute(ctx context.Context, sourceRoot, destRoot string, plan *Plan) (*SyncResult, error) {
	pending := plan.Pending()
	result := &SyncResult{Planned: len(pending)}

	var (
		mu      gosync.Mutex
		dirs    = mapset.NewSet[string]()
		failure = func(rel string, err error) {
			x.logger.Warn("copy failed", "path", rel, "error", err)
			mu.Lock()
			result.Failed = append(result.Failed, CopyFailure{Path: rel, Err: fmt.Errorf("%w: %s: %w", ErrCopy, rel, err)})
			mu.Unlock()
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)

	for _, e := range pending {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := manifest.ValidatePath(e.Path); err != nil {
				failure(e.Path, err)
				return nil
			}

			src := filepath.Join(sourceRoot, filepath.FromSlash(e.Path))
			dst := filepath.Join(destRoot, filepath.FromSlash(e.Path))

			if parent := filepath.Dir(dst); !dirs.Contains(parent) {
				// MkdirAll treats an existing directory as success, so racing
				// workers creating the same parent are fine
				if err := os.MkdirAll(parent, 0755); err != nil {
					failure(e.Path, err)
					return nil
				}
				dirs.Add(parent)
			}

			x.logger.Info("copying file", "path", e.Path, "reason", e.Reason.String())
			n, err := x.copyFile(src, dst)
			if err != nil {
				failure(e.Path, err)
				return nil
			}

			mu.Lock()
			result.Copied++
			result.Bytes += n
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].Path < result.Failed[j].Path
	})
	if err == nil {
		err = ctx.Err()
	}
	return result, err
}

// copyFile copies src to dst through a temp file in the destination
// directory, carrying over the permission bits and, when enabled, the
// access and modification times.
func (x *Executor) copyFile(src, dst string) (int64, error) {
	// Open source
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, err
	}
	if !srcInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("source %s is not a regular file", src)
	}

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), scan.TempFilePrefix+"*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	n, err := io.Copy(tmpFile, srcFile)
	if err != nil {
		_ = tmpFile.Close()
		return 0, err
	}

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return 0, err
	}

	if err := tmpFile.Close(); err != nil {
		return 0, err
	}

	if x.preserveTimes {
		mtime := srcInfo.ModTime()
		if err := os.Chtimes(tmpPath, accessTime(srcInfo, mtime), mtime); err != nil {
			return 0, err
		}
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, err
	}

	return n, nil
}
