package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	gosync "sync"

	"github.com/schaermu/hashsync/internal/hasher"
	"github.com/schaermu/hashsync/internal/manifest"
	"golang.org/x/sync/errgroup"
)

// Reconciler verifies the destination tree against the source manifest and
// heals drift in the destination manifest. It only reads files; it never
// copies or removes anything.
type Reconciler struct {
	workers int
	logger  *slog.Logger
}

// NewReconciler creates a reconciler. workers <= 0 uses one worker per CPU.
func NewReconciler(workers int, logger *slog.Logger) *Reconciler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Reconciler{workers: workers, logger: logger}
}

// Reconcile returns an updated copy of dest together with the outcome per
// source path:
//   - destination file absent: pending, entry untouched
//   - dest entry already equals the source digest: confirmed, untouched
//   - otherwise the destination file is hashed with the source digest's
//     algorithm; a match heals the entry, a mismatch or read error leaves
//     the entry as it was and counts the path as pending.
func (r *Reconciler) Reconcile(ctx context.Context, source, dest manifest.Manifest, destRoot string) (manifest.Manifest, *ReconcileResult, error) {
	updated := dest.Clone()
	result := &ReconcileResult{}
	exists := FileExists(destRoot)

	var mu gosync.Mutex
	markPending := func(p string) {
		mu.Lock()
		result.Pending++
		result.PendingPaths = append(result.PendingPaths, p)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, p := range source.Paths() {
		if gctx.Err() != nil {
			break
		}

		want := source[p]

		if !exists(p) {
			markPending(p)
			continue
		}
		if got, ok := dest[p]; ok && hasher.Equal(got, want) {
			mu.Lock()
			result.Confirmed++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			h, err := hasher.ForDigest(want)
			if err != nil {
				r.logger.Warn("cannot verify path", "path", p, "error", err)
				markPending(p)
				return nil
			}

			got, err := h.File(filepath.Join(destRoot, filepath.FromSlash(p)))
			if err != nil {
				r.logger.Warn("cannot verify path", "path", p, "error", err)
				markPending(p)
				return nil
			}

			if !hasher.Equal(got, want) {
				r.logger.Debug("destination content differs from source", "path", p)
				markPending(p)
				return nil
			}

			r.logger.Debug("healed manifest entry", "path", p)
			mu.Lock()
			updated[p] = want
			result.Healed++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sort.Strings(result.PendingPaths)
	return updated, result, nil
}
