package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/schaermu/hashsync/internal/config"
	"github.com/schaermu/hashsync/internal/hasher"
	"github.com/schaermu/hashsync/internal/manifest"
	"github.com/schaermu/hashsync/internal/scan"
)

// Engine wires scanning, diffing, copying and reconciliation to the
// configured roots and manifests
type Engine struct {
	cfg        *config.Config
	store      *manifest.Store
	scanner    *scan.Scanner
	executor   *Executor
	reconciler *Reconciler
	logger     *slog.Logger
	dryRun     bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, logger *slog.Logger, dryRun bool) (*Engine, error) {
	h, err := hasher.New(cfg.Hash.Algorithm)
	if err != nil {
		return nil, err
	}

	filter, err := scan.NewFilter(cfg.Scan.Ignore, cfg.Scan.Include)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		store:      manifest.NewStore(cfg.Manifests.Dir),
		scanner:    scan.NewScanner(h, filter, cfg.Scan.Workers, logger),
		executor:   NewExecutor(cfg.Sync.Workers, cfg.PreserveTimes(), logger),
		reconciler: NewReconciler(cfg.Scan.Workers, logger),
		logger:     logger,
		dryRun:     dryRun,
	}, nil
}

// Scan builds a manifest of the tree at root
func (e *Engine) Scan(ctx context.Context, root string) (manifest.Manifest, []scan.Warning, error) {
	return e.scanner.Scan(ctx, root)
}

// LoadManifest loads a persisted manifest; a missing one is empty
func (e *Engine) LoadManifest(name string) (manifest.Manifest, error) {
	return e.store.Load(name)
}

// SaveManifest persists a manifest atomically
func (e *Engine) SaveManifest(name string, m manifest.Manifest) error {
	return e.store.Save(name, m)
}

// ScanAndSave scans one side's tree and replaces its manifest
func (e *Engine) ScanAndSave(ctx context.Context, side config.Side) ([]scan.Warning, error) {
	root := e.cfg.Root(side)
	name := e.cfg.ManifestName(side)

	e.logger.Info("scanning tree", "side", side, "root", root)
	m, warnings, err := e.Scan(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s tree: %w", side, err)
	}

	if e.dryRun {
		e.logger.Info("dry-run complete, manifest not saved", "side", side, "files", len(m), "warnings", len(warnings))
		return warnings, nil
	}

	if err := e.saveLocked(side, m); err != nil {
		return nil, err
	}

	e.logger.Info("manifest saved",
		"side", side,
		"path", e.store.Path(name),
		"files", len(m),
		"warnings", len(warnings))
	return warnings, nil
}

// DiffAndSync copies every source file the persisted manifests mark as
// stale or missing. The destination manifest is left unchanged.
func (e *Engine) DiffAndSync(ctx context.Context) (*SyncResult, error) {
	source, err := e.loadSide(config.Source)
	if err != nil {
		return nil, err
	}
	return e.syncFrom(ctx, source)
}

func (e *Engine) syncFrom(ctx context.Context, source manifest.Manifest) (*SyncResult, error) {
	if err := e.checkRoots(); err != nil {
		return nil, err
	}

	dest, err := e.loadSide(config.Dest)
	if err != nil {
		return nil, err
	}

	plan := Diff(source, dest, FileExists(e.cfg.Paths.Dest))

	// Log plan
	e.logger.Info("sync plan",
		"files", len(plan.Entries),
		"up_to_date", plan.Counts[UpToDate],
		"missing_in_dest_manifest", plan.Counts[MissingInDestManifest],
		"dest_file_absent", plan.Counts[DestFileAbsent],
		"hash_mismatch", plan.Counts[HashMismatch])

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return &SyncResult{Planned: len(plan.Pending()), DryRun: true}, nil
	}

	result, err := e.executor.Execute(ctx, e.cfg.Paths.Source, e.cfg.Paths.Dest, plan)
	if result != nil {
		e.logger.Info("sync finished",
			"copied", result.Copied,
			"failed", len(result.Failed),
			"skipped", len(plan.Entries)-result.Planned,
			"bytes", humanize.Bytes(uint64(result.Bytes)))
	}
	if err != nil {
		return result, fmt.Errorf("sync interrupted: %w", err)
	}
	return result, nil
}

// ReconcileProgress verifies the destination tree against the source
// manifest, heals the destination manifest and persists it. The destination
// manifest stays locked for the whole cycle.
func (e *Engine) ReconcileProgress(ctx context.Context) (*ReconcileResult, error) {
	if err := scan.CheckRoot(e.cfg.Paths.Dest); err != nil {
		return nil, err
	}

	name := e.cfg.ManifestName(config.Dest)
	if !e.dryRun {
		unlock, err := e.store.Lock(name)
		if err != nil {
			return nil, err
		}
		defer e.unlock(unlock)
	}

	source, err := e.loadSide(config.Source)
	if err != nil {
		return nil, err
	}
	dest, err := e.loadSide(config.Dest)
	if err != nil {
		return nil, err
	}

	updated, result, err := e.reconciler.Reconcile(ctx, source, dest, e.cfg.Paths.Dest)
	if err != nil {
		return nil, fmt.Errorf("reconcile interrupted: %w", err)
	}

	if e.dryRun {
		e.logger.Info("dry-run complete, destination manifest not saved")
	} else if err := e.store.Save(name, updated); err != nil {
		return nil, fmt.Errorf("failed to save dest manifest: %w", err)
	}

	for _, p := range result.PendingPaths {
		e.logger.Debug("still needs sync", "path", p)
	}
	e.logger.Info("reconcile finished",
		"healed", result.Healed,
		"confirmed", result.Confirmed,
		"pending", result.Pending)
	return result, nil
}

// RunResult combines the outcome of a full pipeline run
type RunResult struct {
	Warnings  []scan.Warning
	Sync      *SyncResult
	Reconcile *ReconcileResult
}

// Run scans the source tree, syncs the destination and confirms the copies
// in the destination manifest.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	e.logger.Info("starting run",
		"source", e.cfg.Paths.Source,
		"dest", e.cfg.Paths.Dest,
		"dry_run", e.dryRun)

	if err := e.checkRoots(); err != nil {
		return nil, err
	}

	source, warnings, err := e.Scan(ctx, e.cfg.Paths.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source tree: %w", err)
	}
	out := &RunResult{Warnings: warnings}

	if !e.dryRun {
		if err := e.saveLocked(config.Source, source); err != nil {
			return out, err
		}
	}

	out.Sync, err = e.syncFrom(ctx, source)
	if err != nil {
		return out, err
	}
	if e.dryRun {
		return out, nil
	}

	out.Reconcile, err = e.ReconcileProgress(ctx)
	if err != nil {
		return out, err
	}

	e.logger.Info("run complete",
		"scan_warnings", len(out.Warnings),
		"copied", out.Sync.Copied,
		"failed", len(out.Sync.Failed),
		"pending", out.Reconcile.Pending)
	return out, nil
}

func (e *Engine) checkRoots() error {
	if err := scan.CheckRoot(e.cfg.Paths.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	// the destination is never created here: an unmounted drive must not
	// look like an empty tree
	if err := scan.CheckRoot(e.cfg.Paths.Dest); err != nil {
		return fmt.Errorf("dest: %w", err)
	}
	return nil
}

// saveLocked replaces one side's manifest while holding its lock
func (e *Engine) saveLocked(side config.Side, m manifest.Manifest) error {
	name := e.cfg.ManifestName(side)
	unlock, err := e.store.Lock(name)
	if err != nil {
		return err
	}
	defer e.unlock(unlock)

	if err := e.store.Save(name, m); err != nil {
		return fmt.Errorf("failed to save %s manifest: %w", side, err)
	}
	return nil
}

func (e *Engine) loadSide(side config.Side) (manifest.Manifest, error) {
	m, err := e.store.Load(e.cfg.ManifestName(side))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s manifest: %w", side, err)
	}
	return m, nil
}

func (e *Engine) unlock(unlock func() error) {
	if err := unlock(); err != nil {
		e.logger.Warn("failed to release manifest lock", "error", err)
	}
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, entry := range plan.Pending() {
		e.logger.Info("[dry-run] would copy", "path", entry.Path, "reason", entry.Reason.String())
	}
}
