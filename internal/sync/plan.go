package sync

import (
	"errors"
	"fmt"
)

// ErrCopy marks a file that could not be copied into the destination tree.
var ErrCopy = errors.New("copy failure")

// Reason classifies a source path against the destination.
type Reason int

const (
	UpToDate Reason = iota
	MissingInDestManifest
	DestFileAbsent
	HashMismatch
)

func (r Reason) String() string {
	switch r {
	case UpToDate:
		return "up_to_date"
	case MissingInDestManifest:
		return "missing_in_dest_manifest"
	case DestFileAbsent:
		return "dest_file_absent"
	case HashMismatch:
		return "hash_mismatch"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Entry is the classification of one source path.
type Entry struct {
	Path   string // relative slash path
	Digest string // source digest
	Reason Reason
}

// NeedsCopy reports whether the path has to be copied.
func (e Entry) NeedsCopy() bool {
	return e.Reason != UpToDate
}

// Plan is the classification of every source path, ordered by path.
type Plan struct {
	Entries []Entry
	Counts  map[Reason]int
}

// Pending returns the entries that need a copy.
func (p *Plan) Pending() []Entry {
	var pending []Entry
	for _, e := range p.Entries {
		if e.NeedsCopy() {
			pending = append(pending, e)
		}
	}
	return pending
}

// CopyFailure records a file the executor could not copy.
type CopyFailure struct {
	Path string
	Err  error
}

// SyncResult summarises a sync run.
type SyncResult struct {
	Planned int // paths classified as needing a copy
	Copied  int
	Failed  []CopyFailure
	Bytes   int64
	DryRun  bool
}

// ReconcileResult summarises a reconciliation.
type ReconcileResult struct {
	Healed       int      // entries added or corrected after verifying content
	Confirmed    int      // entries that already matched the source
	Pending      int      // paths still needing a sync
	PendingPaths []string // sorted
}
