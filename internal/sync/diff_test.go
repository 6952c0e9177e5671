package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/schaermu/hashsync/internal/hasher"
	"github.com/schaermu/hashsync/internal/manifest"
	"github.com/schaermu/hashsync/internal/scan"
	"github.com/schaermu/hashsync/internal/testutil"
)

func digestOf(t *testing.T, content string) string {
	t.Helper()
	h, err := hasher.New(hasher.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	d, err := h.Sum(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func existsIn(paths ...string) ExistsFunc {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(rel string) bool { return set[rel] }
}

func TestDiff_Classification(t *testing.T) {
	source := manifest.Manifest{
		"same.txt":    "H1",
		"new.txt":     "H2",
		"changed.txt": "H3",
		"deleted.txt": "H4",
		"both.txt":    "H5",
	}
	dest := manifest.Manifest{
		"same.txt":     "H1",
		"changed.txt":  "H3-old",
		"deleted.txt":  "H4",
		"both.txt":     "H5-old",
		"dest-only.md": "H9",
	}
	exists := existsIn("same.txt", "changed.txt", "new.txt", "dest-only.md")

	plan := Diff(source, dest, exists)

	want := map[string]Reason{
		"both.txt":    DestFileAbsent, // absence wins over a digest mismatch
		"changed.txt": HashMismatch,
		"deleted.txt": DestFileAbsent,
		"new.txt":     MissingInDestManifest,
		"same.txt":    UpToDate,
	}

	if len(plan.Entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(plan.Entries), len(want), plan.Entries)
	}
	for _, e := range plan.Entries {
		if e.Reason != want[e.Path] {
			t.Errorf("%s: got %s, want %s", e.Path, e.Reason, want[e.Path])
		}
		if e.Digest != source[e.Path] {
			t.Errorf("%s: digest %q, want %q", e.Path, e.Digest, source[e.Path])
		}
		if e.Path == "dest-only.md" {
			t.Error("dest-only paths must not be reported")
		}
	}

	if got := len(plan.Pending()); got != 4 {
		t.Errorf("Pending() = %d entries, want 4", got)
	}
	if plan.Counts[DestFileAbsent] != 2 || plan.Counts[UpToDate] != 1 {
		t.Errorf("unexpected counts: %v", plan.Counts)
	}
}

func TestDiff_SortedAndDeterministic(t *testing.T) {
	source := manifest.Manifest{"c": "1", "a": "2", "b/z": "3", "b/a": "4"}
	dest := manifest.Manifest{"a": "2"}
	exists := existsIn("a")

	first := Diff(source, dest, exists)
	second := Diff(source, dest, exists)

	var paths []string
	for i, e := range first.Entries {
		paths = append(paths, e.Path)
		if second.Entries[i] != e {
			t.Errorf("entry %d differs between runs: %+v vs %+v", i, e, second.Entries[i])
		}
	}
	if strings.Join(paths, ",") != "a,b/a,b/z,c" {
		t.Errorf("entries not sorted: %v", paths)
	}
}

func TestDiff_EmptyManifests(t *testing.T) {
	plan := Diff(manifest.New(), manifest.New(), existsIn())
	if len(plan.Entries) != 0 || len(plan.Pending()) != 0 {
		t.Errorf("expected empty plan, got %+v", plan)
	}

	plan = Diff(manifest.Manifest{"a.txt": "H1"}, manifest.New(), existsIn())
	if plan.Entries[0].Reason != MissingInDestManifest {
		t.Errorf("got %s, want %s", plan.Entries[0].Reason, MissingInDestManifest)
	}
}

func TestDiff_BareAndPrefixedDigestsMatch(t *testing.T) {
	prefixed := digestOf(t, "content")
	bare := strings.TrimPrefix(prefixed, "sha256:")

	plan := Diff(manifest.Manifest{"a": prefixed}, manifest.Manifest{"a": bare}, existsIn("a"))
	if plan.Entries[0].Reason != UpToDate {
		t.Errorf("got %s, want %s", plan.Entries[0].Reason, UpToDate)
	}
}

func TestDiff_SelfComparisonIsUpToDate(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"a.txt":         "alpha",
		"dir/b.txt":     "beta",
		"dir/sub/c.txt": "gamma",
		"empty":         "",
	})

	h, err := hasher.New(hasher.XXHash)
	if err != nil {
		t.Fatal(err)
	}
	scanner := scan.NewScanner(h, nil, 2, testutil.Logger())

	m1, _, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	m2, _, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	plan := Diff(m1, m2, FileExists(root))
	if pending := plan.Pending(); len(pending) != 0 {
		t.Errorf("self comparison reported %d pending entries: %+v", len(pending), pending)
	}
	if plan.Counts[UpToDate] != 4 {
		t.Errorf("expected 4 up-to-date entries, got %d", plan.Counts[UpToDate])
	}
}

func TestFileExists(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"dir/a.txt": "a"})

	exists := FileExists(root)
	if !exists("dir/a.txt") {
		t.Error("dir/a.txt should exist")
	}
	if exists("dir") {
		t.Error("a directory must not count as a present file")
	}
	if exists("missing.txt") {
		t.Error("missing.txt should not exist")
	}
}

func TestReasonString(t *testing.T) {
	if MissingInDestManifest.String() != "missing_in_dest_manifest" {
		t.Errorf("unexpected string %q", MissingInDestManifest.String())
	}
	if Reason(42).String() != "reason(42)" {
		t.Errorf("unexpected string %q", Reason(42).String())
	}
}
