package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state"))

	m, err := s.Load("dest.yaml")
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestStore_LoadEmptyFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dest.yaml"), []byte("\n"), 0o644))

	m, err := NewStore(dir).Load("dest.yaml")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s := NewStore(dir)

	want := Manifest{
		"b/c.txt":        "sha256:bbbb",
		"a.txt":          "sha256:aaaa",
		"unicode/ü.txt":  "md5:cccc",
		"with space.txt": "xxhash:dddd",
	}
	require.NoError(t, s.Save("source.yaml", want))

	got, err := s.Load("source.yaml")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_SaveIsSortedAndDiffable(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save("m.yaml", Manifest{"z.txt": "H3", "a.txt": "H1", "m/n.txt": "H2"}))

	data, err := os.ReadFile(filepath.Join(dir, "m.yaml"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"a.txt: H1", "m/n.txt: H2", "z.txt: H3"}, lines)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.Save("m.yaml", Manifest{"a.txt": "H1"}))
	require.NoError(t, s.Save("m.yaml", Manifest{"a.txt": "H2"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m.yaml", entries[0].Name())

	got, err := s.Load("m.yaml")
	require.NoError(t, err)
	assert.Equal(t, Manifest{"a.txt": "H2"}, got)
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid yaml", content: "a.txt: [unterminated\n"},
		{name: "list instead of mapping", content: "- a.txt\n- b.txt\n"},
		{name: "nested mapping", content: "a.txt:\n  nested: value\n"},
		{name: "escaping path", content: "../etc/passwd: H1\n"},
		{name: "absolute path", content: "/etc/passwd: H1\n"},
		{name: "empty digest", content: "a.txt: \"\"\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "m.yaml"), []byte(tc.content), 0o644))

			_, err := NewStore(dir).Load("m.yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestStore_PathResolution(t *testing.T) {
	s := NewStore("/var/lib/hashsync")
	assert.Equal(t, filepath.Join("/var/lib/hashsync", "dest.yaml"), s.Path("dest.yaml"))
	assert.Equal(t, "/elsewhere/dest.yaml", s.Path("/elsewhere/dest.yaml"))
}

func TestStore_Lock(t *testing.T) {
	s := NewStore(t.TempDir())

	unlock, err := s.Lock("dest.yaml")
	require.NoError(t, err)

	_, err = s.Lock("dest.yaml")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())

	unlock, err = s.Lock("dest.yaml")
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestManifest_PathsAndClone(t *testing.T) {
	m := Manifest{"b": "2", "a": "1", "c/d": "3"}
	assert.Equal(t, []string{"a", "b", "c/d"}, m.Paths())

	c := m.Clone()
	c["a"] = "changed"
	assert.Equal(t, "1", m["a"])
}

func TestValidatePath(t *testing.T) {
	valid := []string{"a.txt", "dir/a.txt", "..hidden", "a/..b/c"}
	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}

	invalid := []string{"", "/a", "../a", "..", "a/../b", "a//b", "./a", "a/"}
	for _, p := range invalid {
		assert.Error(t, ValidatePath(p), p)
	}

	if filepath.Separator == '\\' {
		assert.Error(t, ValidatePath("a\\b"))
	} else {
		assert.NoError(t, ValidatePath("a\\b"), "backslash is a filename character on this OS")
	}
}

func TestStore_BackslashKeyRoundTrip(t *testing.T) {
	if filepath.Separator == '\\' {
		t.Skip("backslash is the path separator on this OS")
	}

	store := NewStore(t.TempDir())
	m := Manifest{"a\\b.txt": "sha256:00", "dir/c\\d": "sha256:01"}
	require.NoError(t, store.Save("source.yaml", m))

	loaded, err := store.Load("source.yaml")
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}
