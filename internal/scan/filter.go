package scan

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is the per-tree ignore file read from the tree root.
const IgnoreFile = ".hashsyncignore"

// TempFilePrefix names the temporary files written while copying into a tree.
const TempFilePrefix = ".hashsync-tmp-"

var defaultIgnoreLines = []string{
	IgnoreFile,
	TempFilePrefix + "*",
}

// Filter decides which files of a tree enter its manifest.
type Filter struct {
	ignore  []string
	include []string
}

// NewFilter builds a filter from gitignore-style ignore lines and optional
// doublestar include globs. When include globs are set only matching files
// are accepted.
func NewFilter(ignore, include []string) (*Filter, error) {
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}
	return &Filter{ignore: ignore, include: include}, nil
}

type matcher struct {
	ignore  *gitignore.GitIgnore
	include []string
}

// forRoot compiles the filter together with the root's ignore file.
func (f *Filter) forRoot(root string) (*matcher, error) {
	lines := make([]string, 0, len(defaultIgnoreLines)+len(f.ignore))
	lines = append(lines, defaultIgnoreLines...)
	lines = append(lines, f.ignore...)

	fileLines, err := readIgnoreFile(filepath.Join(root, IgnoreFile))
	lines = append(lines, fileLines...)

	return &matcher{
		ignore:  gitignore.CompileIgnoreLines(lines...),
		include: f.include,
	}, err
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// ignoredDir reports whether the directory at rel should be skipped entirely.
func (m *matcher) ignoredDir(rel string) bool {
	return m.ignore.MatchesPath(rel + "/")
}

// accept reports whether the file at rel belongs in the manifest.
func (m *matcher) accept(rel string) bool {
	if m.ignore.MatchesPath(rel) {
		return false
	}
	if len(m.include) == 0 {
		return true
	}
	for _, pattern := range m.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
