package hasher

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrRead is returned when a file cannot be opened or read for hashing.
var ErrRead = errors.New("read failure")

// bufferSize bounds the memory used while streaming a file.
const bufferSize = 32 * 1024

// Algorithm names accepted in configuration and digest prefixes.
const (
	SHA256 = "sha256"
	MD5    = "md5"
	XXHash = "xxhash"
)

// Default is the algorithm used when none is configured.
const Default = SHA256

type algorithm struct {
	newFunc func() hash.Hash
	hexLen  int
}

var algorithms = map[string]algorithm{
	SHA256: {newFunc: sha256.New, hexLen: sha256.Size * 2},
	MD5:    {newFunc: md5.New, hexLen: md5.Size * 2},
	XXHash: {newFunc: func() hash.Hash { return xxhash.New() }, hexLen: 16},
}

// Algorithms returns the supported algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hasher produces digests of the form "<algorithm>:<hex>".
type Hasher struct {
	name string
	alg  algorithm
}

// New returns a Hasher for the named algorithm.
func New(name string) (*Hasher, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	alg, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm %q (must be one of %s)", name, strings.Join(Algorithms(), ", "))
	}
	return &Hasher{name: name, alg: alg}, nil
}

// ForDigest returns the Hasher that produced digest. Bare hex digests without
// an algorithm prefix are matched by length.
func ForDigest(digest string) (*Hasher, error) {
	if name, _, ok := strings.Cut(digest, ":"); ok {
		return New(name)
	}
	for _, name := range Algorithms() {
		if algorithms[name].hexLen == len(digest) {
			return New(name)
		}
	}
	return nil, fmt.Errorf("cannot determine hash algorithm of digest %q", digest)
}

// Name returns the algorithm name.
func (h *Hasher) Name() string {
	return h.name
}

// Sum streams r through the hash in fixed-size chunks.
func (h *Hasher) Sum(r io.Reader) (string, error) {
	hh := h.alg.newFunc()
	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(hh, r, buf); err != nil {
		return "", err
	}
	return h.name + ":" + hex.EncodeToString(hh.Sum(nil)), nil
}

// File hashes the file at path. Open and read errors wrap ErrRead.
func (h *Hasher) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	digest, err := h.Sum(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	return digest, nil
}

// Equal reports whether two digests describe the same content. A bare hex
// digest matches a prefixed one of the same algorithm.
func Equal(a, b string) bool {
	if a == b {
		return true
	}
	return normalize(a) == normalize(b)
}

func normalize(digest string) string {
	if strings.Contains(digest, ":") {
		return strings.ToLower(digest)
	}
	h, err := ForDigest(digest)
	if err != nil {
		return digest
	}
	return h.name + ":" + strings.ToLower(digest)
}
