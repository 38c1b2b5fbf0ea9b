// Package manifest enumerates the files of a transfer: it walks the input
// paths, applies exclusion patterns, hashes every file once, and produces a
// deterministic, offset-annotated entry list that both sides of a session
// agree on.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one file to transfer. Offset is the cumulative size of all
// preceding entries in sorted order, i.e. the file's start position in the
// unified byte stream.
type Entry struct {
	Path   string
	Size   uint64
	Hash   [sha256.Size]byte
	Offset uint64
	// SourcePath is the absolute on-disk location the entry was
	// enumerated from. Local only; never announced on the wire.
	SourcePath string
}

// HashHex returns the source hash as 64 lowercase hex characters.
func (e Entry) HashHex() string {
	return hex.EncodeToString(e.Hash[:])
}

// Manifest is the deterministic file list for one transfer.
type Manifest struct {
	Entries    []Entry
	TotalBytes uint64
}

// Options controls enumeration.
type Options struct {
	// Excludes are glob patterns matched case-sensitively against each
	// slash-separated component of an entry's relative path.
	Excludes []string
	// SkipJunk additionally excludes well-known dependency/cache/VCS
	// directories by name, case-insensitively.
	SkipJunk bool
	// Warnf receives non-fatal enumeration events (skipped specials,
	// unreadable files, size drift). May be nil.
	Warnf func(format string, args ...any)
}

// junkDirs are directory names that are almost never worth transferring.
var junkDirs = []string{
	"venv", ".venv", "env", ".env", "virtualenv",
	"__pycache__", ".pytest_cache", ".tox",
	"node_modules", ".npm", ".yarn",
	".git", ".svn", ".hg",
	"conda-env", ".conda",
	".mypy_cache", ".coverage", ".cache",
}

type candidate struct {
	abs string
	rel string
}

// Scan walks the given paths and builds the manifest. A plain file is
// announced under its base name; a directory is announced relative to its
// parent so the directory name itself becomes the top-level component on
// the receiver. Entries are sorted by relative path and offsets are
// computed in that order.
func Scan(paths []string, opts Options) (Manifest, error) {
	if len(paths) == 0 {
		return Manifest{}, fmt.Errorf("no paths provided")
	}
	warnf := opts.Warnf
	if warnf == nil {
		warnf = func(string, ...any) {}
	}

	prefixes, err := collisionPrefixes(paths)
	if err != nil {
		return Manifest{}, err
	}

	var candidates []candidate
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return Manifest{}, fmt.Errorf("cannot resolve path %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return Manifest{}, fmt.Errorf("cannot access path %s: %w", p, err)
		}
		top := prefixes[i] + filepath.Base(abs)

		switch {
		case info.Mode().IsRegular():
			candidates = append(candidates, candidate{abs: abs, rel: top})
		case info.IsDir():
			walked, err := walkDir(abs, top, opts, warnf)
			if err != nil {
				return Manifest{}, err
			}
			candidates = append(candidates, walked...)
		default:
			warnf("skipping %s (not a regular file or directory)", p)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].rel < candidates[j].rel
	})

	m := Manifest{}
	for _, c := range candidates {
		if excluded(c.rel, opts) {
			continue
		}
		if err := ValidatePath(c.rel); err != nil {
			return Manifest{}, err
		}
		size, sum, err := hashFile(c.abs, warnf)
		if err != nil {
			warnf("skipping unreadable file %s: %v", c.rel, err)
			continue
		}
		m.Entries = append(m.Entries, Entry{
			Path:       c.rel,
			Size:       size,
			Hash:       sum,
			Offset:     m.TotalBytes,
			SourcePath: c.abs,
		})
		m.TotalBytes += size
	}
	return m, nil
}

// walkDir collects every regular file under root, announcing each as
// top/<path within root>.
func walkDir(root, top string, opts Options, warnf func(string, ...any)) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			warnf("cannot read %s: %v", p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("cannot compute relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		full := top + "/" + rel
		if d.IsDir() {
			if excluded(full, opts) {
				return fs.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			warnf("cannot stat %s: %v", full, err)
			return nil
		}
		if !info.Mode().IsRegular() {
			warnf("skipping %s (not a regular file)", full)
			return nil
		}
		out = append(out, candidate{abs: p, rel: full})
		return nil
	})
	return out, err
}

// excluded reports whether any component of rel matches an exclusion.
func excluded(rel string, opts Options) bool {
	for _, comp := range strings.Split(rel, "/") {
		for _, pattern := range opts.Excludes {
			if ok, err := path.Match(pattern, comp); err == nil && ok {
				return true
			}
		}
		if opts.SkipJunk {
			for _, junk := range junkDirs {
				if strings.EqualFold(comp, junk) {
					return true
				}
			}
		}
	}
	return false
}

// hashFile streams the file through SHA-256 once, recording the size from
// the same read so a file growing or shrinking mid-enumeration is observed
// consistently.
func hashFile(abs string, warnf func(string, ...any)) (uint64, [sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(abs)
	if err != nil {
		return 0, sum, err
	}
	defer f.Close()

	statSize := int64(-1)
	if info, err := f.Stat(); err == nil {
		statSize = info.Size()
	}

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, sum, err
	}
	if statSize >= 0 && n != statSize {
		warnf("size of %s changed during enumeration (%d -> %d), using observed size", abs, statSize, n)
	}
	copy(sum[:], h.Sum(nil))
	return uint64(n), sum, nil
}

// collisionPrefixes disambiguates inputs whose base names collide by
// prefixing an ordinal ("1_", "2_", ...) in input order, the way repeated
// selections are presented to the receiver.
func collisionPrefixes(paths []string) ([]string, error) {
	bases := make([]string, len(paths))
	counts := make(map[string]int)
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve path %s: %w", p, err)
		}
		bases[i] = filepath.Base(abs)
		counts[bases[i]]++
	}
	prefixes := make([]string, len(paths))
	ordinals := make(map[string]int)
	for i, base := range bases {
		if counts[base] > 1 {
			ordinals[base]++
			prefixes[i] = fmt.Sprintf("%d_", ordinals[base])
		}
	}
	return prefixes, nil
}
