package manifest

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), []byte{0x41})

	m, err := Scan([]string{filepath.Join(dir, "b.txt")}, Options{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m.Entries))
	}
	e := m.Entries[0]
	if e.Path != "b.txt" || e.Size != 1 || e.Offset != 0 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	want := sha256.Sum256([]byte{0x41})
	if e.Hash != want {
		t.Fatalf("hash mismatch: got %s", e.HashHex())
	}
	if e.HashHex() != "559aead08264d5795d3909718cdd05abd49572e84fe55590eef31a88a08fdffd" {
		t.Fatalf("unexpected hash hex: %s", e.HashHex())
	}
}

func TestScanDirectoryIncludesRootName(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(root, "src", "main.go"), []byte("package main"))
	writeFile(t, filepath.Join(root, "README"), []byte("readme"))

	m, err := Scan([]string{root}, Options{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	if m.Entries[0].Path != "project/README" {
		t.Fatalf("unexpected first entry: %s", m.Entries[0].Path)
	}
	if m.Entries[1].Path != "project/src/main.go" {
		t.Fatalf("unexpected second entry: %s", m.Entries[1].Path)
	}
}

func TestScanOffsetsAreCumulative(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	writeFile(t, filepath.Join(root, "a"), make([]byte, 100))
	writeFile(t, filepath.Join(root, "b"), make([]byte, 250))
	writeFile(t, filepath.Join(root, "c"), make([]byte, 7))

	m, err := Scan([]string{root}, Options{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var offset uint64
	for _, e := range m.Entries {
		if e.Offset != offset {
			t.Fatalf("entry %s: offset %d, want %d", e.Path, e.Offset, offset)
		}
		offset += e.Size
	}
	if m.TotalBytes != 357 {
		t.Fatalf("total bytes %d, want 357", m.TotalBytes)
	}
}

func TestScanDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "tree")
	for _, name := range []string{"zz", "aa", "mm/inner", "mm/also"} {
		writeFile(t, filepath.Join(root, filepath.FromSlash(name)), []byte(name))
	}

	m1, err := Scan([]string{root}, Options{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	m2, err := Scan([]string{root}, Options{})
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	for i := range m1.Entries {
		if m1.Entries[i] != m2.Entries[i] {
			t.Fatalf("scan not deterministic at %d: %+v vs %+v", i, m1.Entries[i], m2.Entries[i])
		}
	}
	for i := 1; i < len(m1.Entries); i++ {
		if m1.Entries[i-1].Path >= m1.Entries[i].Path {
			t.Fatalf("entries not sorted: %s >= %s", m1.Entries[i-1].Path, m1.Entries[i].Path)
		}
	}
}

func TestScanExcludeGlobs(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "proj")
	writeFile(t, filepath.Join(root, "keep.go"), []byte("keep"))
	writeFile(t, filepath.Join(root, "skip.log"), []byte("skip"))
	writeFile(t, filepath.Join(root, "logs", "deep.txt"), []byte("deep"))

	m, err := Scan([]string{root}, Options{Excludes: []string{"*.log", "logs"}})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].Path != "proj/keep.go" {
		t.Fatalf("unexpected entries: %+v", m.Entries)
	}
}

func TestScanSkipJunkDirs(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "app")
	writeFile(t, filepath.Join(root, "main.go"), []byte("x"))
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), []byte("y"))
	writeFile(t, filepath.Join(root, ".git", "HEAD"), []byte("z"))

	m, err := Scan([]string{root}, Options{SkipJunk: true})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].Path != "app/main.go" {
		t.Fatalf("unexpected entries: %+v", m.Entries)
	}
}

func TestScanBaseNameCollision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one", "data.bin"), []byte("1"))
	writeFile(t, filepath.Join(dir, "two", "data.bin"), []byte("2"))

	m, err := Scan([]string{
		filepath.Join(dir, "one", "data.bin"),
		filepath.Join(dir, "two", "data.bin"),
	}, Options{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	if m.Entries[0].Path != "1_data.bin" || m.Entries[1].Path != "2_data.bin" {
		t.Fatalf("collision not disambiguated: %+v", m.Entries)
	}
}

func TestScanWarnsOnSpecialFiles(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "mix")
	writeFile(t, filepath.Join(root, "normal"), []byte("ok"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	fifo := filepath.Join(root, "pipe")
	if err := mkfifo(fifo); err != nil {
		t.Skipf("cannot create fifo: %v", err)
	}

	var warnings []string
	m, err := Scan([]string{root}, Options{Warnf: func(format string, args ...any) {
		warnings = append(warnings, format)
	}})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %+v", m.Entries)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for the special file")
	}
}

func TestValidatePath(t *testing.T) {
	good := []string{"a.txt", "a/b/c.txt", "dir.with.dots/file", "a/..b/c"}
	for _, p := range good {
		if err := ValidatePath(p); err != nil {
			t.Fatalf("ValidatePath(%q): unexpected error %v", p, err)
		}
	}
	bad := []string{
		"", "../x", "a/../b", "/etc/passwd", `C:\windows\system32`,
		"c:/temp", "a//b", "a/./b", "..", `..\x`,
	}
	for _, p := range bad {
		if err := ValidatePath(p); err == nil {
			t.Fatalf("ValidatePath(%q): expected error", p)
		}
	}
}
