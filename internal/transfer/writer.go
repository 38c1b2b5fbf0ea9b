package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// partSuffix marks in-flight files until atomic completion.
const partSuffix = ".part"

// Writer incrementally persists one incoming file. It never holds the part
// file's descriptor across chunk boundaries: each chunk is an
// open-append-flush-close cycle, which keeps the receiver's descriptor
// usage independent of the file count.
type Writer struct {
	relPath        string
	destDir        string
	size           uint64
	sourceHash     string
	manifestOffset uint64

	written     uint64
	hasher      hash.Hash
	needsRehash bool
	completed   bool
	failed      bool
	fsFailed    bool
	overwrite   bool
	finalPath   string

	lock  *LockManager
	warnf func(format string, args ...any)
}

// NewWriter creates a writer for one manifest entry. sourceHash is the
// announced 64-char hex digest; manifestOffset is the entry's start in the
// unified stream.
func NewWriter(destDir, relPath string, size uint64, sourceHash string, manifestOffset uint64, lock *LockManager, overwrite bool, warnf func(string, ...any)) *Writer {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &Writer{
		relPath:        relPath,
		destDir:        destDir,
		size:           size,
		sourceHash:     sourceHash,
		manifestOffset: manifestOffset,
		hasher:         sha256.New(),
		overwrite:      overwrite,
		lock:           lock,
		warnf:          warnf,
	}
}

func (w *Writer) partPath() string {
	return filepath.Join(w.destDir, filepath.FromSlash(w.relPath)+partSuffix)
}

func (w *Writer) targetPath() string {
	return filepath.Join(w.destDir, filepath.FromSlash(w.relPath))
}

// Path returns the slash-normalized relative path this writer serves.
func (w *Writer) Path() string { return w.relPath }

// Size returns the declared file size.
func (w *Writer) Size() uint64 { return w.size }

// ManifestOffset returns the entry's start offset in the stream.
func (w *Writer) ManifestOffset() uint64 { return w.manifestOffset }

// Written returns bytes accepted so far, including resumed bytes.
func (w *Writer) Written() uint64 { return w.written }

// NextOffset returns the absolute stream offset of the next byte needed.
func (w *Writer) NextOffset() uint64 { return w.manifestOffset + w.written }

// Completed reports whether the file reached its final name.
func (w *Writer) Completed() bool { return w.completed }

// Failed reports whether the file is marked failed for this attempt.
func (w *Writer) Failed() bool { return w.failed }

// FSFailed reports a disk-level failure. These are not retried in-session;
// the lock preserves state for a later run.
func (w *Writer) FSFailed() bool { return w.fsFailed }

// FinalPath returns where the completed file landed (after any conflict
// renaming); empty until completion.
func (w *Writer) FinalPath() string { return w.finalPath }

// Open prepares the part file. resumeBytes > 0 resumes an earlier session:
// the existing part file is accepted if its size matches exactly, deferring
// content verification to the first chunk. A zero-size file completes
// immediately.
func (w *Writer) Open(resumeBytes uint64) error {
	part := w.partPath()
	if err := os.MkdirAll(filepath.Dir(part), 0o755); err != nil {
		return fmt.Errorf("%w: create directories for %s: %v", ErrFilesystem, w.relPath, err)
	}

	if resumeBytes == 0 {
		return w.startFresh()
	}

	info, err := os.Stat(part)
	if err != nil || uint64(info.Size()) != resumeBytes || resumeBytes > w.size {
		w.warnf("part file for %s does not match resume state, starting fresh", w.relPath)
		return w.startFresh()
	}

	if resumeBytes == w.size {
		// The whole file is on disk; verify it and promote, or start
		// over if the content does not match the announcement.
		if err := w.foldPart(resumeBytes); err != nil {
			w.warnf("cannot re-read part file for %s: %v, starting fresh", w.relPath, err)
			return w.startFresh()
		}
		if hex.EncodeToString(w.hasher.Sum(nil)) != w.sourceHash {
			w.warnf("resumed part file for %s does not match source, starting fresh", w.relPath)
			return w.startFresh()
		}
		w.written = resumeBytes
		return w.Complete()
	}

	w.written = resumeBytes
	w.needsRehash = true
	if w.lock != nil {
		w.lock.MarkInProgress(w.relPath, w.written)
	}
	return nil
}

func (w *Writer) startFresh() error {
	if err := os.Remove(w.partPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: reset part file for %s: %v", ErrFilesystem, w.relPath, err)
	}
	w.written = 0
	w.hasher = sha256.New()
	w.needsRehash = false
	w.completed = false
	w.failed = false
	if w.lock != nil {
		w.lock.MarkPending(w.relPath)
	}
	if w.size == 0 {
		if f, err := os.OpenFile(w.partPath(), os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			f.Close()
		}
		return w.Complete()
	}
	return nil
}

// foldPart streams the first n bytes of the part file into the running
// hasher.
func (w *Writer) foldPart(n uint64) error {
	f, err := os.Open(w.partPath())
	if err != nil {
		return err
	}
	defer f.Close()
	w.hasher = sha256.New()
	if _, err := io.CopyN(w.hasher, f, int64(n)); err != nil {
		return err
	}
	return nil
}

// ensureRehash verifies resumed bytes against the lock's stored partial
// hash on the first chunk after a resume. A mismatch or read failure drops
// the part file and marks this attempt failed; the retry pass re-fetches
// the file from the start.
func (w *Writer) ensureRehash() {
	if !w.needsRehash {
		return
	}
	w.needsRehash = false
	if err := w.foldPart(w.written); err != nil {
		w.warnf("cannot re-read part file for %s: %v", w.relPath, err)
		w.abandonResume()
		return
	}
	sum := hex.EncodeToString(w.hasher.Sum(nil))
	if stored := w.lock.PartialHash(w.relPath); stored != "" && stored != sum {
		w.warnf("partial hash mismatch for %s, discarding resumed bytes", w.relPath)
		w.abandonResume()
		return
	}
	if w.lock != nil {
		w.lock.RecordProgress(w.relPath, w.written, sum)
	}
}

func (w *Writer) abandonResume() {
	_ = os.Remove(w.partPath())
	w.written = 0
	w.hasher = sha256.New()
	w.failed = true
	if w.lock != nil {
		w.lock.MarkFailed(w.relPath)
	}
}

// WriteChunk appends data to the part file, advancing the running hash and
// reporting progress to the lock manager. Bytes beyond the declared size
// are ignored. Disk errors mark the file failed and are returned wrapped
// in ErrFilesystem; the session can keep going.
func (w *Writer) WriteChunk(data []byte) error {
	if w.completed || w.failed {
		return nil
	}
	w.ensureRehash()
	if w.failed {
		return nil
	}

	remaining := w.size - w.written
	if uint64(len(data)) > remaining {
		data = data[:remaining]
	}
	if len(data) == 0 {
		return nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if w.written == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(w.partPath(), flags, 0o644)
	if err != nil {
		return w.failChunk(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return w.failChunk(err)
	}
	if err := f.Close(); err != nil {
		return w.failChunk(err)
	}

	w.hasher.Write(data)
	w.written += uint64(len(data))
	if w.lock != nil {
		w.lock.RecordProgress(w.relPath, w.written, hex.EncodeToString(w.hasher.Sum(nil)))
	}
	if w.written == w.size {
		return w.Complete()
	}
	return nil
}

func (w *Writer) failChunk(err error) error {
	w.failed = true
	w.fsFailed = true
	w.warnf("failed to write %s: %v", w.relPath, err)
	if w.lock != nil {
		w.lock.MarkFailed(w.relPath)
	}
	return fmt.Errorf("%w: write %s: %v", ErrFilesystem, w.relPath, err)
}

// Complete verifies the running hash against the announced source hash and
// atomically renames the part file into place, resolving name conflicts.
// On mismatch the part file stays for diagnosis and the file is marked
// failed.
func (w *Writer) Complete() error {
	if w.completed {
		return nil
	}
	sum := hex.EncodeToString(w.hasher.Sum(nil))
	if sum != w.sourceHash {
		w.failed = true
		if w.lock != nil {
			w.lock.MarkFailed(w.relPath)
		}
		return fmt.Errorf("%w: %s: got %s, want %s", ErrIntegrity, w.relPath, sum, w.sourceHash)
	}

	final, err := w.rename()
	if err != nil {
		w.failed = true
		w.fsFailed = true
		if w.lock != nil {
			w.lock.MarkFailed(w.relPath)
		}
		return fmt.Errorf("%w: finalize %s: %v", ErrFilesystem, w.relPath, err)
	}
	w.finalPath = final
	w.completed = true
	w.failed = false
	if w.lock != nil {
		w.lock.MarkCompleted(w.relPath, sum)
	}
	return nil
}

// rename moves the part file to its final name. With overwrite on, an
// existing regular file is replaced atomically; anything else falls back
// to the suffix scheme. Without overwrite, conflicts probe name_1.ext,
// name_2.ext, ... for the first free slot.
func (w *Writer) rename() (string, error) {
	target := w.targetPath()
	info, err := os.Stat(target)
	exists := err == nil

	if !exists {
		return target, os.Rename(w.partPath(), target)
	}
	if w.overwrite && !info.IsDir() {
		if err := os.Rename(w.partPath(), target); err == nil {
			return target, nil
		}
		// Fall through to the suffix scheme.
	}
	for i := 1; ; i++ {
		cand := suffixedName(target, i)
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand, os.Rename(w.partPath(), cand)
		}
	}
}

// suffixedName turns dir/name.ext into dir/name_i.ext.
func suffixedName(target string, i int) string {
	dir, base := filepath.Split(target)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
}

// ResetForRetry discards all local state for a fresh in-session attempt.
func (w *Writer) ResetForRetry() error {
	if err := os.Remove(w.partPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: reset %s: %v", ErrFilesystem, w.relPath, err)
	}
	w.written = 0
	w.hasher = sha256.New()
	w.needsRehash = false
	w.completed = false
	w.failed = false
	w.fsFailed = false
	w.finalPath = ""
	if w.lock != nil {
		w.lock.MarkPending(w.relPath)
	}
	if w.size == 0 {
		return w.startFresh()
	}
	return nil
}
