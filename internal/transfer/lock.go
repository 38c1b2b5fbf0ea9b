package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/meshdrop/meshdrop/internal/wire"
)

const (
	// LockFileName is the resume state document in the receiver's cwd.
	LockFileName = ".transfer_lock.json"

	lockVersion   = "1.0"
	lockStaleAge  = 24 * time.Hour
	flushInterval = 2 * time.Second
	maxPending    = 150
)

// File lifecycle states inside the lock document. Transitions run
// pending -> in_progress -> completed|failed; failed returns to pending
// only through an explicit retry reset.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// FileState is the durable per-file record.
type FileState struct {
	Status           string `json:"status"`
	Size             uint64 `json:"size"`
	SourceHash       string `json:"source_hash"`
	TransferredBytes uint64 `json:"transferred_bytes"`
	PartialHash      string `json:"partial_hash,omitempty"`
	LastModified     string `json:"last_modified,omitempty"`
}

type lockDocument struct {
	Version        string                `json:"version"`
	SessionID      string                `json:"session_id"`
	Timestamp      time.Time             `json:"timestamp"`
	SenderEndpoint string                `json:"sender_endpoint"`
	TotalFiles     int                   `json:"total_files"`
	TotalSize      uint64                `json:"total_size"`
	Files          map[string]*FileState `json:"files"`
}

// Plan classifies incoming manifest entries against the lock document.
type Plan struct {
	// Completed maps path -> true for files already fully present.
	Completed map[string]bool
	// Resume maps path -> recorded transferred byte count for partial
	// files; the writer verifies those bytes lazily at its first chunk.
	Resume map[string]uint64
}

// LockManager owns the resume state document. It is the sole writer of the
// lock file and batches progress updates: a flush happens after 150 pending
// updates, 2 seconds since the last flush, any status change, or teardown.
type LockManager struct {
	dir   string
	path  string
	doc   *lockDocument
	warnf func(format string, args ...any)

	pending   int
	lastFlush time.Time
	now       func() time.Time
}

// NewLockManager manages <dir>/.transfer_lock.json.
func NewLockManager(dir string, warnf func(format string, args ...any)) *LockManager {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &LockManager{
		dir:   dir,
		path:  filepath.Join(dir, LockFileName),
		warnf: warnf,
		now:   time.Now,
	}
}

// SweepStale deletes the lock file if it is older than 24 hours, so a
// long-abandoned session cannot influence planning.
func (m *LockManager) SweepStale() {
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	if m.now().Sub(info.ModTime()) > lockStaleAge {
		if err := os.Remove(m.path); err == nil {
			m.warnf("removed stale lock file %s", m.path)
		}
	}
}

// Load reads and validates an existing lock document. Any validation
// failure (schema, version, staleness) is logged and reported as absent.
func (m *LockManager) Load() bool {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false
	}
	var doc lockDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		m.warnf("%v: %v", ErrLockCorrupt, err)
		return false
	}
	if err := validateLock(&doc); err != nil {
		m.warnf("ignoring lock file: %v", err)
		return false
	}
	if m.now().Sub(doc.Timestamp) > lockStaleAge {
		m.warnf("ignoring stale lock file (age %s)", m.now().Sub(doc.Timestamp).Round(time.Minute))
		return false
	}
	m.doc = &doc
	return true
}

func validateLock(doc *lockDocument) error {
	if doc.Version != lockVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrLockCorrupt, doc.Version)
	}
	if _, err := uuid.Parse(doc.SessionID); err != nil {
		return fmt.Errorf("%w: bad session id: %v", ErrLockCorrupt, err)
	}
	if doc.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrLockCorrupt)
	}
	if doc.Files == nil {
		return fmt.Errorf("%w: missing file map", ErrLockCorrupt)
	}
	for path, st := range doc.Files {
		switch st.Status {
		case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		default:
			return fmt.Errorf("%w: file %s has status %q", ErrLockCorrupt, path, st.Status)
		}
		if st.TransferredBytes > st.Size {
			return fmt.Errorf("%w: file %s transferred %d of %d", ErrLockCorrupt, path, st.TransferredBytes, st.Size)
		}
	}
	return nil
}

// Create initializes a fresh lock document for the incoming batch and
// persists it immediately.
func (m *LockManager) Create(senderEndpoint string, entries []wire.ManifestEntry) {
	doc := &lockDocument{
		Version:        lockVersion,
		SessionID:      uuid.NewString(),
		Timestamp:      m.now(),
		SenderEndpoint: senderEndpoint,
		TotalFiles:     len(entries),
		Files:          make(map[string]*FileState, len(entries)),
	}
	for _, e := range entries {
		doc.TotalSize += e.Size
		doc.Files[e.Path] = &FileState{
			Status:     StatusPending,
			Size:       e.Size,
			SourceHash: e.HashHex,
		}
	}
	m.doc = doc
	m.save()
}

// Classify compares the incoming manifest against the loaded document and
// produces the resume plan. Fresh files (new, changed size, changed source
// hash, or unverifiable state) have their records reset to pending; a
// changed source hash is additionally logged.
func (m *LockManager) Classify(entries []wire.ManifestEntry) Plan {
	plan := Plan{Completed: make(map[string]bool), Resume: make(map[string]uint64)}
	if m.doc == nil {
		return plan
	}
	for _, e := range entries {
		st, ok := m.doc.Files[e.Path]
		if !ok {
			m.doc.Files[e.Path] = &FileState{Status: StatusPending, Size: e.Size, SourceHash: e.HashHex}
			m.doc.TotalFiles++
			m.doc.TotalSize += e.Size
			continue
		}
		if st.SourceHash != "" && st.SourceHash != e.HashHex {
			m.warnf("source changed for %s, forcing fresh transfer", e.Path)
			m.resetEntry(st, e)
			continue
		}
		if st.Size != e.Size {
			m.resetEntry(st, e)
			continue
		}
		switch st.Status {
		case StatusCompleted:
			plan.Completed[e.Path] = true
		case StatusInProgress:
			if st.TransferredBytes > 0 && st.TransferredBytes < st.Size {
				// Partial hash verification happens lazily at the
				// writer's first chunk.
				plan.Resume[e.Path] = st.TransferredBytes
			} else {
				m.resetEntry(st, e)
			}
		default:
			m.resetEntry(st, e)
		}
	}
	m.save()
	return plan
}

func (m *LockManager) resetEntry(st *FileState, e wire.ManifestEntry) {
	st.Status = StatusPending
	st.Size = e.Size
	st.SourceHash = e.HashHex
	st.TransferredBytes = 0
	st.PartialHash = ""
}

// PartialHash returns the stored partial hash for a path, if any.
func (m *LockManager) PartialHash(path string) string {
	if m == nil || m.doc == nil {
		return ""
	}
	if st, ok := m.doc.Files[path]; ok {
		return st.PartialHash
	}
	return ""
}

// SessionID returns the persisted session identity.
func (m *LockManager) SessionID() string {
	if m.doc == nil {
		return ""
	}
	return m.doc.SessionID
}

// RecordProgress buffers a written-bytes update for a file. The running
// partial hash keeps the document's invariant that partial_hash always
// matches the first transferred_bytes bytes on disk.
func (m *LockManager) RecordProgress(path string, written uint64, partialHash string) {
	st := m.state(path)
	if st == nil {
		return
	}
	statusChanged := false
	if st.Status == StatusPending {
		st.Status = StatusInProgress
		statusChanged = true
	}
	if written > st.TransferredBytes {
		st.TransferredBytes = written
	}
	if partialHash != "" {
		st.PartialHash = partialHash
	}
	st.LastModified = m.now().Format(time.RFC3339)
	m.pending++
	if statusChanged || m.pending >= maxPending || m.now().Sub(m.lastFlush) >= flushInterval {
		m.Flush()
	}
}

// MarkInProgress records a resumed file picking up at written bytes.
func (m *LockManager) MarkInProgress(path string, written uint64) {
	st := m.state(path)
	if st == nil {
		return
	}
	st.Status = StatusInProgress
	st.TransferredBytes = written
	m.Flush()
}

// MarkCompleted records completion; the final hash doubles as the partial
// hash of the whole file.
func (m *LockManager) MarkCompleted(path, finalHash string) {
	st := m.state(path)
	if st == nil {
		return
	}
	st.Status = StatusCompleted
	st.TransferredBytes = st.Size
	st.PartialHash = finalHash
	st.LastModified = m.now().Format(time.RFC3339)
	m.Flush()
}

// MarkFailed records a failed file; its state survives for a later session.
func (m *LockManager) MarkFailed(path string) {
	st := m.state(path)
	if st == nil {
		return
	}
	st.Status = StatusFailed
	m.Flush()
}

// MarkPending resets a file to pending (retry reset); the only transition
// that moves written backwards.
func (m *LockManager) MarkPending(path string) {
	st := m.state(path)
	if st == nil {
		return
	}
	st.Status = StatusPending
	st.TransferredBytes = 0
	st.PartialHash = ""
	m.Flush()
}

func (m *LockManager) state(path string) *FileState {
	if m.doc == nil {
		return nil
	}
	return m.doc.Files[path]
}

// Flush persists buffered updates now. Called on every status change and
// at session teardown.
func (m *LockManager) Flush() {
	if m.doc == nil {
		return
	}
	m.save()
	m.pending = 0
	m.lastFlush = m.now()
}

// save writes the document with a write-temp, fsync, rename discipline so
// an interrupted write can never corrupt the previous state.
func (m *LockManager) save() {
	if m.doc == nil {
		return
	}
	data, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		m.warnf("failed to encode lock file: %v", err)
		return
	}
	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		m.warnf("failed to write lock file: %v", err)
		return
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		m.warnf("failed to write lock file: %v", err)
		return
	}
	if err := f.Sync(); err != nil {
		f.Close()
		m.warnf("failed to sync lock file: %v", err)
		return
	}
	if err := f.Close(); err != nil {
		m.warnf("failed to close lock file: %v", err)
		return
	}
	if err := os.Rename(tmp, m.path); err != nil {
		m.warnf("failed to replace lock file: %v", err)
	}
}

// CleanupOnSuccess removes the lock document after a fully successful
// transfer.
func (m *LockManager) CleanupOnSuccess() {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.warnf("failed to remove lock file: %v", err)
	}
	m.doc = nil
}

// Remove deletes any existing lock document, used when the user declines
// to resume.
func (m *LockManager) Remove() {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.warnf("failed to remove lock file: %v", err)
	}
	m.doc = nil
}
