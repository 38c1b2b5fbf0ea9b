package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshdrop/meshdrop/internal/overlay"
	"github.com/meshdrop/meshdrop/internal/progress"
	"github.com/meshdrop/meshdrop/internal/resource"
	"github.com/meshdrop/meshdrop/internal/secure"
	"github.com/meshdrop/meshdrop/internal/session"
	"github.com/meshdrop/meshdrop/internal/warnlog"
	"github.com/meshdrop/meshdrop/internal/wire"
	"github.com/meshdrop/meshdrop/pkg/manifest"
)

// connStringPattern matches the user-visible "<IPv4>:<word>-<word>" form.
var connStringPattern = regexp.MustCompile(`^(\d{1,3}(?:\.\d{1,3}){3}):([a-z]+-[a-z]+)$`)

// ReceiverOptions configures one receive session.
type ReceiverOptions struct {
	// ConnString is the sender-announced "ip:token".
	ConnString string
	Pod        bool
	// Overwrite replaces conflicting files atomically instead of
	// probing suffixed names.
	Overwrite bool
	// Resume continues from an existing lock document. Off means any
	// previous state is discarded first.
	Resume bool
	// DestDir is where files land; empty means the current directory.
	DestDir string
	// Port overrides the fixed transfer port (tests).
	Port int

	Logger   *slog.Logger
	Warnings *warnlog.Log
	Overlay  *overlay.Adapter
	Progress func(progress.Stats)
}

// Receiver owns the connecting side of a session: handshake, resume
// planning, the write loop, integrity verification, and retries.
type Receiver struct {
	opts  ReceiverOptions
	log   *slog.Logger
	warnf func(format string, args ...any)

	lock    *LockManager
	meter   *progress.Meter
	entries []wire.ManifestEntry
	offsets []uint64 // entry start offsets, ascending
	writers []*Writer
}

// NewReceiver prepares a receiver; all validation happens in Run.
func NewReceiver(opts ReceiverOptions) *Receiver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.DestDir == "" {
		opts.DestDir = "."
	}
	if opts.Port == 0 {
		opts.Port = Port
	}
	warnf := func(format string, args ...any) {
		opts.Warnings.Warnf(format, args...)
	}
	return &Receiver{opts: opts, log: log, warnf: warnf, meter: progress.NewMeter()}
}

// ParseConnString validates and splits an "ip:token" connection string.
func ParseConnString(s string) (ip, token string, err error) {
	m := connStringPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("%w: connection string must look like 100.64.1.2:ocean-tiger", ErrNetwork)
	}
	if parsed := net.ParseIP(m[1]); parsed == nil || parsed.To4() == nil {
		return "", "", fmt.Errorf("%w: %q is not a valid IPv4 address", ErrNetwork, m[1])
	}
	if !session.TokenPattern.MatchString(m[2]) {
		return "", "", fmt.Errorf("%w: malformed token", ErrNetwork)
	}
	return m[1], m[2], nil
}

// Run executes the full receiver state machine. The lock document survives
// every failure mode so an interrupted session can resume.
func (r *Receiver) Run(ctx context.Context) error {
	ip, token, err := ParseConnString(r.opts.ConnString)
	if err != nil {
		return err
	}
	if err := r.verifyPeer(ip); err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, r.opts.Port))
	if err != nil {
		return fmt.Errorf("%w: connect to %s: %v", ErrNetwork, ip, err)
	}
	defer conn.Close()
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	codec, err := r.handshake(conn, token)
	if err != nil {
		return err
	}

	man, err := r.readManifest(conn, codec)
	if err != nil {
		return err
	}
	codec.SetCompression(man.Compression)
	r.log.Info("manifest received", "session", man.SessionID,
		"files", len(man.Entries), "compression", man.Compression)

	if u, pressure := resource.CheckHeadroom(len(man.Entries)); pressure {
		r.warnf("descriptor pressure: %d open of %d limit with %d incoming files",
			u.Open, u.Limit, len(man.Entries))
	}

	plan := r.planResume(ip, man)
	defer r.lock.Flush()

	if err := r.buildWriters(plan); err != nil {
		return err
	}

	var total uint64
	for _, e := range man.Entries {
		total += e.Size
	}
	r.meter.Start(int64(total))
	for p := range plan.Completed {
		if e, ok := r.entryByPath(p); ok {
			r.meter.Skip(int64(e.Size))
		}
	}
	for _, n := range plan.Resume {
		r.meter.Skip(int64(n))
	}

	if err := r.writeLoop(conn, codec); err != nil {
		return err
	}

	r.lock.Flush()
	r.lock.CleanupOnSuccess()
	r.log.Info("transfer complete", "files", len(man.Entries))
	return nil
}

func (r *Receiver) verifyPeer(ip string) error {
	if r.opts.Pod {
		if ip != LocalhostIP {
			return fmt.Errorf("%w: pod mode connects only to %s", ErrAuthentication, LocalhostIP)
		}
		return nil
	}
	ok, name := r.opts.Overlay.VerifyPeer(ip)
	if !ok {
		r.warnf("refused to connect to unverified peer %s", ip)
		return fmt.Errorf("%w: %s is not an overlay peer", ErrAuthentication, ip)
	}
	r.log.Debug("peer verified", "ip", ip, "hostname", name)
	return nil
}

// handshake mirrors the sender's fixed order: read the sender's raw public
// key, send ours, derive.
func (r *Receiver) handshake(conn net.Conn, token string) (*wire.Codec, error) {
	sctx, err := secure.NewContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", secure.ErrHandshake, err)
	}
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	peerKey := make([]byte, secure.KeySize)
	if _, err := io.ReadFull(conn, peerKey); err != nil {
		return nil, fmt.Errorf("%w: read sender key: %v", ErrNetwork, err)
	}
	if _, err := conn.Write(sctx.PublicBytes()); err != nil {
		return nil, fmt.Errorf("%w: send public key: %v", ErrNetwork, err)
	}
	if err := sctx.DeriveSession(peerKey, token); err != nil {
		return nil, err
	}
	return wire.NewReceiverCodec(sctx, false), nil
}

// readManifest reads and validates the batch announcement. Every path is
// checked for safety before any disk write happens.
func (r *Receiver) readManifest(conn net.Conn, codec *wire.Codec) (wire.Manifest, error) {
	_ = conn.SetReadDeadline(time.Now().Add(manifestTimeout))
	msg, err := codec.ReadFrame(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		return wire.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	man, ok := msg.(wire.Manifest)
	if !ok {
		return wire.Manifest{}, fmt.Errorf("%w: expected manifest, got %T", wire.ErrProtocol, msg)
	}
	if man.Version != wire.ManifestVersion {
		return wire.Manifest{}, fmt.Errorf("%w: unsupported manifest version %q", wire.ErrProtocol, man.Version)
	}
	if _, err := uuid.Parse(man.SessionID); err != nil {
		return wire.Manifest{}, fmt.Errorf("%w: bad session id: %v", wire.ErrProtocol, err)
	}
	if len(man.Entries) == 0 {
		return wire.Manifest{}, fmt.Errorf("%w: empty manifest", wire.ErrProtocol)
	}
	seen := make(map[string]bool, len(man.Entries))
	for _, e := range man.Entries {
		if err := manifest.ValidatePath(e.Path); err != nil {
			return wire.Manifest{}, fmt.Errorf("%w: %v", ErrPathUnsafe, err)
		}
		if seen[e.Path] {
			return wire.Manifest{}, fmt.Errorf("%w: duplicate path %s", wire.ErrProtocol, e.Path)
		}
		seen[e.Path] = true
		if len(e.HashHex) != 64 {
			return wire.Manifest{}, fmt.Errorf("%w: bad hash for %s", wire.ErrProtocol, e.Path)
		}
	}
	return man, nil
}

// planResume loads or creates the lock document and classifies every entry
// as completed, partial, or fresh. It also warns about fresh files whose
// final targets already exist.
func (r *Receiver) planResume(senderIP string, man wire.Manifest) Plan {
	r.entries = man.Entries
	r.offsets = make([]uint64, len(man.Entries))
	var off uint64
	for i, e := range man.Entries {
		r.offsets[i] = off
		off += e.Size
	}

	r.lock = NewLockManager(r.opts.DestDir, r.warnf)
	r.lock.SweepStale()
	if !r.opts.Resume {
		r.lock.Remove()
	}

	var plan Plan
	if r.opts.Resume && r.lock.Load() {
		plan = r.lock.Classify(man.Entries)
		r.log.Info("resuming transfer",
			"completed", len(plan.Completed), "partial", len(plan.Resume),
			"fresh", len(man.Entries)-len(plan.Completed)-len(plan.Resume))
	} else {
		r.lock.Create(senderIP, man.Entries)
		plan = Plan{Completed: map[string]bool{}, Resume: map[string]uint64{}}
	}

	for _, e := range man.Entries {
		if plan.Completed[e.Path] || plan.Resume[e.Path] > 0 {
			continue
		}
		target := filepath.Join(r.opts.DestDir, filepath.FromSlash(e.Path))
		if _, err := os.Stat(target); err == nil {
			r.warnf("destination %s already exists (overwrite=%v)", e.Path, r.opts.Overwrite)
		}
	}
	return plan
}

// buildWriters instantiates one writer per non-completed entry, preloading
// resume offsets for partial files. Completed entries keep a nil slot; the
// write loop discards their byte ranges.
func (r *Receiver) buildWriters(plan Plan) error {
	r.writers = make([]*Writer, len(r.entries))
	for i, e := range r.entries {
		if plan.Completed[e.Path] {
			continue
		}
		w := NewWriter(r.opts.DestDir, e.Path, e.Size, e.HashHex, r.offsets[i], r.lock, r.opts.Overwrite, r.warnf)
		if err := w.Open(plan.Resume[e.Path]); err != nil {
			r.warnf("cannot prepare %s: %v", e.Path, err)
		}
		r.writers[i] = w
	}
	return nil
}

// writeLoop consumes frames until a verified end of stream, driving the
// per-attempt verify/retry cycle.
func (r *Receiver) writeLoop(conn net.Conn, codec *wire.Codec) error {
	attempt := 0
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleDataTimeout))
		msg, err := codec.ReadFrame(conn)
		_ = conn.SetReadDeadline(time.Time{})
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		switch frame := msg.(type) {
		case wire.FileData:
			if err := r.routeData(frame); err != nil {
				return err
			}
		case wire.EndOfStream:
			retryable, permanent := r.verifyAll()
			if len(retryable) == 0 && len(permanent) == 0 {
				return r.ackOK(conn, codec)
			}
			if len(retryable) == 0 || attempt >= maxRetryAttempts {
				for _, p := range retryable {
					r.warnf("integrity check failed for %s after %d retries", p, attempt)
				}
				_ = codec.WriteFrame(conn, wire.Ack{Status: wire.AckFailed})
				if len(retryable) == 0 {
					return fmt.Errorf("%w: %d file(s) failed on disk", ErrFilesystem, len(permanent))
				}
				return fmt.Errorf("%w: %d file(s) failed after %d retries",
					ErrIntegrity, len(retryable), attempt)
			}
			attempt++
			r.log.Info("requesting retry", "files", len(retryable), "attempt", attempt)
			for _, p := range retryable {
				if w := r.writerByPath(p); w != nil {
					if err := w.ResetForRetry(); err != nil {
						r.warnf("cannot reset %s for retry: %v", p, err)
					}
				}
			}
			if err := codec.WriteFrame(conn, wire.Retry{Paths: retryable}); err != nil {
				return fmt.Errorf("%w: send retry request: %v", ErrNetwork, err)
			}
		default:
			return fmt.Errorf("%w: unexpected %T in write loop", wire.ErrProtocol, msg)
		}
	}
}

// routeData addresses incoming bytes by absolute stream offset. A frame may
// span file boundaries; completed or failed ranges are decrypted and
// discarded. Data the writer already holds (resume) is skipped; data past
// the writer's cursor means the stream is inconsistent.
func (r *Receiver) routeData(frame wire.FileData) error {
	off := frame.Offset
	data := frame.Data
	for len(data) > 0 {
		idx := r.entryIndexFor(off)
		if idx < 0 {
			return fmt.Errorf("%w: data at offset %d outside stream", wire.ErrProtocol, off)
		}
		end := r.offsets[idx] + r.entries[idx].Size
		span := end - off
		if span > uint64(len(data)) {
			span = uint64(len(data))
		}

		w := r.writers[idx]
		if w != nil && !w.Completed() && !w.Failed() {
			next := w.NextOffset()
			switch {
			case off+span <= next:
				// Entirely before the cursor: resumed bytes, drop.
			case off > next:
				return fmt.Errorf("%w: gap in stream for %s at offset %d", wire.ErrProtocol, w.Path(), off)
			default:
				skip := next - off
				chunk := data[skip:span]
				if err := w.WriteChunk(chunk); err != nil {
					// Per-file failures are survivable; the file is
					// marked and retried or reported.
					r.warnf("%v", err)
				}
				r.meter.Add(len(chunk))
				if r.opts.Progress != nil {
					r.opts.Progress(r.meter.Snapshot())
				}
			}
		}

		off += span
		data = data[span:]
	}
	return nil
}

// entryIndexFor finds the entry whose byte range contains off.
func (r *Receiver) entryIndexFor(off uint64) int {
	n := len(r.offsets)
	i := sort.Search(n, func(i int) bool { return r.offsets[i] > off })
	if i == 0 {
		return -1
	}
	i--
	if off >= r.offsets[i]+r.entries[i].Size {
		return -1
	}
	return i
}

// verifyAll finalizes writers after an end-of-stream. Retryable failures
// (hash mismatch, short files) go back to the sender; disk-level failures
// are permanent for this session and left to the lock document.
func (r *Receiver) verifyAll() (retryable, permanent []string) {
	for _, w := range r.writers {
		if w == nil || w.Completed() {
			continue
		}
		if !w.Failed() && w.Written() == w.Size() {
			if err := w.Complete(); err != nil {
				r.warnf("%v", err)
			}
		}
		switch {
		case w.Completed():
		case w.FSFailed():
			permanent = append(permanent, w.Path())
		default:
			retryable = append(retryable, w.Path())
		}
	}
	return retryable, permanent
}

func (r *Receiver) ackOK(conn net.Conn, codec *wire.Codec) error {
	if err := codec.WriteFrame(conn, wire.Ack{Status: wire.AckOK}); err != nil {
		return fmt.Errorf("%w: send ack: %v", ErrNetwork, err)
	}
	return nil
}

func (r *Receiver) writerByPath(p string) *Writer {
	for _, w := range r.writers {
		if w != nil && w.Path() == p {
			return w
		}
	}
	return nil
}

func (r *Receiver) entryByPath(p string) (wire.ManifestEntry, bool) {
	for _, e := range r.entries {
		if e.Path == p {
			return e, true
		}
	}
	return wire.ManifestEntry{}, false
}
