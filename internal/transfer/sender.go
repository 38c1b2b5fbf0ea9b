package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/meshdrop/meshdrop/internal/bufpool"
	"github.com/meshdrop/meshdrop/internal/overlay"
	"github.com/meshdrop/meshdrop/internal/progress"
	"github.com/meshdrop/meshdrop/internal/secure"
	"github.com/meshdrop/meshdrop/internal/session"
	"github.com/meshdrop/meshdrop/internal/warnlog"
	"github.com/meshdrop/meshdrop/internal/wire"
	"github.com/meshdrop/meshdrop/pkg/manifest"
)

const (
	// Port is the fixed transfer endpoint.
	Port = 15820

	// LocalhostIP is the only peer accepted in pod mode.
	LocalhostIP = "127.0.0.1"

	acceptTimeout    = 300 * time.Second
	connectTimeout   = 30 * time.Second
	handshakeTimeout = 30 * time.Second
	manifestTimeout  = 120 * time.Second
	retryReadTimeout = 120 * time.Second
	idleDataTimeout  = 60 * time.Second

	maxRetryAttempts = 3

	chunkSize = 1 << 20
)

var chunkPool = bufpool.New(chunkSize)

// SenderOptions configures one send session.
type SenderOptions struct {
	Paths    []string
	Excludes []string
	SkipJunk bool
	Pod      bool
	Compress bool

	// ListenAddr overrides the bind address (tests). Empty means the
	// fixed port on all interfaces, or localhost in pod mode.
	ListenAddr string

	Logger   *slog.Logger
	Warnings *warnlog.Log
	Overlay  *overlay.Adapter

	// Announce receives the connection string once the listener is up.
	Announce func(endpoint, token string)
	// OnListening reports the bound address (tests use ephemeral ports).
	OnListening func(addr net.Addr)
	// Progress receives throttle-free progress snapshots. May be nil.
	Progress func(progress.Stats)
}

// Sender owns the listening side of a session: it enumerates the batch,
// accepts exactly one verified peer, performs the handshake, streams every
// file in manifest order, and honors selective retry requests.
type Sender struct {
	opts  SenderOptions
	log   *slog.Logger
	warnf func(format string, args ...any)

	files manifest.Manifest
	meter *progress.Meter
}

// NewSender validates nothing eagerly; all work happens in Run.
func NewSender(opts SenderOptions) *Sender {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	warnf := func(format string, args ...any) {
		opts.Warnings.Warnf(format, args...)
	}
	return &Sender{opts: opts, log: log, warnf: warnf, meter: progress.NewMeter()}
}

// Run executes the full sender state machine and blocks until the session
// completes or fails. The context cancels the accept wait.
func (s *Sender) Run(ctx context.Context) error {
	m, err := manifest.Scan(s.opts.Paths, manifest.Options{
		Excludes: s.opts.Excludes,
		SkipJunk: s.opts.SkipJunk,
		Warnf:    s.warnf,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilesystem, err)
	}
	if len(m.Entries) == 0 {
		return fmt.Errorf("%w: nothing to send", ErrFilesystem)
	}
	s.files = m

	endpoint := LocalhostIP
	if !s.opts.Pod {
		ep, ok := s.opts.Overlay.LocalEndpoint()
		if !ok {
			return fmt.Errorf("%w: overlay endpoint unavailable", ErrNetwork)
		}
		endpoint = ep
	}

	addr := s.opts.ListenAddr
	if addr == "" {
		if s.opts.Pod {
			addr = fmt.Sprintf("%s:%d", LocalhostIP, Port)
		} else {
			addr = fmt.Sprintf(":%d", Port)
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: bind %s: %v", ErrNetwork, addr, err)
	}
	defer ln.Close()
	if s.opts.OnListening != nil {
		s.opts.OnListening(ln.Addr())
	}

	token := session.GenerateToken()
	if s.opts.Announce != nil {
		s.opts.Announce(endpoint, token)
	}
	s.log.Info("waiting for receiver", "endpoint", endpoint, "files", len(m.Entries),
		"bytes", m.TotalBytes)

	conn, err := s.accept(ctx, ln)
	if err != nil {
		return err
	}
	defer conn.Close()

	peerIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if err := s.verifyPeer(peerIP); err != nil {
		return err
	}

	codec, sess, err := s.handshake(conn, endpoint, peerIP, token)
	if err != nil {
		return err
	}
	s.log.Info("session established", "session", sess.ID, "peer", peerIP,
		"compression", sess.Compression)

	entries := make([]wire.ManifestEntry, len(m.Entries))
	for i, e := range m.Entries {
		entries[i] = wire.ManifestEntry{Path: e.Path, Size: e.Size, HashHex: e.HashHex()}
	}
	if err := codec.WriteFrame(conn, wire.Manifest{
		Version:     wire.ManifestVersion,
		SessionID:   sess.ID,
		Compression: sess.Compression,
		Entries:     entries,
	}); err != nil {
		return fmt.Errorf("%w: send manifest: %v", ErrNetwork, err)
	}

	s.meter.Start(int64(m.TotalBytes))
	if err := s.streamAll(conn, codec, m.Entries); err != nil {
		return err
	}
	if err := codec.WriteFrame(conn, wire.EndOfStream{}); err != nil {
		return fmt.Errorf("%w: send end of stream: %v", ErrNetwork, err)
	}

	return s.retryLoop(conn, codec)
}

func (s *Sender) accept(ctx context.Context, ln net.Listener) (*net.TCPConn, error) {
	tcpLn := ln.(*net.TCPListener)
	deadline := time.Now().Add(acceptTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := tcpLn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = tcpLn.SetDeadline(time.Now()) })
	defer stop()
	conn, err := tcpLn.AcceptTCP()
	if err != nil {
		s.warnf("no receiver connected: %v", err)
		return nil, fmt.Errorf("%w: accept: %v", ErrNetwork, err)
	}
	_ = conn.SetNoDelay(true)
	return conn, nil
}

func (s *Sender) verifyPeer(peerIP string) error {
	if s.opts.Pod {
		if peerIP != LocalhostIP {
			s.warnf("rejected non-localhost peer %s in pod mode", peerIP)
			return fmt.Errorf("%w: pod mode accepts only %s", ErrAuthentication, LocalhostIP)
		}
		return nil
	}
	ok, name := s.opts.Overlay.VerifyPeer(peerIP)
	if !ok {
		s.warnf("rejected unverified peer %s", peerIP)
		return fmt.Errorf("%w: %s is not an overlay peer", ErrAuthentication, peerIP)
	}
	s.log.Debug("peer verified", "ip", peerIP, "hostname", name)
	return nil
}

// handshake exchanges raw public keys (sender writes first) and derives
// the session key bound to the token.
func (s *Sender) handshake(conn net.Conn, endpoint, peerIP, token string) (*wire.Codec, session.Session, error) {
	sctx, err := secure.NewContext()
	if err != nil {
		return nil, session.Session{}, fmt.Errorf("%w: %v", secure.ErrHandshake, err)
	}
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(sctx.PublicBytes()); err != nil {
		return nil, session.Session{}, fmt.Errorf("%w: send public key: %v", ErrNetwork, err)
	}
	peerKey := make([]byte, secure.KeySize)
	if _, err := io.ReadFull(conn, peerKey); err != nil {
		return nil, session.Session{}, fmt.Errorf("%w: read peer key: %v", ErrNetwork, err)
	}
	if err := sctx.DeriveSession(peerKey, token); err != nil {
		return nil, session.Session{}, err
	}
	sess := session.New(endpoint, peerIP, token, s.opts.Compress)
	return wire.NewSenderCodec(sctx, s.opts.Compress), sess, nil
}

func (s *Sender) streamAll(conn net.Conn, codec *wire.Codec, entries []manifest.Entry) error {
	for _, e := range entries {
		if err := s.streamFile(conn, codec, e); err != nil {
			return err
		}
	}
	return nil
}

// streamFile reads one file through the chunk buffer, hashing as it goes,
// and frames every chunk at its absolute stream offset. Frames never span
// two files. A source that changed since enumeration is logged; the
// receiver's integrity check and retry drive recovery.
func (s *Sender) streamFile(conn net.Conn, codec *wire.Codec, e manifest.Entry) error {
	f, err := os.Open(e.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrFilesystem, e.Path, err)
	}
	defer f.Close()

	buf := chunkPool.Get()
	defer chunkPool.Put(buf)

	hasher := sha256.New()
	var sent uint64
	for sent < e.Size {
		want := e.Size - sent
		if want > uint64(len(buf)) {
			want = uint64(len(buf))
		}
		n, err := io.ReadFull(f, buf[:want])
		if n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("%w: read %s: %v", ErrFilesystem, e.Path, err)
		}
		chunk := buf[:n]
		hasher.Write(chunk)
		if err := codec.WriteFrame(conn, wire.FileData{Offset: e.Offset + sent, Data: chunk}); err != nil {
			return fmt.Errorf("%w: send %s: %v", ErrNetwork, e.Path, err)
		}
		sent += uint64(n)
		s.meter.Add(n)
		if s.opts.Progress != nil {
			s.opts.Progress(s.meter.Snapshot())
		}
	}
	if sum := hex.EncodeToString(hasher.Sum(nil)); sum != e.HashHex() {
		s.warnf("source %s changed while streaming (hash drift), receiver will retry", e.Path)
	}
	return nil
}

// retryLoop serves RetryRequest frames until the receiver acknowledges.
func (s *Sender) retryLoop(conn net.Conn, codec *wire.Codec) error {
	for attempt := 0; ; attempt++ {
		_ = conn.SetReadDeadline(time.Now().Add(retryReadTimeout))
		msg, err := codec.ReadFrame(conn)
		_ = conn.SetReadDeadline(time.Time{})
		if err != nil {
			return fmt.Errorf("%w: await receiver verdict: %v", ErrNetwork, err)
		}
		switch req := msg.(type) {
		case wire.Ack:
			if req.Status != wire.AckOK {
				return fmt.Errorf("%w: receiver reported failed files", ErrIntegrity)
			}
			s.log.Info("transfer complete")
			return nil
		case wire.Retry:
			if attempt >= maxRetryAttempts {
				return fmt.Errorf("%w: retry budget exhausted", ErrIntegrity)
			}
			s.log.Info("re-streaming files", "count", len(req.Paths), "attempt", attempt+1)
			for _, p := range req.Paths {
				e, ok := s.entryByPath(p)
				if !ok {
					return fmt.Errorf("%w: retry for unknown file %s", wire.ErrProtocol, p)
				}
				if err := s.streamFile(conn, codec, e); err != nil {
					return err
				}
			}
			if err := codec.WriteFrame(conn, wire.EndOfStream{}); err != nil {
				return fmt.Errorf("%w: send end of stream: %v", ErrNetwork, err)
			}
		default:
			return fmt.Errorf("%w: unexpected %T during retry loop", wire.ErrProtocol, msg)
		}
	}
}

func (s *Sender) entryByPath(p string) (manifest.Entry, bool) {
	for _, e := range s.files.Entries {
		if e.Path == p {
			return e, true
		}
	}
	return manifest.Entry{}, false
}
