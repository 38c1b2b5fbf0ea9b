// Package transfer implements both halves of a session: the listening
// sender, the connecting receiver, the per-file incremental writers, and
// the durable resume state.
package transfer

import "errors"

// Session failure taxonomy. Wire-level and crypto-level failures surface as
// wire.ErrProtocol, secure.ErrAuthFailed, and secure.ErrHandshake; callers
// classify with errors.Is.
var (
	// ErrNetwork covers bind, connect, timeout, unexpected EOF, and a
	// missing local overlay endpoint.
	ErrNetwork = errors.New("transfer: network error")
	// ErrAuthentication covers failed overlay peer verification, or a
	// non-localhost peer in pod mode.
	ErrAuthentication = errors.New("transfer: peer not authenticated")
	// ErrIntegrity is a file hash mismatch that survived all retries.
	ErrIntegrity = errors.New("transfer: integrity check failed")
	// ErrPathUnsafe is a manifest path that could escape the destination.
	ErrPathUnsafe = errors.New("transfer: unsafe path in manifest")
	// ErrFilesystem is a non-recoverable disk error.
	ErrFilesystem = errors.New("transfer: filesystem error")
	// ErrLockCorrupt marks an unreadable lock document; non-fatal, the
	// document is treated as absent.
	ErrLockCorrupt = errors.New("transfer: lock document corrupt")
)
