// Package session holds the ephemeral per-transfer descriptor and the
// human-communicable token that binds the handshake.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session describes one established transfer session. It lives on both
// sides for the duration of the connection; only the receiver persists any
// of it (inside the lock document).
type Session struct {
	ID             string    `json:"session_id"`
	SenderEndpoint string    `json:"sender_endpoint"`
	PeerEndpoint   string    `json:"peer_endpoint"`
	Token          string    `json:"-"`
	Compression    bool      `json:"compression"`
	StartedAt      time.Time `json:"started_at"`
}

// New creates a descriptor with a fresh random session ID.
func New(senderEndpoint, peerEndpoint, token string, compression bool) Session {
	return Session{
		ID:             uuid.NewString(),
		SenderEndpoint: senderEndpoint,
		PeerEndpoint:   peerEndpoint,
		Token:          token,
		Compression:    compression,
		StartedAt:      time.Now(),
	}
}
