// Package secure implements the per-session cryptography: an ephemeral
// X25519 key pair, ECDH+HKDF-SHA256 session key derivation bound to the
// shared token, and ChaCha20-Poly1305 authenticated encryption.
package secure

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the raw X25519 public key length on the wire.
	KeySize = 32
	// NonceSize is the AEAD nonce length.
	NonceSize = chacha20poly1305.NonceSize
	// Overhead is the AEAD tag length added to every ciphertext.
	Overhead = chacha20poly1305.Overhead
)

var (
	// ErrAuthFailed indicates an AEAD tag that did not verify.
	ErrAuthFailed = errors.New("secure: authentication failed")
	// ErrHandshake indicates a malformed peer key or key derivation failure.
	ErrHandshake = errors.New("secure: handshake failed")
	// ErrNoSession indicates use of the cipher before DeriveSession.
	ErrNoSession = errors.New("secure: session key not established")
)

var hkdfInfo = []byte("session")

// Context holds one side's ephemeral key material and, after DeriveSession,
// the session cipher. Nonce management belongs to the frame codec; the
// context never retains nonces.
type Context struct {
	private [KeySize]byte
	public  [KeySize]byte
	aead    cipher.AEAD
}

// NewContext generates a fresh X25519 key pair from the platform CSPRNG.
func NewContext() (*Context, error) {
	c := &Context{}
	if _, err := io.ReadFull(rand.Reader, c.private[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := curve25519.X25519(c.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	copy(c.public[:], pub)
	return c, nil
}

// PublicBytes returns the raw 32-byte public key encoding.
func (c *Context) PublicBytes() []byte {
	out := make([]byte, KeySize)
	copy(out, c.public[:])
	return out
}

// DeriveSession computes the X25519 shared secret with the peer, derives a
// 32-byte session key via HKDF-SHA256 salted with the token, and arms the
// AEAD cipher. On any failure the cipher stays unset.
func (c *Context) DeriveSession(peerPublic []byte, token string) error {
	if len(peerPublic) != KeySize {
		return fmt.Errorf("%w: peer key is %d bytes, want %d", ErrHandshake, len(peerPublic), KeySize)
	}
	shared, err := curve25519.X25519(c.private[:], peerPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, shared, []byte(token), hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	c.aead = aead
	return nil
}

// Ready reports whether DeriveSession has succeeded.
func (c *Context) Ready() bool {
	return c.aead != nil
}

// Encrypt seals plaintext under the session key. The ciphertext is
// len(plaintext)+Overhead bytes.
func (c *Context) Encrypt(nonce, plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoSession
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrHandshake, len(nonce), NonceSize)
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext. A failed tag check returns ErrAuthFailed and no
// plaintext.
func (c *Context) Decrypt(nonce, ciphertext []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNoSession
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrHandshake, len(nonce), NonceSize)
	}
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}
