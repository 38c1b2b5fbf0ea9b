package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pair(t *testing.T, token string) (*Context, *Context) {
	t.Helper()
	a, err := NewContext()
	require.NoError(t, err)
	b, err := NewContext()
	require.NoError(t, err)
	require.NoError(t, a.DeriveSession(b.PublicBytes(), token))
	require.NoError(t, b.DeriveSession(a.PublicBytes(), token))
	return a, b
}

func TestRoundTrip(t *testing.T) {
	a, b := pair(t, "ocean-tiger")
	nonce := make([]byte, NonceSize)
	nonce[11] = 1

	ct, err := a.Encrypt(nonce, []byte("hello over the overlay"))
	require.NoError(t, err)
	assert.Len(t, ct, len("hello over the overlay")+Overhead)

	pt, err := b.Decrypt(nonce, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello over the overlay"), pt)
}

func TestTamperedCiphertext(t *testing.T) {
	a, b := pair(t, "ocean-tiger")
	nonce := make([]byte, NonceSize)

	ct, err := a.Encrypt(nonce, []byte("payload"))
	require.NoError(t, err)
	ct[3] ^= 0x40

	pt, err := b.Decrypt(nonce, ct)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Nil(t, pt)
}

func TestTokenMismatch(t *testing.T) {
	a, err := NewContext()
	require.NoError(t, err)
	b, err := NewContext()
	require.NoError(t, err)
	require.NoError(t, a.DeriveSession(b.PublicBytes(), "ocean-tiger"))
	require.NoError(t, b.DeriveSession(a.PublicBytes(), "forest-wolf"))

	nonce := make([]byte, NonceSize)
	ct, err := a.Encrypt(nonce, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Decrypt(nonce, ct)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestBadPeerKeyLength(t *testing.T) {
	a, err := NewContext()
	require.NoError(t, err)
	err = a.DeriveSession(make([]byte, 31), "ocean-tiger")
	assert.ErrorIs(t, err, ErrHandshake)
	assert.False(t, a.Ready())

	_, err = a.Encrypt(make([]byte, NonceSize), []byte("x"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestPublicBytes(t *testing.T) {
	a, err := NewContext()
	require.NoError(t, err)
	pk := a.PublicBytes()
	require.Len(t, pk, KeySize)
	assert.False(t, bytes.Equal(pk, make([]byte, KeySize)))

	b, err := NewContext()
	require.NoError(t, err)
	assert.False(t, bytes.Equal(pk, b.PublicBytes()))
}
