// Package wire implements the framed session protocol: length-prefixed
// AEAD frames with deterministic per-direction nonces, typed payloads, and
// the negotiated block-compression hook for file data.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/meshdrop/meshdrop/internal/secure"
)

// Frame tags. A frame's plaintext starts with exactly one of these.
const (
	TagManifest    = byte(0x01)
	TagFileData    = byte(0x02)
	TagRetry       = byte(0x03)
	TagEndOfStream = byte(0x04)
	TagAck         = byte(0x05)
)

// Ack status values.
const (
	AckOK     = byte(0x01)
	AckFailed = byte(0x00)
)

// Directions feeding the nonce construction.
const (
	DirSender   = uint32(0) // sender -> receiver
	DirReceiver = uint32(1) // receiver -> sender (retry/control)
)

const (
	// MaxDataChunk is the largest file-data payload per frame, before
	// compression and after decompression.
	MaxDataChunk = 1 << 20
	// MaxManifestPlaintext caps a Manifest frame's plaintext.
	MaxManifestPlaintext = 16 << 20

	fileDataHeader = 1 + 8 // tag + stream offset
	// compressBound leaves room for LZ4 frame headers around an
	// incompressible 1 MiB block.
	compressBound = MaxDataChunk + 256

	maxCiphertext = 1 + MaxManifestPlaintext + secure.Overhead
)

// ErrProtocol indicates a malformed, oversized, or out-of-sequence frame.
var ErrProtocol = errors.New("wire: protocol error")

// Message is one decoded frame payload.
type Message interface {
	tag() byte
}

// ManifestEntry is one file announcement inside a Manifest frame.
type ManifestEntry struct {
	Path    string `json:"path"`
	Size    uint64 `json:"size"`
	HashHex string `json:"hash_hex"`
}

// Manifest announces the batch: session identity, compression flag, and the
// ordered file entries. Stream offsets are implied by entry order.
type Manifest struct {
	Version     string          `json:"version"`
	SessionID   string          `json:"session_id"`
	Compression bool            `json:"compression"`
	Entries     []ManifestEntry `json:"entries"`
}

func (Manifest) tag() byte { return TagManifest }

// ManifestVersion is the wire manifest document version.
const ManifestVersion = "1"

// FileData carries a contiguous run of stream bytes starting at Offset.
type FileData struct {
	Offset uint64
	Data   []byte
}

func (FileData) tag() byte { return TagFileData }

// Retry asks the sender to re-stream the listed files.
type Retry struct {
	Paths []string
}

func (Retry) tag() byte { return TagRetry }

// EndOfStream marks the end of one streaming pass.
type EndOfStream struct{}

func (EndOfStream) tag() byte { return TagEndOfStream }

// Ack closes the session with a status byte.
type Ack struct {
	Status byte
}

func (Ack) tag() byte { return TagAck }

// Codec frames messages over one direction pair of a session. Each side
// creates its own codec right after key derivation; counters start at zero
// and advance one per frame per direction, which makes every nonce under
// the session key unique and independently predictable by both parties.
type Codec struct {
	ctx      *secure.Context
	compress bool

	sendDir uint32
	sendSeq uint64
	recvDir uint32
	recvSeq uint64
}

// NewSenderCodec returns the sender-side codec (writes direction 0).
func NewSenderCodec(ctx *secure.Context, compress bool) *Codec {
	return &Codec{ctx: ctx, compress: compress, sendDir: DirSender, recvDir: DirReceiver}
}

// NewReceiverCodec returns the receiver-side codec (writes direction 1).
func NewReceiverCodec(ctx *secure.Context, compress bool) *Codec {
	return &Codec{ctx: ctx, compress: compress, sendDir: DirReceiver, recvDir: DirSender}
}

// SetCompression flips the negotiated compression flag. The receiver calls
// this after decoding the manifest, before the first FileData frame.
func (c *Codec) SetCompression(on bool) {
	c.compress = on
}

// Nonce returns the deterministic nonce for a direction and frame counter:
// u32be(direction) || u64be(counter).
func Nonce(dir uint32, seq uint64) []byte {
	n := make([]byte, secure.NonceSize)
	binary.BigEndian.PutUint32(n[0:4], dir)
	binary.BigEndian.PutUint64(n[4:12], seq)
	return n
}

// WriteFrame encodes, seals, and writes one message.
func (c *Codec) WriteFrame(w io.Writer, m Message) error {
	plain, err := c.encodePayload(m)
	if err != nil {
		return err
	}
	nonce := Nonce(c.sendDir, c.sendSeq)
	ct, err := c.ctx.Encrypt(nonce, plain)
	if err != nil {
		return err
	}
	header := make([]byte, 4, 4+secure.NonceSize)
	binary.BigEndian.PutUint32(header, uint32(len(ct)))
	header = append(header, nonce...)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(ct); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	c.sendSeq++
	return nil
}

// ReadFrame reads, verifies, and decodes one message. The wire nonce must
// match the locally computed expectation for this direction and counter;
// anything else is treated as a desynchronized or replayed stream.
func (c *Codec) ReadFrame(r io.Reader) (Message, error) {
	var header [4 + secure.NonceSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	ctLen := binary.BigEndian.Uint32(header[:4])
	if ctLen < secure.Overhead+1 || ctLen > maxCiphertext {
		return nil, fmt.Errorf("%w: ciphertext length %d out of range", ErrProtocol, ctLen)
	}
	expected := Nonce(c.recvDir, c.recvSeq)
	wireNonce := header[4:]
	for i := range expected {
		if wireNonce[i] != expected[i] {
			return nil, fmt.Errorf("%w: nonce out of sequence", ErrProtocol)
		}
	}

	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(r, ct); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	plain, err := c.ctx.Decrypt(expected, ct)
	if err != nil {
		return nil, err
	}
	c.recvSeq++
	return c.decodePayload(plain)
}

func (c *Codec) encodePayload(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Manifest:
		doc, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal manifest: %w", err)
		}
		if len(doc) > MaxManifestPlaintext {
			return nil, fmt.Errorf("%w: manifest of %d bytes exceeds cap", ErrProtocol, len(doc))
		}
		return append([]byte{TagManifest}, doc...), nil
	case FileData:
		if len(msg.Data) > MaxDataChunk {
			return nil, fmt.Errorf("%w: data chunk of %d bytes exceeds cap", ErrProtocol, len(msg.Data))
		}
		data := msg.Data
		if c.compress {
			packed, err := compressBlock(data)
			if err != nil {
				return nil, err
			}
			data = packed
		}
		out := make([]byte, fileDataHeader, fileDataHeader+len(data))
		out[0] = TagFileData
		binary.BigEndian.PutUint64(out[1:9], msg.Offset)
		return append(out, data...), nil
	case Retry:
		doc, err := json.Marshal(msg.Paths)
		if err != nil {
			return nil, fmt.Errorf("marshal retry request: %w", err)
		}
		return append([]byte{TagRetry}, doc...), nil
	case EndOfStream:
		return []byte{TagEndOfStream}, nil
	case Ack:
		return []byte{TagAck, msg.Status}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %T", ErrProtocol, m)
	}
}

func (c *Codec) decodePayload(plain []byte) (Message, error) {
	if len(plain) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	body := plain[1:]
	switch plain[0] {
	case TagManifest:
		if len(body) > MaxManifestPlaintext {
			return nil, fmt.Errorf("%w: manifest of %d bytes exceeds cap", ErrProtocol, len(body))
		}
		var m Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("%w: bad manifest document: %v", ErrProtocol, err)
		}
		return m, nil
	case TagFileData:
		if len(body) < 8 {
			return nil, fmt.Errorf("%w: truncated file data frame", ErrProtocol)
		}
		offset := binary.BigEndian.Uint64(body[:8])
		data := body[8:]
		if c.compress {
			if len(data) > compressBound {
				return nil, fmt.Errorf("%w: compressed block of %d bytes exceeds cap", ErrProtocol, len(data))
			}
			raw, err := decompressBlock(data, MaxDataChunk)
			if err != nil {
				return nil, err
			}
			data = raw
		} else if len(data) > MaxDataChunk {
			return nil, fmt.Errorf("%w: data chunk of %d bytes exceeds cap", ErrProtocol, len(data))
		}
		return FileData{Offset: offset, Data: data}, nil
	case TagRetry:
		var paths []string
		if err := json.Unmarshal(body, &paths); err != nil {
			return nil, fmt.Errorf("%w: bad retry request: %v", ErrProtocol, err)
		}
		return Retry{Paths: paths}, nil
	case TagEndOfStream:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: end-of-stream frame with payload", ErrProtocol)
		}
		return EndOfStream{}, nil
	case TagAck:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: ack frame without status", ErrProtocol)
		}
		return Ack{Status: body[0]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame tag 0x%02x", ErrProtocol, plain[0])
	}
}
