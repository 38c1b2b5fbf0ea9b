package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// compressBlock wraps data in an LZ4 frame at the fastest level. Speed over
// ratio: the payload is re-framed per chunk, so latency matters more than
// the last few percent of compression.
func compressBlock(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, fmt.Errorf("configure compressor: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed block: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressBlock expands an LZ4 frame, rejecting output beyond max bytes.
func decompressBlock(data []byte, max int) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(io.LimitReader(zr, int64(max)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: bad compressed block: %v", ErrProtocol, err)
	}
	if len(out) > max {
		return nil, fmt.Errorf("%w: decompressed block exceeds %d bytes", ErrProtocol, max)
	}
	return out, nil
}
