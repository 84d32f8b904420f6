package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/yshengliao/swcache/pkg/pool"
)

const (
	encodingIdentity = ""
	encodingBrotli   = "br"

	// Bodies smaller than this are stored as-is.
	minCompressSize = 1024
)

var buffers = pool.NewBufferPool(pool.DefaultMaxRetained)

func compressBody(body []byte, level int) ([]byte, string, error) {
	if len(body) < minCompressSize {
		return body, encodingIdentity, nil
	}
	buf := buffers.Get()
	defer buffers.Put(buf)
	w := brotli.NewWriterLevel(buf, level)
	if _, err := w.Write(body); err != nil {
		return nil, "", fmt.Errorf("compress body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("compress body: %w", err)
	}
	if buf.Len() >= len(body) {
		return body, encodingIdentity, nil
	}
	return bytes.Clone(buf.Bytes()), encodingBrotli, nil
}

func decompressBody(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case encodingIdentity:
		return data, nil
	case encodingBrotli:
		buf := buffers.Get()
		defer buffers.Put(buf)
		if _, err := io.Copy(buf, brotli.NewReader(bytes.NewReader(data))); err != nil {
			return nil, fmt.Errorf("decompress body: %w", err)
		}
		return bytes.Clone(buf.Bytes()), nil
	default:
		return nil, fmt.Errorf("unsupported body encoding %q", encoding)
	}
}
